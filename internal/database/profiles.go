package database

import (
	"database/sql"
	"fmt"
	"time"
)

// UserProfile represents a local user's Strava connection
type UserProfile struct {
	UserID         string
	StravaID       string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenExpired reports whether the stored access token is no longer
// usable at the given instant. There is no refresh path: an expired
// token is a hard stop until the user reconnects.
func (p *UserProfile) TokenExpired(now time.Time) bool {
	return !p.TokenExpiresAt.After(now)
}

// StravaConnection holds the provider credentials saved on connect
type StravaConnection struct {
	StravaID     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // epoch seconds as returned by the provider
}

// GetProfile retrieves a profile by local user ID
func (db *DB) GetProfile(userID string) (*UserProfile, error) {
	return db.scanProfile(db.conn.QueryRow(`
		SELECT id, strava_id, access_token, refresh_token, token_expires_at,
		       created_at, updated_at
		FROM user_profiles WHERE id = ?
	`, userID))
}

// GetProfileByStravaID retrieves a profile by Strava athlete ID.
// Returns nil, nil when no local user matches: webhook events for
// unregistered athletes are an expected miss, not an error.
func (db *DB) GetProfileByStravaID(stravaID string) (*UserProfile, error) {
	profile, err := db.scanProfile(db.conn.QueryRow(`
		SELECT id, strava_id, access_token, refresh_token, token_expires_at,
		       created_at, updated_at
		FROM user_profiles WHERE strava_id = ?
	`, stravaID))
	if err == ErrProfileNotFound {
		return nil, nil
	}
	return profile, err
}

// SaveConnection upserts a user's Strava connection, converting the
// provider's epoch-seconds expiry to an absolute timestamp
func (db *DB) SaveConnection(userID string, conn StravaConnection) error {
	now := time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO user_profiles (
			id, strava_id, access_token, refresh_token, token_expires_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			strava_id = excluded.strava_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			updated_at = excluded.updated_at
	`, userID, conn.StravaID, conn.AccessToken, conn.RefreshToken,
		conn.ExpiresAt, now, now)

	if err != nil {
		return fmt.Errorf("failed to save strava connection: %w", err)
	}
	return nil
}

func (db *DB) scanProfile(row *sql.Row) (*UserProfile, error) {
	var p UserProfile
	var expiresAt, createdAt, updatedAt int64

	err := row.Scan(&p.UserID, &p.StravaID, &p.AccessToken, &p.RefreshToken,
		&expiresAt, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	p.TokenExpiresAt = time.Unix(expiresAt, 0)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}
