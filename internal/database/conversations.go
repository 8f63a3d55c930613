package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Message is one turn in a coaching conversation
type Message struct {
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation holds the ordered chat history for a (user, run) pair
type Conversation struct {
	ID        int64
	UserID    string
	RunID     int64
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GetConversation retrieves the conversation for a (user, run) pair.
// Returns nil, nil when none exists.
func (db *DB) GetConversation(userID string, runID int64) (*Conversation, error) {
	var c Conversation
	var messagesJSON string
	var createdAt, updatedAt int64

	err := db.conn.QueryRow(`
		SELECT id, user_id, run_id, messages, created_at, updated_at
		FROM conversations WHERE user_id = ? AND run_id = ?
	`, userID, runID).Scan(&c.ID, &c.UserID, &c.RunID, &messagesJSON,
		&createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &c.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

// CreateConversation starts a conversation for a (user, run) pair
func (db *DB) CreateConversation(userID string, runID int64, messages []Message) error {
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	now := time.Now().Unix()
	_, err = db.conn.Exec(`
		INSERT INTO conversations (user_id, run_id, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, runID, string(messagesJSON), now, now)

	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// UpdateConversation replaces the message list and bumps updated_at
func (db *DB) UpdateConversation(conversationID int64, messages []Message) error {
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	result, err := db.conn.Exec(`
		UPDATE conversations SET messages = ?, updated_at = ? WHERE id = ?
	`, string(messagesJSON), time.Now().Unix(), conversationID)

	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("conversation not found")
	}

	return nil
}
