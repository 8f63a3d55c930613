package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- User profiles: one per local user, holding the Strava connection.
-- At most one local user per Strava athlete (strava_id is unique).
CREATE TABLE IF NOT EXISTS user_profiles (
    id TEXT PRIMARY KEY,  -- local user id (UUID from the identity provider)
    strava_id TEXT NOT NULL UNIQUE,

    -- OAuth tokens. Expiry is checked, never refreshed: a fully expired
    -- token requires user re-authorization.
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    token_expires_at INTEGER NOT NULL,  -- Unix timestamp

    -- Metadata
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Runs: one Strava activity of type "Run" mapped locally.
-- strava_activity_id is globally unique across all users.
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    strava_activity_id TEXT NOT NULL UNIQUE,

    name TEXT NOT NULL,
    date INTEGER NOT NULL,       -- Unix timestamp of activity start
    distance INTEGER NOT NULL,   -- meters, rounded
    duration INTEGER NOT NULL,   -- moving time in seconds
    pace REAL NOT NULL,          -- min/km, two-decimal rounding
    avg_heart_rate INTEGER NOT NULL,
    cadence INTEGER,             -- steps/min (doubled single-leg), NULL when absent
    elevation_gain INTEGER NOT NULL,  -- meters, rounded

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES user_profiles(id) ON DELETE CASCADE
);

-- Run analyses: at most one per run. The UNIQUE constraint on run_id is
-- the arbiter for concurrent first-time analysis requests.
CREATE TABLE IF NOT EXISTS run_analyses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL UNIQUE,
    user_id TEXT NOT NULL,

    summary TEXT NOT NULL,
    insights TEXT NOT NULL,         -- JSON array of {title, detail, type}
    recommendations TEXT NOT NULL,  -- JSON array of {title, detail}

    created_at INTEGER NOT NULL,

    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

-- Conversations: at most one per (user, run); messages are append-only.
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    run_id INTEGER NOT NULL,

    messages TEXT NOT NULL,  -- JSON array of {role, content, timestamp}

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE,
    UNIQUE(user_id, run_id)
);

-- Indexes for runs table
CREATE INDEX IF NOT EXISTS idx_runs_user_id ON runs(user_id);
CREATE INDEX IF NOT EXISTS idx_runs_user_date ON runs(user_id, date DESC);

-- Indexes for run_analyses table
CREATE INDEX IF NOT EXISTS idx_run_analyses_user_id ON run_analyses(user_id);

-- Indexes for conversations table
CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);
`
