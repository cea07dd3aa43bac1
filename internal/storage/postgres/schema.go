// Package postgres is the PostgreSQL backend for the usage ledger, the
// achievement store and the read-only user directory.
//
// A single [Store] backed by one [pgxpool.Pool] implements [ledger.Store],
// [achievement.Store] and [identity.Directory]. Counter increments are single
// INSERT … ON CONFLICT … DO UPDATE statements so concurrent captures for the
// same identity never lose an update, and the (user_id, tag) unique
// constraint on achievements makes concurrent awards idempotent.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, postgres.WithMaxConns(8))
//	if err != nil { … }
//	defer store.Close()
//
//	n, _ := store.RecordCapture(ctx, identity.Registered(userID))
package postgres

import (
	"context"
	"fmt"
)

// ddlUsers mirrors the account table owned by the auth service. VerseCatch
// only reads it; the statement exists so a fresh database can be migrated.
const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id          TEXT         PRIMARY KEY,
    email       TEXT         NOT NULL UNIQUE,
    user_name   TEXT         NOT NULL DEFAULT '',
    streak      INTEGER      NOT NULL DEFAULT 0,
    last_login  TIMESTAMPTZ,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_users_email_lower
    ON users (lower(email));
`

const ddlCaptureCounters = `
CREATE TABLE IF NOT EXISTS capture_counters (
    id                BIGSERIAL    PRIMARY KEY,
    user_id           TEXT         REFERENCES users (id),
    anonymous_id      TEXT,
    count             BIGINT       NOT NULL DEFAULT 0 CHECK (count >= 0),
    last_captured_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    CONSTRAINT capture_counters_one_identity
        CHECK ((user_id IS NULL) <> (anonymous_id IS NULL))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_capture_counters_user
    ON capture_counters (user_id) WHERE user_id IS NOT NULL;

CREATE UNIQUE INDEX IF NOT EXISTS uq_capture_counters_anonymous
    ON capture_counters (anonymous_id) WHERE anonymous_id IS NOT NULL;
`

const ddlUserActivities = `
CREATE TABLE IF NOT EXISTS user_activities (
    id             BIGSERIAL    PRIMARY KEY,
    user_id        TEXT         NOT NULL REFERENCES users (id),
    activity_type  TEXT         NOT NULL,
    activity_data  TEXT         NOT NULL DEFAULT '',
    activity_date  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_user_activities_user_type
    ON user_activities (user_id, activity_type);
`

const ddlAchievements = `
CREATE TABLE IF NOT EXISTS achievements (
    id           BIGSERIAL    PRIMARY KEY,
    user_id      TEXT         NOT NULL REFERENCES users (id),
    tag          TEXT         NOT NULL,
    name         TEXT         NOT NULL,
    requirement  TEXT         NOT NULL DEFAULT '',
    achieved_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    CONSTRAINT uq_achievements_user_tag UNIQUE (user_id, tag)
);
`

// Migrate creates every table and index the backend needs. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, db DB) error {
	statements := []string{
		ddlUsers,
		ddlCaptureCounters,
		ddlUserActivities,
		ddlAchievements,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
