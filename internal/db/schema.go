package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema holds the tables backing admin accounts and postgres-held sessions.
// All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS admin_account (
	username      TEXT PRIMARY KEY,
	password_hash TEXT        NOT NULL,
	is_active     BOOLEAN     NOT NULL DEFAULT TRUE,
	last_login_at TIMESTAMPTZ NULL
);

CREATE TABLE IF NOT EXISTS admin_session (
	id         TEXT PRIMARY KEY,
	owner      TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT admin_session_expiry_after_creation CHECK (expires_at > created_at)
);

CREATE INDEX IF NOT EXISTS admin_session_owner_idx ON admin_session (owner);
CREATE INDEX IF NOT EXISTS admin_session_expires_at_idx ON admin_session (expires_at);
`

func ApplySchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
