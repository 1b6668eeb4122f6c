package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema contains the idempotent DDL for all tables. Statements run in order
// inside one transaction.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id    TEXT PRIMARY KEY,
		name  TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS user_groups (
		user_id  TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		PRIMARY KEY (user_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS application_forms (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL,
		type         TEXT NOT NULL DEFAULT '',
		form_data    JSONB,
		private      BOOLEAN NOT NULL DEFAULT FALSE,
		applicant_id TEXT NOT NULL REFERENCES users(id),
		created_at   TIMESTAMPTZ NOT NULL,
		deleted_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_application_forms_created_at
		ON application_forms (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		application_id TEXT NOT NULL REFERENCES application_forms(id) ON DELETE CASCADE,
		recipient_id   TEXT NOT NULL REFERENCES users(id),
		flow_index     INTEGER NOT NULL,
		notified       BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (application_id, flow_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_recipient
		ON submissions (recipient_id)`,
	`CREATE TABLE IF NOT EXISTS decisions (
		id                TEXT NOT NULL,
		application_id    TEXT NOT NULL REFERENCES application_forms(id) ON DELETE CASCADE,
		recipient_id      TEXT NOT NULL,
		kind              TEXT NOT NULL,
		comment           TEXT NOT NULL DEFAULT '',
		attachment_hankos JSONB,
		decided_at        TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (application_id, recipient_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_decisions_id ON decisions (id)`,
	`CREATE TABLE IF NOT EXISTS application_visibility (
		application_id TEXT NOT NULL REFERENCES application_forms(id) ON DELETE CASCADE,
		group_id       TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		PRIMARY KEY (application_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS form_templates (
		id          TEXT PRIMARY KEY,
		label       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		fields      JSONB,
		creator_id  TEXT NOT NULL REFERENCES users(id),
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS template_visibility (
		template_id TEXT NOT NULL REFERENCES form_templates(id) ON DELETE CASCADE,
		group_id    TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		PRIMARY KEY (template_id, group_id)
	)`,
}

// Migrate creates any missing tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return tx.Commit()
}
