// Package database owns the Postgres connection and the engine's schema.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// NewDB creates a new database connection
func NewDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return db, nil
}

// schema is the engine's own tables. River manages its queue tables through
// its own migrations; they are not listed here.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS org_settings (
        org_id               bigint PRIMARY KEY,
        email_from_name      text,
        email_from_address   text,
        email_signature      text,
        whatsapp_connected   boolean NOT NULL DEFAULT false,
        confidence_threshold int NOT NULL DEFAULT 0,
        intervention_message text
    )`,

	`CREATE TABLE IF NOT EXISTS customers (
        id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
        org_id      bigint NOT NULL,
        name        text NOT NULL DEFAULT '',
        email       text,
        phone       text,
        webhook_url text
    )`,

	`CREATE TABLE IF NOT EXISTS agents (
        id                  uuid PRIMARY KEY DEFAULT gen_random_uuid(),
        org_id              bigint NOT NULL,
        name                text NOT NULL DEFAULT '',
        admin               boolean NOT NULL DEFAULT false,
        signature_enabled   boolean NOT NULL DEFAULT false,
        signature_text      text,
        signature_image_url text
    )`,

	`CREATE TABLE IF NOT EXISTS cases (
        id                     uuid PRIMARY KEY DEFAULT gen_random_uuid(),
        org_id                 bigint NOT NULL,
        customer_id            uuid NOT NULL REFERENCES customers(id),
        subject                text NOT NULL DEFAULT '',
        status                 text NOT NULL DEFAULT 'open',
        channel                text NOT NULL,
        assigned_agent_id      text,
        assigned_group_id      text,
        ai_processing          boolean NOT NULL DEFAULT false,
        ai_escalated           boolean NOT NULL DEFAULT false,
        ai_auto_reply_disabled boolean NOT NULL DEFAULT false,
        waiting_for_new_topic  boolean NOT NULL DEFAULT false,
        ai_confidence          int NOT NULL DEFAULT 0,
        confidence_threshold   int NOT NULL DEFAULT 0,
        resolution_type        text,
        first_responded_at     timestamptz,
        created_at             timestamptz NOT NULL DEFAULT now(),
        updated_at             timestamptz NOT NULL DEFAULT now()
    )`,

	`CREATE INDEX IF NOT EXISTS cases_org_status_idx ON cases (org_id, status)`,

	`CREATE TABLE IF NOT EXISTS case_escalations (
        id         bigserial PRIMARY KEY,
        org_id     bigint NOT NULL,
        case_id    uuid NOT NULL REFERENCES cases(id),
        reason     text NOT NULL,
        summary    text NOT NULL DEFAULT '',
        confidence int NOT NULL DEFAULT 0,
        created_at timestamptz NOT NULL DEFAULT now()
    )`,

	`CREATE TABLE IF NOT EXISTS threads (
        id                    uuid PRIMARY KEY DEFAULT gen_random_uuid(),
        case_id               uuid NOT NULL UNIQUE REFERENCES cases(id),
        org_id                bigint NOT NULL,
        participant_user_ids  text[] NOT NULL DEFAULT '{}',
        participant_group_ids text[] NOT NULL DEFAULT '{}',
        metadata              jsonb NOT NULL DEFAULT '{}',
        active                boolean NOT NULL DEFAULT true,
        created_at            timestamptz NOT NULL DEFAULT now(),
        updated_at            timestamptz NOT NULL DEFAULT now()
    )`,

	`CREATE TABLE IF NOT EXISTS messages (
        id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
        thread_id   uuid NOT NULL REFERENCES threads(id),
        seq         bigint NOT NULL,
        visibility  text NOT NULL,
        channel     text NOT NULL,
        author      jsonb NOT NULL,
        content     text NOT NULL,
        attachments jsonb NOT NULL DEFAULT '[]',
        external_id text,
        read_by     text[] NOT NULL DEFAULT '{}',
        created_at  timestamptz NOT NULL DEFAULT now(),
        UNIQUE (thread_id, seq)
    )`,

	`CREATE TABLE IF NOT EXISTS named_locks (
        name       text PRIMARY KEY,
        holder     text NOT NULL,
        expires_at timestamptz NOT NULL
    )`,
}

// EnsureSchema creates the engine's tables when they are missing. Statements
// are idempotent, so running at every startup is safe.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
