package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for every table the intake service uses
const Schema = `
CREATE TABLE IF NOT EXISTS case_drafts (
    case_id    TEXT PRIMARY KEY,
    data       JSONB NOT NULL DEFAULT '{}'::jsonb,
    digest     TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS case_plans (
    id         UUID PRIMARY KEY,
    case_id    TEXT NOT NULL,
    plan       JSONB NOT NULL,
    provider   VARCHAR(50) NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_case_plans_case_id ON case_plans (case_id, created_at DESC);

CREATE TABLE IF NOT EXISTS evidence_files (
    id           UUID PRIMARY KEY,
    case_id      TEXT NOT NULL,
    filename     TEXT NOT NULL,
    mime_type    VARCHAR(255) NOT NULL,
    size         BIGINT NOT NULL,
    storage_path TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_evidence_files_case_id ON evidence_files (case_id);
`

// CreateSchema creates the intake tables if they do not exist
func CreateSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
