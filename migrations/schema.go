// Package migrations holds the PostgreSQL schema of the examination engine.
package migrations

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Tables lists every table the engine reads or writes.
var Tables = []string{"institutions", "exam_products", "venues", "candidates", "schedules"}

// Statements are idempotent and applied in order.
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS institutions (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'ACTIVE' CHECK (status IN ('ACTIVE', 'INACTIVE')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS exam_products (
		id BIGSERIAL PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('THEORY', 'PRACTICAL', 'THEORY_PLUS_PRACTICAL')),
		theory_duration_min INTEGER NOT NULL DEFAULT 0 CHECK (theory_duration_min >= 0),
		practical_duration_min INTEGER NOT NULL DEFAULT 0 CHECK (practical_duration_min >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS venues (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('THEORY', 'PRACTICAL', 'WAITING')),
		capacity INTEGER NOT NULL CHECK (capacity >= 1),
		status TEXT NOT NULL DEFAULT 'ACTIVE' CHECK (status IN ('ACTIVE', 'INACTIVE')),
		timezone TEXT NOT NULL DEFAULT 'UTC'
	)`,
	`CREATE TABLE IF NOT EXISTS candidates (
		id BIGSERIAL PRIMARY KEY,
		id_number TEXT NOT NULL UNIQUE CHECK (char_length(id_number) = 18),
		full_name TEXT NOT NULL,
		institution_id BIGINT NOT NULL REFERENCES institutions(id),
		exam_product_id BIGINT NOT NULL REFERENCES exam_products(id),
		status TEXT NOT NULL DEFAULT 'PENDING_SCHEDULE' CHECK (status IN ('PENDING_SCHEDULE', 'SCHEDULED', 'THEORY_WAITING', 'PRACTICAL_WAITING', 'THEORY_IN_PROGRESS', 'PRACTICAL_IN_PROGRESS', 'COMPLETED', 'CANCELLED')),
		current_venue_id BIGINT REFERENCES venues(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_candidates_status ON candidates (status, institution_id)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id BIGSERIAL PRIMARY KEY,
		candidate_id BIGINT NOT NULL REFERENCES candidates(id),
		venue_id BIGINT NOT NULL REFERENCES venues(id),
		exam_product_id BIGINT NOT NULL REFERENCES exam_products(id),
		exam_date DATE NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		activity_type TEXT NOT NULL CHECK (activity_type IN ('THEORY_EXAM', 'PRACTICAL_EXAM', 'WAITING')),
		status TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'CHECKED_IN', 'IN_PROGRESS', 'COMPLETED', 'CANCELLED', 'NO_SHOW')),
		check_in_at TIMESTAMPTZ,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		queue_position INTEGER CHECK (queue_position >= 1),
		estimated_wait_min INTEGER CHECK (estimated_wait_min >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (start_time < end_time)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_lane ON schedules (venue_id, exam_date, activity_type, status)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_candidate ON schedules (candidate_id, start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_overdue ON schedules (end_time) WHERE status = 'PENDING'`,
}

// Apply runs every statement in one transaction.
func Apply(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// Verify checks that all required tables exist.
func Verify(ctx context.Context, db *sqlx.DB) error {
	const query = `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`
	for _, table := range Tables {
		var exists bool
		if err := db.GetContext(ctx, &exists, query, table); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}
