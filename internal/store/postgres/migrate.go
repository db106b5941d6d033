package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup. The partial unique index on
// (teacher_id, classroom_id, date) WHERE status = 'IN' is what makes the
// at-most-one-active-session invariant hold under concurrent inserts; the
// application-level duplicate check is only a fast path in front of it.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS teachers (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		rfid_uid TEXT UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS classrooms (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		device_token TEXT NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id BIGSERIAL PRIMARY KEY,
		teacher_id BIGINT NOT NULL REFERENCES teachers(id) ON DELETE CASCADE,
		classroom_id BIGINT NOT NULL REFERENCES classrooms(id) ON DELETE CASCADE,
		day_of_week INT NOT NULL,
		start_time TIME NOT NULL,
		end_time TIME NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		UNIQUE (teacher_id, classroom_id, day_of_week, start_time)
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_sessions (
		id UUID PRIMARY KEY,
		teacher_id BIGINT NOT NULL REFERENCES teachers(id),
		classroom_id BIGINT NOT NULL REFERENCES classrooms(id),
		schedule_id BIGINT REFERENCES schedules(id) ON DELETE SET NULL,
		date DATE NOT NULL,
		time_in TIMESTAMPTZ NOT NULL,
		time_out TIMESTAMPTZ,
		expected_out TIMESTAMPTZ,
		status TEXT NOT NULL,
		rfid_uid_used TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_sessions_one_in
		ON attendance_sessions (teacher_id, classroom_id, date) WHERE status = 'IN'`,
	`CREATE INDEX IF NOT EXISTS attendance_sessions_expiry
		ON attendance_sessions (expected_out) WHERE status = 'IN'`,
	`CREATE TABLE IF NOT EXISTS energy_logs (
		id BIGSERIAL PRIMARY KEY,
		classroom_id BIGINT NOT NULL REFERENCES classrooms(id) ON DELETE CASCADE,
		watts NUMERIC(10,2) NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS energy_logs_classroom_ts
		ON energy_logs (classroom_id, ts DESC)`,
}

// Migrate creates missing tables and indexes.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
