package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name:  "add scheduled_calls.dispatched_at",
		sql:   `ALTER TABLE scheduled_calls ADD COLUMN IF NOT EXISTS dispatched_at timestamptz`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'scheduled_calls' AND column_name = 'dispatched_at')`,
	},
	{
		name:  "add asterisk_ws_events.received_at",
		sql:   `ALTER TABLE asterisk_ws_events ADD COLUMN IF NOT EXISTS received_at timestamptz NOT NULL DEFAULT now()`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'asterisk_ws_events' AND column_name = 'received_at')`,
	},
	{
		name:  "add open-cycle partial index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_calls_open_cycles ON calls (first_dial) WHERE cycle_done = false`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_calls_open_cycles')`,
	},
	{
		name:  "add pending scheduled-call partial index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_scheduled_pending ON scheduled_calls (scheduled_at) WHERE dispatched_at IS NULL`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_scheduled_pending')`,
	},
	{
		name:  "add users.last_login",
		sql:   `ALTER TABLE users ADD COLUMN IF NOT EXISTS last_login timestamptz`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'users' AND column_name = 'last_login')`,
	},
}

// Migrate runs all pending schema migrations.
// For each migration, it first checks whether the change is already present.
// If not, it attempts to apply it. If the apply fails (e.g. insufficient
// privileges), the error is returned — the caller should treat this as fatal
// since the application's queries depend on these columns existing.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart klaxon.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
