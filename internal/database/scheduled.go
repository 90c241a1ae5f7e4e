package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// ScheduledCall is a future-dated call request. dispatched_at is set once
// the delayed dispatcher has handed the call to the dialer, so pending rows
// survive restarts.
type ScheduledCall struct {
	ID           uuid.UUID
	Phone        string
	Message      string
	CallChkSum   string
	InsertedAt   time.Time
	ScheduledAt  time.Time
	DispatchedAt time.Time
}

func (db *DB) InsertScheduledCall(ctx context.Context, sc *ScheduledCall) error {
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	if sc.InsertedAt.IsZero() {
		sc.InsertedAt = time.Now().UTC()
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO scheduled_calls (id, phone, message, call_chk_sum, inserted_at, scheduled_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sc.ID, sc.Phone, sc.Message, sc.CallChkSum,
		pgtz(sc.InsertedAt), pgtz(sc.ScheduledAt),
	)
	if err != nil {
		return fmt.Errorf("insert scheduled call: %w", err)
	}
	return nil
}

// PendingScheduledCalls returns every row not yet handed to the dialer,
// oldest first. Rows whose instant already passed are included so a restart
// fires them late rather than never.
func (db *DB) PendingScheduledCalls(ctx context.Context) ([]ScheduledCall, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, phone, message, call_chk_sum, inserted_at, scheduled_at
		FROM scheduled_calls
		WHERE dispatched_at IS NULL
		ORDER BY scheduled_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("pending scheduled calls: %w", err)
	}
	defer rows.Close()

	var out []ScheduledCall
	for rows.Next() {
		var sc ScheduledCall
		var insertedAt, scheduledAt pgtype.Timestamptz
		if err := rows.Scan(&sc.ID, &sc.Phone, &sc.Message, &sc.CallChkSum, &insertedAt, &scheduledAt); err != nil {
			return nil, err
		}
		sc.CallChkSum = trimChk(sc.CallChkSum)
		sc.InsertedAt = fromPgtz(insertedAt)
		sc.ScheduledAt = fromPgtz(scheduledAt)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// MarkScheduledDispatched stamps a row once its call reached the dialer.
func (db *DB) MarkScheduledDispatched(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE scheduled_calls SET dispatched_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark scheduled dispatched %s: %w", id, err)
	}
	return nil
}

// CountPendingScheduled feeds the metrics collector.
func (db *DB) CountPendingScheduled(ctx context.Context) (int64, error) {
	var n int64
	err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM scheduled_calls WHERE dispatched_at IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending scheduled: %w", err)
	}
	return n, nil
}
