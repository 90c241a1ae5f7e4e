package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PbxEvent is one raw frame from the PBX WebSocket, stored append-only.
type PbxEvent struct {
	ID           uuid.UUID
	AsteriskChan string
	EventType    string
	JSONData     []byte
	ReceivedAt   time.Time
}

// InsertPbxEvents batch-inserts raw PBX frames using CopyFrom. The log is
// append-only; nothing ever updates these rows.
func (db *DB) InsertPbxEvents(ctx context.Context, events []PbxEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(events))
	for i, e := range events {
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		receivedAt := e.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = time.Now().UTC()
		}
		rows[i] = []any{id, e.AsteriskChan, e.EventType, e.JSONData, receivedAt}
	}

	n, err := db.Pool.CopyFrom(ctx,
		pgx.Identifier{"asterisk_ws_events"},
		[]string{"id", "asterisk_chan", "event_type", "json_data", "received_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("insert pbx events: %w", err)
	}
	return n, nil
}

// CountPbxEvents feeds the metrics collector.
func (db *DB) CountPbxEvents(ctx context.Context) (int64, error) {
	var n int64
	err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM asterisk_ws_events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pbx events: %w", err)
	}
	return n, nil
}
