package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Call is one call cycle: the dial attempts for a (phone, message) pair
// inside one firing window.
type Call struct {
	ID              uuid.UUID
	Phone           string
	Message         string
	AsteriskChan    string
	MsgChkSum       string
	CallChkSum      string
	UniqueChkSum    string
	TimesToDial     int
	DialedTimes     int
	SecondsToForget int
	FirstDial       time.Time
	LastDial        time.Time
	HeardAt         time.Time
	AcknowledgeAt   time.Time
	CycleDone       bool
	OnCall          bool
	BackupCallee    bool
	BackupCalls     int
}

// Window returns the firing-window duration recorded at registration.
func (c *Call) Window() time.Duration {
	return time.Duration(c.SecondsToForget) * time.Second
}

// InFiringWindow reports whether t falls inside [first_dial, first_dial+window].
func (c *Call) InFiringWindow(t time.Time) bool {
	if c.FirstDial.IsZero() {
		return false
	}
	return !t.After(c.FirstDial.Add(c.Window()))
}

const callColumns = `id, phone, message, asterisk_chan, msg_chk_sum, call_chk_sum,
	unique_chk_sum, times_to_dial, dialed_times, seconds_to_forget,
	first_dial, last_dial, heard_at, acknowledge_at,
	cycle_done, oncall, backup_callee, call_backup_callee_number_calls`

func scanCall(row pgx.Row) (*Call, error) {
	var c Call
	var firstDial, lastDial, heardAt, ackAt pgtype.Timestamptz
	err := row.Scan(
		&c.ID, &c.Phone, &c.Message, &c.AsteriskChan, &c.MsgChkSum, &c.CallChkSum,
		&c.UniqueChkSum, &c.TimesToDial, &c.DialedTimes, &c.SecondsToForget,
		&firstDial, &lastDial, &heardAt, &ackAt,
		&c.CycleDone, &c.OnCall, &c.BackupCallee, &c.BackupCalls,
	)
	if err != nil {
		return nil, err
	}
	c.MsgChkSum = trimChk(c.MsgChkSum)
	c.CallChkSum = trimChk(c.CallChkSum)
	c.UniqueChkSum = trimChk(c.UniqueChkSum)
	c.FirstDial = fromPgtz(firstDial)
	c.LastDial = fromPgtz(lastDial)
	c.HeardAt = fromPgtz(heardAt)
	c.AcknowledgeAt = fromPgtz(ackAt)
	return &c, nil
}

// char(8) columns come back space-padded when a narrower value sneaks in.
func trimChk(s string) string {
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

// InsertCall creates a fresh cycle. The caller fills checksums, policy and
// first/last dial; dialed_times starts at 1 because the insert records the
// first attempt.
func (db *DB) InsertCall(ctx context.Context, c *Call) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO calls (
			id, phone, message, asterisk_chan, msg_chk_sum, call_chk_sum,
			unique_chk_sum, times_to_dial, dialed_times, seconds_to_forget,
			first_dial, last_dial, heard_at, acknowledge_at,
			cycle_done, oncall, backup_callee, call_backup_callee_number_calls
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		c.ID, c.Phone, c.Message, c.AsteriskChan, c.MsgChkSum, c.CallChkSum,
		c.UniqueChkSum, c.TimesToDial, c.DialedTimes, c.SecondsToForget,
		pgtz(c.FirstDial), pgtz(c.LastDial), pgtz(c.HeardAt), pgtz(c.AcknowledgeAt),
		c.CycleDone, c.OnCall, c.BackupCallee, c.BackupCalls,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// ActiveCycle returns the open cycle for a dedup key: cycle_done=false and
// first_dial still inside the row's own window. At most one such row exists
// at a time; the newest wins if history is dirty.
func (db *DB) ActiveCycle(ctx context.Context, callChkSum string) (*Call, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+callColumns+`
		FROM calls
		WHERE call_chk_sum = $1
		  AND cycle_done = false
		  AND first_dial + make_interval(secs => seconds_to_forget) > now()
		ORDER BY first_dial DESC
		LIMIT 1`,
		callChkSum,
	)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active cycle %s: %w", callChkSum, err)
	}
	return c, nil
}

// BumpCycle records another dial attempt on an open cycle: last_dial moves
// to now, dialed_times clamps at times_to_dial, the channel is replaced.
// Rows already closed are never touched.
func (db *DB) BumpCycle(ctx context.Context, id uuid.UUID, asteriskChan string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE calls
		SET last_dial = now(),
		    dialed_times = LEAST(dialed_times + 1, times_to_dial),
		    asterisk_chan = $2
		WHERE id = $1 AND cycle_done = false`,
		id, asteriskChan,
	)
	if err != nil {
		return fmt.Errorf("bump cycle %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bump cycle %s: no open row", id)
	}
	return nil
}

// CallByChan returns the newest cycle bound to a PBX channel, or nil.
func (db *DB) CallByChan(ctx context.Context, asteriskChan string) (*Call, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+callColumns+`
		FROM calls
		WHERE asterisk_chan = $1
		ORDER BY last_dial DESC
		LIMIT 1`,
		asteriskChan,
	)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("call by chan %s: %w", asteriskChan, err)
	}
	return c, nil
}

// Acknowledge closes a cycle: acknowledge_at=now, cycle_done=true.
func (db *DB) Acknowledge(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE calls SET acknowledge_at = now(), cycle_done = true WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("acknowledge %s: %w", id, err)
	}
	return nil
}

// RecordLateAck stamps acknowledge_at without closing the cycle. Used when
// the ack arrives after the firing window: the timestamp is kept for audit
// but the row stays open.
func (db *DB) RecordLateAck(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE calls SET acknowledge_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("record late ack %s: %w", id, err)
	}
	return nil
}

// CascadeAcknowledge closes every open on-call cycle that carries the same
// message. One human answering stops the escalation for the whole alert.
func (db *DB) CascadeAcknowledge(ctx context.Context, msgChkSum string) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE calls SET cycle_done = true
		WHERE msg_chk_sum = $1 AND oncall = true AND cycle_done = false`,
		msgChkSum,
	)
	if err != nil {
		return 0, fmt.Errorf("cascade acknowledge %s: %w", msgChkSum, err)
	}
	return tag.RowsAffected(), nil
}

// MarkHeard stamps heard_at for the row.
func (db *DB) MarkHeard(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE calls SET heard_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark heard %s: %w", id, err)
	}
	return nil
}

// RetryableCalls selects cycles due for another dial attempt: attempts left,
// first dial old enough that the previous attempt had its grace period, but
// still inside the sweep window.
func (db *DB) RetryableCalls(ctx context.Context, window, grace time.Duration) ([]Call, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+callColumns+`
		FROM calls
		WHERE dialed_times < times_to_dial
		  AND first_dial BETWEEN now() - make_interval(secs => $1) AND now() - make_interval(secs => $2)
		  AND cycle_done = false
		ORDER BY first_dial ASC`,
		window.Seconds(), grace.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("retryable calls: %w", err)
	}
	defer rows.Close()
	return collectCalls(rows)
}

// BackupEscalations selects on-call cycles whose primary retry window is
// exhausted without an acknowledgement and that still have backup attempts
// left.
func (db *DB) BackupEscalations(ctx context.Context, maxBackupCalls int) ([]Call, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+callColumns+`
		FROM calls
		WHERE acknowledge_at = '-infinity'
		  AND first_dial + make_interval(secs => seconds_to_forget) < now()
		  AND call_backup_callee_number_calls < $1
		  AND cycle_done = false
		  AND oncall = true
		ORDER BY first_dial ASC`,
		maxBackupCalls,
	)
	if err != nil {
		return nil, fmt.Errorf("backup escalations: %w", err)
	}
	defer rows.Close()
	return collectCalls(rows)
}

// IncrementBackupCalls bumps the escalation counter after a backup dial.
func (db *DB) IncrementBackupCalls(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE calls
		SET call_backup_callee_number_calls = call_backup_callee_number_calls + 1
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("increment backup calls %s: %w", id, err)
	}
	return nil
}

func collectCalls(rows pgx.Rows) ([]Call, error) {
	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// CallStats feeds the metrics collector.
type CallStats struct {
	OpenCycles     int64
	Unacknowledged int64
	TotalCalls     int64
}

func (db *DB) GetCallStats(ctx context.Context) (*CallStats, error) {
	var s CallStats
	err := db.Pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE cycle_done = false),
			count(*) FILTER (WHERE acknowledge_at = '-infinity'),
			count(*)
		FROM calls`,
	).Scan(&s.OpenCycles, &s.Unacknowledged, &s.TotalCalls)
	if err != nil {
		return nil, fmt.Errorf("call stats: %w", err)
	}
	return &s, nil
}
