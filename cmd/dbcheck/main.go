// dbcheck is an operator's inspection and repair tool for the klaxon
// database. It connects with DATABASE_URL directly, bypassing the services.
//
//	dbcheck             table counts
//	dbcheck cycles      call-cycle health report
//	dbcheck cleanup     delete bogus rows
//	dbcheck fix-stale   close open cycles whose window expired (add "apply")
//	dbcheck fix-dupes   close duplicate open cycles per dedup key (add "apply")
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	ctx := context.Background()

	if len(os.Args) > 1 && os.Args[1] == "cleanup" {
		tag, _ := pool.Exec(ctx, "DELETE FROM address_book WHERE phone_number = ''")
		fmt.Printf("Deleted %d contacts without a phone number\n", tag.RowsAffected())
		tag, _ = pool.Exec(ctx, "DELETE FROM asterisk_ws_events WHERE event_type = ''")
		fmt.Printf("Deleted %d events without a type\n", tag.RowsAffected())
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "cycles" {
		investigateCycles(ctx, pool)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "fix-stale" {
		dryRun := !(len(os.Args) > 2 && os.Args[2] == "apply")
		fixStaleCycles(ctx, pool, dryRun)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "fix-dupes" {
		dryRun := !(len(os.Args) > 2 && os.Args[2] == "apply")
		fixDuplicateCycles(ctx, pool, dryRun)
		return
	}

	// Default: table counts
	tables := []string{
		"calls", "asterisk_ws_events", "scheduled_calls",
		"address_book", "users",
	}
	fmt.Println("Table                    Count")
	fmt.Println("─────────────────────────────────")
	for _, t := range tables {
		var count int64
		pool.QueryRow(ctx, "SELECT count(*) FROM "+t).Scan(&count)
		fmt.Printf("%-25s %d\n", t, count)
	}
}

func investigateCycles(ctx context.Context, pool *pgxpool.Pool) {
	// 1. Open vs closed, inside vs past the firing window
	fmt.Println("── Cycle State ──")
	var open, openExpired, closed int64
	pool.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE cycle_done = false
		           AND first_dial + make_interval(secs => seconds_to_forget) > now()),
		       count(*) FILTER (WHERE cycle_done = false
		           AND first_dial + make_interval(secs => seconds_to_forget) <= now()),
		       count(*) FILTER (WHERE cycle_done = true)
		FROM calls
	`).Scan(&open, &openExpired, &closed)
	fmt.Printf("  Open, inside the window:  %d\n", open)
	fmt.Printf("  Open, window expired:     %d  (fix-stale closes these)\n", openExpired)
	fmt.Printf("  Closed:                   %d\n", closed)

	// 2. Dial attempt distribution
	fmt.Println("\n── Dial Attempts Per Cycle ──")
	rows, _ := pool.Query(ctx, `
		SELECT dialed_times, count(*) FROM calls GROUP BY dialed_times ORDER BY dialed_times
	`)
	defer rows.Close()
	for rows.Next() {
		var dials, count int
		rows.Scan(&dials, &count)
		fmt.Printf("  %d dial(s): %d cycles\n", dials, count)
	}

	// 3. How cycles ended
	fmt.Println("\n── Cycle Outcome ──")
	var acked, lateAcked, heard, silent int64
	pool.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE acknowledge_at <> '-infinity' AND cycle_done = true),
		       count(*) FILTER (WHERE acknowledge_at <> '-infinity' AND cycle_done = false),
		       count(*) FILTER (WHERE heard_at <> '-infinity' AND acknowledge_at = '-infinity'),
		       count(*) FILTER (WHERE heard_at = '-infinity' AND acknowledge_at = '-infinity')
		FROM calls
	`).Scan(&acked, &lateAcked, &heard, &silent)
	fmt.Printf("  Acknowledged:                 %d\n", acked)
	fmt.Printf("  Acknowledged late (kept open): %d\n", lateAcked)
	fmt.Printf("  Heard but never acknowledged: %d\n", heard)
	fmt.Printf("  Never heard:                  %d\n", silent)

	// 4. On-call escalation usage
	fmt.Println("\n── On-Call Escalation ──")
	var oncall, escalated int64
	pool.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE oncall = true),
		       count(*) FILTER (WHERE call_backup_callee_number_calls > 0)
		FROM calls
	`).Scan(&oncall, &escalated)
	fmt.Printf("  On-call cycles:            %d\n", oncall)
	fmt.Printf("  Escalated to the backup:   %d\n", escalated)

	// 5. Duplicate open cycles on the same dedup key (should never happen:
	// the register keeps at most one open row per call_chk_sum)
	fmt.Println("\n── Duplicate Open Cycles Per Dedup Key ──")
	rows2, _ := pool.Query(ctx, `
		SELECT call_chk_sum, count(*)
		FROM calls
		WHERE cycle_done = false
		GROUP BY call_chk_sum
		HAVING count(*) > 1
		ORDER BY count(*) DESC
		LIMIT 20
	`)
	defer rows2.Close()
	found := false
	for rows2.Next() {
		found = true
		var key string
		var count int
		rows2.Scan(&key, &count)
		fmt.Printf("  call_chk_sum=%s: %d open rows\n", key, count)
	}
	if !found {
		fmt.Println("  (none found)")
	}

	// 6. PBX events per type
	fmt.Println("\n── PBX Events Per Type ──")
	rows3, _ := pool.Query(ctx, `
		SELECT event_type, count(*) FROM asterisk_ws_events GROUP BY event_type ORDER BY count(*) DESC
	`)
	defer rows3.Close()
	for rows3.Next() {
		var typ string
		var count int64
		rows3.Scan(&typ, &count)
		fmt.Printf("  %-24s %d\n", typ, count)
	}

	// 7. Events bound to channels no call ever used
	var orphanEvents int64
	pool.QueryRow(ctx, `
		SELECT count(*) FROM asterisk_ws_events e
		WHERE e.asterisk_chan <> ''
		  AND NOT EXISTS (SELECT 1 FROM calls c WHERE c.asterisk_chan = e.asterisk_chan)
	`).Scan(&orphanEvents)
	fmt.Printf("\n  Events on channels with no call: %d\n", orphanEvents)

	// 8. Scheduled calls
	fmt.Println("\n── Scheduled Calls ──")
	var pending, overdue, dispatched int64
	pool.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE dispatched_at IS NULL AND scheduled_at > now()),
		       count(*) FILTER (WHERE dispatched_at IS NULL AND scheduled_at <= now()),
		       count(*) FILTER (WHERE dispatched_at IS NOT NULL)
		FROM scheduled_calls
	`).Scan(&pending, &overdue, &dispatched)
	fmt.Printf("  Pending:            %d\n", pending)
	fmt.Printf("  Due but undispatched: %d  (is the scheduler running?)\n", overdue)
	fmt.Printf("  Dispatched:         %d\n", dispatched)
}
