package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// fixStaleCycles closes open cycles whose firing window expired over an hour
// ago. Dedup ignores them (ActiveCycle filters by window) but they linger in
// the open-cycle metrics forever: a cycle only closes on acknowledgement, so
// every unanswered call leaves one behind. The hour of slack keeps anything
// the recaller could still escalate to the backup callee out of reach.
func fixStaleCycles(ctx context.Context, pool *pgxpool.Pool, dryRun bool) {
	const findSQL = `
		SELECT id::text, phone, dialed_times, times_to_dial, first_dial,
		       first_dial + make_interval(secs => seconds_to_forget) AS window_end
		FROM calls
		WHERE cycle_done = false
		  AND first_dial + make_interval(secs => seconds_to_forget) < now() - interval '1 hour'
		ORDER BY first_dial
	`

	rows, err := pool.Query(ctx, findSQL)
	if err != nil {
		fmt.Printf("Error finding stale cycles: %v\n", err)
		return
	}
	defer rows.Close()

	type stale struct {
		id, phone            string
		dialed, timesToDial  int
		firstDial, windowEnd time.Time
	}
	var cycles []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.phone, &s.dialed, &s.timesToDial, &s.firstDial, &s.windowEnd); err != nil {
			fmt.Printf("Error scanning: %v\n", err)
			return
		}
		cycles = append(cycles, s)
	}
	rows.Close()

	fmt.Printf("Found %d stale open cycles\n", len(cycles))
	if len(cycles) == 0 {
		return
	}

	if dryRun {
		fmt.Println("Dry run — no changes made. Run with 'fix-stale apply' to close them.")
		for i, s := range cycles {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(cycles)-10)
				break
			}
			fmt.Printf("  %s  phone=%s  dials=%d/%d  window ended %s\n",
				s.id, s.phone, s.dialed, s.timesToDial, s.windowEnd.Format(time.RFC3339))
		}
		return
	}

	const closeSQL = `UPDATE calls SET cycle_done = true WHERE id = $1 AND cycle_done = false`

	closed := 0
	errors := 0
	for _, s := range cycles {
		if _, err := pool.Exec(ctx, closeSQL, s.id); err != nil {
			fmt.Printf("  Error closing %s: %v\n", s.id, err)
			errors++
			continue
		}
		closed++
	}
	fmt.Printf("Closed %d stale cycles, %d errors\n", closed, errors)
}
