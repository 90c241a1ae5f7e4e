package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// fixDuplicateCycles enforces the one-open-row-per-dedup-key rule. The
// register keeps at most one open cycle per call_chk_sum, but a crash between
// the lookup and the insert can leave two. Keep the newest row — its
// asterisk_chan is the one the PBX monitor still writes to — and close the
// others. Closed rows keep their dial history for audit; nothing is deleted.
func fixDuplicateCycles(ctx context.Context, pool *pgxpool.Pool, dryRun bool) {
	const findSQL = `
		SELECT c.id::text, c.call_chk_sum, c.phone, c.first_dial
		FROM calls c
		JOIN (
			SELECT call_chk_sum, max(first_dial) AS newest
			FROM calls
			WHERE cycle_done = false
			GROUP BY call_chk_sum
			HAVING count(*) > 1
		) d ON c.call_chk_sum = d.call_chk_sum
		WHERE c.cycle_done = false
		  AND c.first_dial < d.newest
		ORDER BY c.call_chk_sum, c.first_dial
	`

	rows, err := pool.Query(ctx, findSQL)
	if err != nil {
		fmt.Printf("Error finding duplicate cycles: %v\n", err)
		return
	}
	defer rows.Close()

	type dupe struct {
		id, key, phone string
		firstDial      time.Time
	}
	var dupes []dupe
	for rows.Next() {
		var d dupe
		if err := rows.Scan(&d.id, &d.key, &d.phone, &d.firstDial); err != nil {
			fmt.Printf("Error scanning: %v\n", err)
			return
		}
		dupes = append(dupes, d)
	}
	rows.Close()

	fmt.Printf("Found %d older duplicates of open cycles\n", len(dupes))
	if len(dupes) == 0 {
		return
	}

	if dryRun {
		fmt.Println("Dry run — no changes made. Run with 'fix-dupes apply' to close them.")
		for i, d := range dupes {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(dupes)-10)
				break
			}
			fmt.Printf("  close %s  key=%s  phone=%s  first_dial=%s\n",
				d.id, d.key, d.phone, d.firstDial.Format(time.RFC3339))
		}
		return
	}

	const closeSQL = `UPDATE calls SET cycle_done = true WHERE id = $1 AND cycle_done = false`

	closed := 0
	errors := 0
	for _, d := range dupes {
		if _, err := pool.Exec(ctx, closeSQL, d.id); err != nil {
			fmt.Printf("  Error closing %s: %v\n", d.id, err)
			errors++
			continue
		}
		closed++
	}
	fmt.Printf("Closed %d duplicates, %d errors\n", closed, errors)

	// Two rows born in the same instant tie on first_dial and both survive;
	// report what is left so the operator knows to look.
	var remaining int64
	pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT 1 FROM calls WHERE cycle_done = false
			GROUP BY call_chk_sum HAVING count(*) > 1
		) d
	`).Scan(&remaining)
	if remaining > 0 {
		fmt.Printf("%d dedup keys still have multiple open rows (tied first_dial); close them by id\n", remaining)
	}
}
