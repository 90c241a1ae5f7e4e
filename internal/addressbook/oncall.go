package addressbook

import (
	"sort"
	"time"

	"github.com/snarg/klaxon/internal/database"
)

// RosterEntry is one contact on duty, in escalation order.
type RosterEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Surname     string `json:"surname"`
	PhoneNumber string `json:"phone_number"`
	Priority    int    `json:"priority"`
}

// OnDuty selects the contacts whose availability windows contain now and
// orders them by (priority, window start, created_time, name+surname). The
// primary callee is the first entry; the rest are the backup chain. A
// contact on duty through several windows appears once per window, carrying
// that window's priority.
func OnDuty(contacts []database.Contact, now time.Time) []RosterEntry {
	type candidate struct {
		entry    RosterEntry
		start    time.Time
		created  time.Time
		fullName string
	}

	var candidates []candidate
	for _, c := range contacts {
		if !c.Enabled {
			continue
		}
		for _, w := range c.Availability {
			if !w.Contains(now) {
				continue
			}
			candidates = append(candidates, candidate{
				entry: RosterEntry{
					ID:          c.ID.String(),
					Name:        c.Name,
					Surname:     c.Surname,
					PhoneNumber: c.PhoneNumber,
					Priority:    w.Priority,
				},
				start:    w.StartAt,
				created:  c.CreatedTime,
				fullName: c.Name + c.Surname,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.entry.Priority != b.entry.Priority {
			return a.entry.Priority < b.entry.Priority
		}
		if !a.start.Equal(b.start) {
			return a.start.Before(b.start)
		}
		if !a.created.Equal(b.created) {
			return a.created.Before(b.created)
		}
		return a.fullName < b.fullName
	})

	roster := make([]RosterEntry, len(candidates))
	for i, c := range candidates {
		roster[i] = c.entry
	}
	return roster
}
