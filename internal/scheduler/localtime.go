// Package scheduler accepts future-dated call requests and hands them to the
// dialer at their instant.
package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// Wall-clock layouts accepted for scheduled_at values without an offset.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var (
	// ErrAmbiguousTime marks a wall clock that occurs twice around a DST
	// fall-back transition.
	ErrAmbiguousTime = errors.New("local time is ambiguous")
	// ErrNonexistentTime marks a wall clock skipped by a DST spring-forward
	// transition.
	ErrNonexistentTime = errors.New("local time does not exist")
)

// ParseLocal interprets value as a wall clock in loc and returns the UTC
// instant. Wall clocks made ambiguous or nonexistent by a DST transition
// fail instead of silently picking a side. Values carrying an explicit
// offset are already unambiguous and pass straight through.
func ParseLocal(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}

	var wall time.Time
	var err error
	for _, layout := range localLayouts {
		wall, err = time.Parse(layout, value)
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse scheduled_at %q: unsupported format", value)
	}

	instants := localInstants(wall, loc)
	switch len(instants) {
	case 1:
		return instants[0].UTC(), nil
	case 0:
		return time.Time{}, fmt.Errorf("%w: %q in %s", ErrNonexistentTime, value, loc)
	default:
		return time.Time{}, fmt.Errorf("%w: %q in %s", ErrAmbiguousTime, value, loc)
	}
}

// localInstants returns every instant whose wall clock in loc matches wall.
// Offsets are sampled a day on either side of the naive instant, which
// brackets any single DST transition; each proposal is then verified against
// the zone for real.
func localInstants(wall time.Time, loc *time.Location) []time.Time {
	naive := wall.UTC()
	var out []time.Time
	for _, probe := range []time.Duration{-26 * time.Hour, 0, 26 * time.Hour} {
		_, off := naive.Add(probe).In(loc).Zone()
		cand := naive.Add(-time.Duration(off) * time.Second)
		if sameWall(cand.In(loc), wall) && !containsInstant(out, cand) {
			out = append(out, cand)
		}
	}
	return out
}

func sameWall(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute() && a.Second() == b.Second()
}

func containsInstant(ts []time.Time, t time.Time) bool {
	for _, x := range ts {
		if x.Equal(t) {
			return true
		}
	}
	return false
}
