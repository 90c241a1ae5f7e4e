package addressbook

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/snarg/klaxon/internal/database"
)

var onDutyNow = time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)

func window(startOffset, endOffset time.Duration, priority int) database.AvailabilityWindow {
	return database.AvailabilityWindow{
		StartAt:  onDutyNow.Add(startOffset),
		EndAt:    onDutyNow.Add(endOffset),
		Priority: priority,
	}
}

func contact(name, phone string, created time.Duration, enabled bool, windows ...database.AvailabilityWindow) database.Contact {
	return database.Contact{
		ID:           uuid.New(),
		Name:         name,
		PhoneNumber:  phone,
		Enabled:      enabled,
		CreatedTime:  onDutyNow.Add(created),
		Availability: windows,
	}
}

func phones(roster []RosterEntry) []string {
	out := make([]string, len(roster))
	for i, e := range roster {
		out[i] = e.PhoneNumber
	}
	return out
}

func TestOnDutyOrdersByPriority(t *testing.T) {
	contacts := []database.Contact{
		contact("backup", "+2", 0, true, window(-time.Hour, time.Hour, 2)),
		contact("primary", "+1", 0, true, window(-time.Hour, time.Hour, 1)),
	}

	roster := OnDuty(contacts, onDutyNow)
	if got := phones(roster); len(got) != 2 || got[0] != "+1" || got[1] != "+2" {
		t.Errorf("roster = %v, want [+1 +2]", got)
	}
}

func TestOnDutyBreaksTiesByWindowStart(t *testing.T) {
	contacts := []database.Contact{
		contact("late", "+2", 0, true, window(-time.Hour, time.Hour, 1)),
		contact("early", "+1", 0, true, window(-2*time.Hour, time.Hour, 1)),
	}

	roster := OnDuty(contacts, onDutyNow)
	if got := phones(roster); got[0] != "+1" {
		t.Errorf("roster = %v, want the earlier window first", got)
	}
}

func TestOnDutyBreaksTiesByCreatedTime(t *testing.T) {
	w := window(-time.Hour, time.Hour, 1)
	contacts := []database.Contact{
		contact("newer", "+2", -time.Hour, true, w),
		contact("older", "+1", -48*time.Hour, true, w),
	}

	roster := OnDuty(contacts, onDutyNow)
	if got := phones(roster); got[0] != "+1" {
		t.Errorf("roster = %v, want the older contact first", got)
	}
}

func TestOnDutyBreaksTiesByName(t *testing.T) {
	w := window(-time.Hour, time.Hour, 1)
	created := -time.Hour
	contacts := []database.Contact{
		contact("zoe", "+2", created, true, w),
		contact("amy", "+1", created, true, w),
	}

	roster := OnDuty(contacts, onDutyNow)
	if got := phones(roster); got[0] != "+1" {
		t.Errorf("roster = %v, want alphabetical order on full ties", got)
	}
}

func TestOnDutySkipsDisabledAndOffDuty(t *testing.T) {
	contacts := []database.Contact{
		contact("disabled", "+1", 0, false, window(-time.Hour, time.Hour, 1)),
		contact("off-duty", "+2", 0, true, window(time.Hour, 2*time.Hour, 1)),
		contact("expired", "+3", 0, true, window(-2*time.Hour, -time.Hour, 1)),
		contact("on-duty", "+4", 0, true, window(-time.Hour, time.Hour, 1)),
	}

	roster := OnDuty(contacts, onDutyNow)
	if got := phones(roster); len(got) != 1 || got[0] != "+4" {
		t.Errorf("roster = %v, want only the on-duty contact", got)
	}
}

func TestOnDutyWindowBoundsAreInclusive(t *testing.T) {
	contacts := []database.Contact{
		contact("edge", "+1", 0, true, database.AvailabilityWindow{
			StartAt: onDutyNow, EndAt: onDutyNow, Priority: 1,
		}),
	}
	if roster := OnDuty(contacts, onDutyNow); len(roster) != 1 {
		t.Error("a window starting and ending exactly now should match")
	}
}

func TestOnDutyListsOneEntryPerMatchingWindow(t *testing.T) {
	contacts := []database.Contact{
		contact("double", "+1", 0, true,
			window(-time.Hour, time.Hour, 3),
			window(-2*time.Hour, 2*time.Hour, 1),
		),
	}

	roster := OnDuty(contacts, onDutyNow)
	if len(roster) != 2 {
		t.Fatalf("roster entries = %d, want one per matching window", len(roster))
	}
	if roster[0].Priority != 1 || roster[1].Priority != 3 {
		t.Errorf("priorities = %d,%d, want 1,3", roster[0].Priority, roster[1].Priority)
	}
}

func TestOnDutyEmptyBook(t *testing.T) {
	if roster := OnDuty(nil, onDutyNow); len(roster) != 0 {
		t.Errorf("roster = %v, want empty", roster)
	}
}
