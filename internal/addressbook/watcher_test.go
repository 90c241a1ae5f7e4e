package addressbook

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const watcherCSV = "name,phone_number,enabled\nAda,+1555000,true\n"

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func startWatcher(t *testing.T, store *fakeStore, dir string) *Watcher {
	t.Helper()
	w := NewWatcher(store, dir, zerolog.Nop())
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcherImportsDroppedCSV(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{}
	startWatcher(t, store, dir)

	path := filepath.Join(dir, "oncall-week32.csv")
	if err := os.WriteFile(path, []byte(watcherCSV), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	waitFor(t, func() bool { return store.count() == 1 })
	waitFor(t, func() bool {
		_, err := os.Stat(path + importedSuffix)
		return err == nil
	})
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected the source file renamed after import")
	}
	if c := store.byPhone("+1555000"); c == nil || !c.Enabled {
		t.Errorf("imported contact = %+v", c)
	}
}

func TestWatcherImportsBacklogOnStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backlog.csv")
	if err := os.WriteFile(path, []byte(watcherCSV), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	store := &fakeStore{}
	startWatcher(t, store, dir)

	waitFor(t, func() bool { return store.count() == 1 })
	waitFor(t, func() bool {
		_, err := os.Stat(path + importedSuffix)
		return err == nil
	})
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{}
	startWatcher(t, store, dir)

	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a roster"), 0o644)
	os.WriteFile(filepath.Join(dir, "done.csv"+importedSuffix), []byte(watcherCSV), 0o644)

	// Sit past the debounce window; nothing should have been imported.
	time.Sleep(800 * time.Millisecond)
	if store.count() != 0 {
		t.Errorf("contacts = %d, want 0", store.count())
	}
}

func TestIsDroppedCSV(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"roster.csv", true},
		{"ROSTER.CSV", true},
		{"roster.csv.imported", false},
		{"roster.txt", false},
		{"csv", false},
	}
	for _, tc := range cases {
		if got := isDroppedCSV(tc.name); got != tc.want {
			t.Errorf("isDroppedCSV(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
