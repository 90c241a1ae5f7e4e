package addressbook

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const importedSuffix = ".imported"

// Watcher imports contact CSVs dropped into a directory. Files are imported
// once and renamed with an .imported suffix so restarts never re-apply them.
type Watcher struct {
	store store
	dir   string
	log   zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesImported atomic.Int64
}

func NewWatcher(store store, dir string, log zerolog.Logger) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		store:          store,
		dir:            dir,
		log:            log.With().Str("component", "addressbook-watcher").Logger(),
		ctx:            ctx,
		cancel:         cancel,
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Start begins watching the drop directory and imports any CSVs already
// waiting there.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw

	w.wg.Add(1)
	go w.watchLoop()

	// Backlog: files dropped while the service was down.
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn().Err(err).Str("dir", w.dir).Msg("backlog scan failed")
	} else {
		for _, e := range entries {
			if !e.IsDir() && isDroppedCSV(e.Name()) {
				w.importFile(filepath.Join(w.dir, e.Name()))
			}
		}
	}

	w.log.Info().Str("dir", w.dir).Msg("contact drop directory watched")
	return nil
}

// Stop closes the watcher and waits for in-flight imports.
func (w *Watcher) Stop() {
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
	w.log.Info().Int64("files_imported", w.filesImported.Load()).Msg("contact watcher stopped")
}

func isDroppedCSV(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".csv") && !strings.HasSuffix(lower, importedSuffix)
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isDroppedCSV(filepath.Base(event.Name)) {
				continue
			}
			w.scheduleImport(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleImport debounces by 500ms so the file is fully written before the
// importer reads it.
func (w *Watcher) scheduleImport(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}
	w.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.wg.Add(1)
		defer w.wg.Done()
		w.importFile(path)
	})
}

func (w *Watcher) importFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("dropped CSV unreadable")
		return
	}
	report, err := ImportCSV(w.ctx, w.store, f)
	f.Close()
	if err != nil {
		w.log.Error().Err(err).Str("path", path).Msg("dropped CSV import failed")
		return
	}

	if err := os.Rename(path, path+importedSuffix); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("imported CSV rename failed")
	}
	w.filesImported.Add(1)
	w.log.Info().
		Str("path", path).
		Int("processed", report.ProcessedRows).
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("errors", report.ErrorsCount).
		Msg("dropped CSV imported")
}
