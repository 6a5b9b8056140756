package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docflowhq/docflow/internal/documents/domain"
	"github.com/docflowhq/docflow/internal/ratelimit"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const dropClaimTTL = 5 * time.Minute

// Watcher feeds files dropped into a transfer directory through Ingest.
// fsnotify events catch new arrivals immediately; the periodic rescan catches
// anything dropped while the process was down or the event was lost.
type Watcher struct {
	svc      *Service
	log      *zap.Logger
	locker   *ratelimit.Locker
	dir      string
	rescan   time.Duration
	debounce time.Duration
}

func NewWatcher(svc *Service, log *zap.Logger, locker *ratelimit.Locker, dir string, rescan time.Duration) *Watcher {
	return &Watcher{
		svc:      svc,
		log:      log.Named("ingest.watcher"),
		locker:   locker,
		dir:      dir,
		rescan:   rescan,
		debounce: 2 * time.Second,
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	if strings.TrimSpace(w.dir) == "" {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}

	w.scan(ctx)

	ticker := time.NewTicker(w.rescan)
	defer ticker.Stop()

	pending := map[string]time.Time{}
	flush := time.NewTicker(w.debounce)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-fw.Events:
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				// Writes arrive in bursts while the transfer is in
				// progress; wait for the file to settle.
				pending[ev.Name] = time.Now()
			}

		case <-flush.C:
			for path, seen := range pending {
				if time.Since(seen) < w.debounce {
					continue
				}
				delete(pending, path)
				w.claim(ctx, path)
			}

		case <-ticker.C:
			w.scan(ctx)

		case err := <-fw.Errors:
			w.log.Warn("drop watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn("drop dir scan failed", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			continue
		}
		w.claim(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

// claim takes a short redis lease on the file name so two instances watching
// the same share do not double-ingest, then hands the bytes to Ingest and
// removes the drop file on success or duplicate.
func (w *Watcher) claim(ctx context.Context, path string) {
	name := filepath.Base(path)
	if strings.HasSuffix(name, ".tmp") || strings.HasPrefix(name, ".") {
		return
	}
	if _, ok := acceptedExts[strings.ToLower(filepath.Ext(name))]; !ok {
		return
	}

	var token string
	if w.locker != nil {
		var held bool
		var err error
		token, held, err = w.locker.TryLock(ctx, "ingest:drop:"+name, dropClaimTTL)
		if err != nil {
			w.log.Warn("drop claim failed", zap.String("file", name), zap.Error(err))
			return
		}
		if !held {
			return
		}
		defer w.locker.Release(ctx, "ingest:drop:"+name, token)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.log.Warn("drop file read failed", zap.String("file", name), zap.Error(err))
		}
		return
	}

	_, err = w.svc.Ingest(ctx, name, data, "drop", 0)
	if err != nil && !errors.Is(err, domain.ErrDuplicateFile) {
		w.log.Error("drop ingest failed", zap.String("file", name), zap.Error(err))
		return
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.log.Warn("drop file cleanup failed", zap.String("file", name), zap.Error(err))
	}
}
