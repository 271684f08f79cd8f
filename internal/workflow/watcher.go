package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"seisarchive/internal/logging"
)

// ErrWatcherClosed reports that the filesystem event source went away.
var ErrWatcherClosed = errors.New("watcher closed")

const (
	defaultSettle       = 5 * time.Second
	defaultPollInterval = 60 * time.Second
)

// stamp identifies one version of an incoming file.
type stamp struct {
	size    int64
	modTime time.Time
}

// Watcher feeds files arriving in the incoming directory to a Manager. A
// file is processed once it has been quiet for the settle delay. A periodic
// rescan picks up files whose events were missed; files that already ran
// are skipped until their size or modification time changes.
type Watcher struct {
	manager *Manager
	policy  string
	dir     string
	settle  time.Duration
	poll    time.Duration

	settled chan string
	queue   chan string

	mu   sync.Mutex
	seen map[string]stamp
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithSettle overrides workflow.settle_seconds.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.settle = d }
}

// WithPollInterval overrides workflow.poll_interval_seconds.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.poll = d }
}

// NewWatcher builds a watcher over the configured incoming directory.
func (m *Manager) NewWatcher(policyName string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		manager: m,
		policy:  policyName,
		dir:     m.cfg.Paths.IncomingDir,
		settle:  seconds(m.cfg.Workflow.SettleSeconds),
		poll:    seconds(m.cfg.Workflow.PollIntervalSeconds),
		settled: make(chan string, 64),
		queue:   make(chan string, 256),
		seen:    map[string]stamp{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.settle <= 0 {
		w.settle = defaultSettle
	}
	if w.poll <= 0 {
		w.poll = defaultPollInterval
	}
	return w
}

// Watch blocks until ctx is canceled.
func (m *Manager) Watch(ctx context.Context, policyName string) error {
	return m.NewWatcher(policyName).Run(ctx)
}

// Run watches until ctx is canceled. Files in flight finish before Run
// returns.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := w.manager.Driver(w.policy); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.manager.logger.Info("watching incoming directory",
		logging.String("dir", w.dir),
		logging.String("policy", w.policy),
		logging.Duration("settle", w.settle),
		logging.Duration("poll_interval", w.poll),
		logging.String(logging.FieldEventType, "watch_start"),
	)
	return w.loop(ctx, fsw.Events, fsw.Errors)
}

// loop dispatches watch events until ctx is canceled or the event source
// closes. Either way settle timers stop, queued files are dropped and runs
// already started finish before loop returns.
func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	logger := w.manager.logger
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runCtx := context.WithoutCancel(ctx)

	var workers errgroup.Group
	for range w.manager.workers() {
		workers.Go(func() error {
			w.work(loopCtx, runCtx)
			return nil
		})
	}

	pending := map[string]*time.Timer{}
	schedule := func(path string) {
		if ignored(filepath.Base(path)) {
			return
		}
		if t, ok := pending[path]; ok {
			t.Reset(w.settle)
			return
		}
		pending[path] = time.AfterFunc(w.settle, func() {
			select {
			case w.settled <- path:
			case <-loopCtx.Done():
			}
		})
	}

	rescan := time.NewTicker(w.poll)
	defer rescan.Stop()

	shutdown := func(err error) error {
		for _, t := range pending {
			t.Stop()
		}
		cancel()
		close(w.queue)
		_ = workers.Wait()
		if err != nil {
			logging.ErrorWithContext(logger, "watch stopped", "watch_stop",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "restart the watcher"),
			)
			return err
		}
		logger.Info("watch stopped", logging.String(logging.FieldEventType, "watch_stop"))
		return nil
	}

	w.rescan(schedule)
	for {
		select {
		case <-ctx.Done():
			return shutdown(nil)
		case event, ok := <-events:
			if !ok {
				return shutdown(ErrWatcherClosed)
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				schedule(event.Name)
			}
		case err, ok := <-errs:
			if !ok {
				return shutdown(ErrWatcherClosed)
			}
			logging.WarnWithContext(logger, "watch error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "events may be missed until the next rescan"),
			)
			if nerr := w.manager.notifier.NotifyError(ctx, err, "watch "+w.dir); nerr != nil {
				logger.Debug("error notification failed", logging.Error(nerr))
			}
		case path := <-w.settled:
			delete(pending, path)
			w.enqueue(path)
		case <-rescan.C:
			w.rescan(schedule)
		}
	}
}

func (w *Watcher) rescan(schedule func(string)) {
	files, err := ListIncoming(w.dir)
	if err != nil {
		w.manager.logger.Warn("rescan failed", logging.Error(err))
		return
	}
	for _, file := range files {
		if w.manager.inFlight(file) || !w.changed(file) {
			continue
		}
		schedule(file)
	}
}

func (w *Watcher) enqueue(path string) {
	if w.manager.inFlight(path) || !w.changed(path) {
		return
	}
	select {
	case w.queue <- path:
	default:
		w.manager.logger.Debug("queue full; leaving file for rescan", logging.String("path", path))
	}
}

// changed reports whether path exists as a regular file that has not yet
// been processed in its current form.
func (w *Watcher) changed(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok := w.seen[path]
	return !ok || prev.size != info.Size() || !prev.modTime.Equal(info.ModTime())
}

func (w *Watcher) markSeen(path string) {
	info, err := os.Stat(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		delete(w.seen, path)
		return
	}
	w.seen[path] = stamp{size: info.Size(), modTime: info.ModTime()}
}

func (w *Watcher) work(ctx, runCtx context.Context) {
	for path := range w.queue {
		if ctx.Err() != nil || !w.changed(path) {
			continue
		}
		w.markSeen(path)
		if _, err := w.manager.ProcessFile(runCtx, w.policy, path); err != nil {
			w.manager.logger.Warn("file not processed",
				logging.String("path", path),
				logging.Error(err),
			)
		}
		// A file still present after its run (a policy halt) waits for a
		// change before it is retried.
		w.markSeen(path)
	}
}
