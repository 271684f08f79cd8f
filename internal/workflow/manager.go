package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"seisarchive/internal/config"
	"seisarchive/internal/journal"
	"seisarchive/internal/logging"
	"seisarchive/internal/notifications"
	"seisarchive/internal/pipeline"
	"seisarchive/internal/policy"
	"seisarchive/internal/services"
	"seisarchive/internal/session"
)

// ErrInFlight reports a file already being processed by this manager.
var ErrInFlight = errors.New("file already in flight")

// Manager runs files through policy drivers.
type Manager struct {
	cfg      *config.Config
	table    *pipeline.Table
	policies policy.Set
	journal  *journal.Store
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	drivers  map[string]*pipeline.Driver
	inflight map[string]struct{}
	lastErr  error
	last     *pipeline.Result
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNotifier overrides the notifier built from configuration.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithJournal records every run in store.
func WithJournal(store *journal.Store) ManagerOption {
	return func(m *Manager) {
		m.journal = store
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, table *pipeline.Table, policies policy.Set, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		table:    table,
		policies: policies,
		notifier: notifications.NewService(cfg),
		logger:   logging.NewComponentLogger(logger, "workflow-manager"),
		now:      time.Now,
		drivers:  map[string]*pipeline.Driver{},
		inflight: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Driver returns the cached driver for the named policy.
func (m *Manager) Driver(name string) (*pipeline.Driver, error) {
	if name == "" {
		name = m.cfg.Workflow.DefaultPolicy
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.drivers[name]; ok {
		return d, nil
	}
	p, err := m.policies.Get(name)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "policy", "", err)
	}
	plan := p.Plan(func(stageName string) bool {
		_, ok := m.table.Lookup(stageName)
		return ok
	})
	d, err := pipeline.NewDriver(m.table, plan, m.logger)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "policy", "", err)
	}
	m.drivers[name] = d
	return d, nil
}

// ProcessFile drives the file at path through the named policy, journals
// the result and notifies on halts. The returned error covers setup and
// journaling only; pipeline outcomes are reported in the Result.
func (m *Manager) ProcessFile(ctx context.Context, policyName, path string) (pipeline.Result, error) {
	driver, err := m.Driver(policyName)
	if err != nil {
		return pipeline.Result{}, err
	}
	plan := driver.Plan()

	abs, err := filepath.Abs(path)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	if !m.claim(abs) {
		return pipeline.Result{}, fmt.Errorf("%w: %s", ErrInFlight, abs)
	}
	defer m.release(abs)

	ctx = services.WithRequestID(ctx, uuid.NewString())
	sess := session.New(abs, session.WithPlaceholder(m.cfg.Handle.Placeholder))
	started := m.now()
	res := driver.Run(ctx, sess)
	m.setLast(res)

	logger := logging.WithContext(services.WithFile(ctx, sess.CanonicalName()), m.logger)
	var journalErr error
	if m.journal != nil {
		entry := m.entry(plan.Name, res, started)
		if err := m.journal.Record(ctx, &entry); err != nil {
			journalErr = fmt.Errorf("journal %s: %w", sess.CanonicalName(), err)
			logging.WarnWithContext(logger, "run not journaled", "journal_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run outcome only available in logs"),
				logging.String(logging.FieldErrorHint, "check state_dir permissions and free space"),
			)
		}
	}
	if res.Halted {
		if err := m.notifier.NotifyHalt(ctx, notifications.Halt{
			File:    sess.CanonicalName(),
			Stage:   res.Stage,
			Code:    res.Reason.Code,
			Class:   string(res.Reason.Class),
			Message: res.Reason.Message,
		}); err != nil {
			logger.Debug("halt notification failed", logging.Error(err))
		}
	}
	return res, journalErr
}

func (m *Manager) entry(policyName string, res pipeline.Result, started time.Time) journal.Entry {
	sess := res.Session
	entry := journal.Entry{
		File:          sess.CanonicalName(),
		SourcePath:    sess.Source(),
		Policy:        policyName,
		State:         string(res.State),
		Exit:          sess.Exit().String(),
		Stage:         res.Stage,
		ReasonCode:    res.Reason.Code,
		ReasonClass:   string(res.Reason.Class),
		ReasonMessage: res.Reason.Message,
		FinalPath:     res.Path,
		Trail:         res.Trail,
		StartedAt:     started.UTC(),
		FinishedAt:    m.now().UTC(),
	}
	if id, err := sess.Identifier(); err == nil {
		entry.Identifier = id
	}
	if data, err := sess.JSON(); err == nil {
		entry.SessionJSON = data
	}
	if res.Err != nil {
		entry.ErrorMessage = services.Details(res.Err).Message
	}
	return entry
}

// BatchSummary totals one RunOnce pass.
type BatchSummary struct {
	Processed int
	Halted    int
	Failed    int
	Duration  time.Duration
	Results   []pipeline.Result
}

// RunOnce processes every file currently in the incoming directory.
func (m *Manager) RunOnce(ctx context.Context, policyName string) (BatchSummary, error) {
	if _, err := m.Driver(policyName); err != nil {
		return BatchSummary{}, err
	}
	files, err := ListIncoming(m.cfg.Paths.IncomingDir)
	if err != nil {
		return BatchSummary{}, err
	}
	summary, err := m.ProcessFiles(ctx, policyName, files)
	if err != nil {
		return summary, err
	}
	if summary.Processed > 0 {
		if err := m.notifier.NotifyBatchCompleted(ctx, summary.Processed, summary.Halted, summary.Duration); err != nil {
			m.logger.Debug("batch notification failed", logging.Error(err))
		}
	}
	return summary, nil
}

// ProcessFiles runs files with at most workflow.workers in parallel.
func (m *Manager) ProcessFiles(ctx context.Context, policyName string, files []string) (BatchSummary, error) {
	start := m.now()
	results := make([]pipeline.Result, len(files))
	processed := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers())
	for i, file := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := m.ProcessFile(gctx, policyName, file)
			if errors.Is(err, ErrInFlight) {
				return nil
			}
			if err != nil && res.Session == nil {
				m.setLastErr(err)
				return err
			}
			results[i] = res
			processed[i] = true
			return nil
		})
	}
	err := g.Wait()

	summary := BatchSummary{Duration: m.now().Sub(start)}
	for i, ok := range processed {
		if !ok {
			continue
		}
		summary.Processed++
		summary.Results = append(summary.Results, results[i])
		if results[i].Halted {
			summary.Halted++
			if results[i].Session.Exit() == session.ExitHardFail {
				summary.Failed++
			}
		}
	}
	m.logger.Info("batch finished",
		logging.Int("processed", summary.Processed),
		logging.Int("halted", summary.Halted),
		logging.Int("failed", summary.Failed),
		logging.Duration("duration", summary.Duration),
		logging.String(logging.FieldEventType, "batch_complete"),
	)
	if err == nil {
		err = ctx.Err()
	}
	return summary, err
}

func (m *Manager) workers() int {
	if m.cfg.Workflow.Workers > 0 {
		return m.cfg.Workflow.Workers
	}
	return 1
}

func (m *Manager) claim(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[path]; busy {
		return false
	}
	m.inflight[path] = struct{}{}
	return true
}

func (m *Manager) release(path string) {
	m.mu.Lock()
	delete(m.inflight, path)
	m.mu.Unlock()
}

func (m *Manager) inFlight(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, busy := m.inflight[path]
	return busy
}

func (m *Manager) setLast(res pipeline.Result) {
	m.mu.Lock()
	m.last = &res
	if res.Err != nil {
		m.lastErr = res.Err
	}
	m.mu.Unlock()
}

func (m *Manager) setLastErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// ListIncoming returns the regular, non-hidden files directly under dir in
// name order.
func ListIncoming(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read incoming dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || ignored(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// ignored skips dotfiles and partial uploads.
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".tmp")
}
