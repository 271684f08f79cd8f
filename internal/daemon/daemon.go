package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"

	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/workflow"
)

// ErrAlreadyRunning reports that another process holds the watch lock.
var ErrAlreadyRunning = errors.New("another seisarchive watcher is already running")

// Daemon coordinates the watcher and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	workflow *workflow.Manager
	policy   string

	lockPath string
	lock     *flock.Flock
	metrics  *metricsServer

	running atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                   `json:"running"`
	Policy       string                 `json:"policy"`
	LockFilePath string                 `json:"lock_file"`
	Workflow     workflow.StatusSummary `json:"workflow"`
}

// New constructs a daemon that watches with the named policy.
func New(cfg *config.Config, wf *workflow.Manager, policyName string, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || wf == nil {
		return nil, errors.New("daemon requires config and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if policyName == "" {
		policyName = cfg.Workflow.DefaultPolicy
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		workflow: wf,
		policy:   policyName,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.metrics = newMetricsServer(cfg, d, d.logger)
	return d, nil
}

// Run acquires the lock and watches until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.running.Store(false)

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, d.lockPath)
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	if err := d.metrics.start(ctx); err != nil {
		return err
	}
	defer d.metrics.stop()

	d.logger.Info("seisarchive watcher started",
		logging.String("lock", d.lockPath),
		logging.String("policy", d.policy),
	)
	err = d.workflow.Watch(ctx, d.policy)
	d.logger.Info("seisarchive watcher stopped")
	return err
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Policy:       d.policy,
		LockFilePath: d.lockPath,
		Workflow:     d.workflow.Status(ctx),
	}
}

// MetricsAddr returns the bound metrics address, or "" when the listener is
// disabled or not yet started.
func (d *Daemon) MetricsAddr() string {
	return d.metrics.addr()
}
