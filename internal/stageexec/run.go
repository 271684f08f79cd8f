// Package stageexec runs a single pipeline stage with the bookkeeping every
// stage shares: contract validation, panic recovery, lifecycle logging and
// duration metrics.
package stageexec

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"seisarchive/internal/logging"
	"seisarchive/internal/services"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
)

// Observer receives the duration and outcome of each stage execution.
type Observer func(stageName, outcome string, elapsed time.Duration)

// Options controls a single stage execution.
type Options struct {
	Logger   *slog.Logger
	Stage    stage.Stage
	Path     string
	Session  *session.Session
	Observer Observer
}

// Run validates the stage's required session fields, executes it and
// converts a panic into an infrastructure error. The returned signal is only
// meaningful when err is nil.
func Run(ctx context.Context, opts Options) (signal stage.Signal, err error) {
	if opts.Stage == nil {
		return stage.Signal{}, fmt.Errorf("stage handler unavailable")
	}
	if opts.Session == nil {
		return stage.Signal{}, fmt.Errorf("session is required")
	}
	name := opts.Stage.Name()

	stageCtx := logging.WithStage(ctx, name)
	stageLogger := logging.WithContext(stageCtx, opts.Logger)

	contract := opts.Stage.Contract()
	if err := opts.Session.Require(contract.Requires...); err != nil {
		return stage.Signal{}, fmt.Errorf("stage %s: %w", name, err)
	}

	stageLogger.Debug(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("path", opts.Path),
	)

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			stageLogger.Debug("stage panic stack", logging.String("stack", string(debug.Stack())))
			err = services.Wrap(services.ErrTransient, name, "run", fmt.Sprintf("panic: %v", r), nil)
			signal = stage.Signal{}
		}
		if opts.Observer != nil {
			opts.Observer(name, outcome(signal, err), time.Since(started))
		}
	}()

	signal, err = opts.Stage.Run(stageCtx, opts.Path, opts.Session)
	if err != nil {
		return stage.Signal{}, err
	}

	stageLogger.Debug(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("signal", strings.TrimSpace(signal.String())),
		logging.Duration("elapsed", time.Since(started)),
	)
	return signal, nil
}

func outcome(signal stage.Signal, err error) string {
	if err != nil {
		return "error"
	}
	return signal.Kind.String()
}
