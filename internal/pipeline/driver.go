// Package pipeline drives a file through the ordered stages of a policy.
//
// The driver owns every control decision: it validates stage contracts,
// resolves Goto targets against the stage table, classifies failures and
// sets the session exit. Stages only report what happened.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"seisarchive/internal/logging"
	"seisarchive/internal/services"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
	"seisarchive/internal/stageexec"
)

// State is the lifecycle position of a run.
type State string

const (
	StateReady   State = "ready"
	StateRunning State = "running"
	StateOK      State = "ok"
	StateError   State = "error"
)

// Plan names the ordered stages of a policy and the stages reachable only
// through a Goto.
type Plan struct {
	Name    string
	Stages  []string
	Detours []string
}

// Result is the outcome of one run.
type Result struct {
	State State
	// Path is the file location at termination; empty when it was deleted.
	Path string
	// Trail lists executed stages in order.
	Trail []string
	// Stage is the last stage that ran.
	Stage  string
	Halted bool
	Reason stage.Reason
	// Err is the failure behind an infrastructure or invariant halt.
	Err     error
	Session *session.Session
}

// Driver executes one plan. A Driver is safe for concurrent use as long as
// each call to Run receives its own Session.
type Driver struct {
	plan   Plan
	stages map[string]stage.Stage
	order  map[string]int
	logger *slog.Logger
}

// NewDriver binds plan to the stages in table. Every stage the plan names
// must be registered.
func NewDriver(table *Table, plan Plan, logger *slog.Logger) (*Driver, error) {
	if len(plan.Stages) == 0 {
		return nil, fmt.Errorf("policy %q has no stages", plan.Name)
	}
	d := &Driver{
		plan:   plan,
		stages: make(map[string]stage.Stage, len(plan.Stages)+len(plan.Detours)),
		order:  make(map[string]int, len(plan.Stages)),
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}
	for i, name := range plan.Stages {
		st, ok := table.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("policy %q: unknown stage %q", plan.Name, name)
		}
		if _, dup := d.order[name]; dup {
			return nil, fmt.Errorf("policy %q: stage %q listed twice", plan.Name, name)
		}
		d.stages[name] = st
		d.order[name] = i
	}
	for _, name := range plan.Detours {
		st, ok := table.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("policy %q: unknown detour stage %q", plan.Name, name)
		}
		d.stages[name] = st
	}
	return d, nil
}

// Plan returns the bound plan.
func (d *Driver) Plan() Plan { return d.plan }

// Run drives sess through the plan and returns the terminal result.
func (d *Driver) Run(ctx context.Context, sess *session.Session) Result {
	ctx = services.WithFile(ctx, sess.CanonicalName())
	ctx = services.WithPolicy(ctx, d.plan.Name)

	res := Result{State: StateRunning, Session: sess}
	jumped := map[string]bool{}
	next := 0
	current := ""

	for {
		if current == "" {
			if next >= len(d.plan.Stages) {
				break
			}
			current = d.plan.Stages[next]
		}
		st := d.stages[current]
		res.Stage = current
		res.Trail = append(res.Trail, current)

		signal, err := d.execute(ctx, st, sess)
		if err != nil {
			return d.fail(ctx, res, err)
		}

		switch signal.Kind {
		case stage.KindContinue:
		case stage.KindHalt:
			return d.halt(ctx, res, signal.Reason)
		case stage.KindGoto:
			target := signal.Target
			if _, ok := d.stages[target]; !ok {
				return d.halt(ctx, res, stage.Reason{
					Code:    stage.CodeUnknownTarget,
					Message: fmt.Sprintf("goto to unregistered stage %q", target),
					Class:   stage.ClassInvariant,
				})
			}
			if jumped[target] {
				return d.halt(ctx, res, stage.Reason{
					Code:    stage.CodeRedirectLoop,
					Message: fmt.Sprintf("stage %q already reached by goto", target),
					Class:   stage.ClassInvariant,
				})
			}
			jumped[target] = true
			res.Reason = signal.Reason
			sess.SetGoto(target)
			logging.WithContext(ctx, d.logger).Info("detouring",
				logging.String(logging.FieldStage, current),
				logging.String("target", target),
				logging.String(logging.FieldReasonCode, signal.Reason.Code),
				logging.String(logging.FieldEventType, "stage_goto"),
			)
			current = target
			sess.ClearGoto()
			continue
		default:
			return d.fail(ctx, res, services.Wrap(services.ErrInvariant, current, "signal",
				fmt.Sprintf("unknown signal kind %s", signal.Kind), nil))
		}

		idx, ordered := d.order[current]
		if !ordered {
			// Detour stages are terminal.
			sess.SetExit(session.ExitSoftStop)
			return d.finish(ctx, res, StateOK)
		}
		next = idx + 1
		current = ""
	}

	res.Reason = stage.Reason{}
	return d.finish(ctx, res, StateOK)
}

func (d *Driver) execute(ctx context.Context, st stage.Stage, sess *session.Session) (stage.Signal, error) {
	if err := ctx.Err(); err != nil {
		return stage.Signal{}, err
	}
	path, err := stagePath(st, sess)
	if err != nil {
		return stage.Signal{}, err
	}
	return stageexec.Run(ctx, stageexec.Options{
		Logger:   d.logger,
		Stage:    st,
		Path:     path,
		Session:  sess,
		Observer: observeStage,
	})
}

// stagePath picks the file a stage operates on. Versioned input is only
// handed to stages that declare they consume it; every other stage works on
// the scratch copy until the file is relocated.
func stagePath(st stage.Stage, sess *session.Session) (string, error) {
	if !sess.Versioned() {
		return sess.Location(), nil
	}
	if st.Contract().RawVersioned {
		return sess.Source(), nil
	}
	wc, err := sess.WorkingCopy()
	if err != nil {
		return "", fmt.Errorf("stage %s needs the working copy of %s: %w", st.Name(), sess.Source(), err)
	}
	if sess.Location() == sess.Source() {
		return wc.Path, nil
	}
	return sess.Location(), nil
}

func (d *Driver) fail(ctx context.Context, res Result, err error) Result {
	reason := stage.Reason{Code: stage.CodeInfrastructure, Class: stage.ClassInfrastructure}
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		reason.Code = stage.CodeCanceled
	case services.IsInvariant(err):
		reason.Code = stage.CodeInvariant
		reason.Class = stage.ClassInvariant
	}
	details := services.Details(err)
	reason.Message = strings.TrimSpace(details.Message)
	res.Err = err
	return d.halt(ctx, res, reason)
}

// halt terminates the run. A halt without a class is a successful early
// stop.
func (d *Driver) halt(ctx context.Context, res Result, reason stage.Reason) Result {
	res.Reason = reason
	if reason.Class == "" {
		res.Session.SetExit(session.ExitSoftStop)
		logging.WithContext(ctx, d.logger).Info("run stopped early",
			logging.String(logging.FieldStage, res.Stage),
			logging.String(logging.FieldReasonCode, reason.Code),
			logging.String(logging.FieldEventType, "run_stop"),
		)
		return d.finish(ctx, res, StateOK)
	}

	res.Halted = true
	if reason.Class == stage.ClassPolicy {
		res.Session.SetExit(session.ExitSoftStop)
		if _, err := res.Session.Rejection(); err != nil {
			res.Session.SetRejection(session.Rejection{Stage: res.Stage, Code: reason.Code, Message: reason.Message})
		}
	} else {
		res.Session.SetExit(session.ExitHardFail)
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldStage, res.Stage),
		logging.String(logging.FieldReasonCode, reason.Code),
		logging.String("class", string(reason.Class)),
		logging.String("reason", reason.Message),
		logging.String("location", res.Session.Location()),
		logging.String(logging.FieldErrorHint, haltHint(reason.Class)),
	}
	if res.Err != nil {
		attrs = append(attrs, logging.Error(res.Err))
	}
	logging.ErrorWithContext(logging.WithContext(ctx, d.logger), "run halted", "run_halt", attrs...)
	return d.finish(ctx, res, StateError)
}

func haltHint(class stage.Class) string {
	switch class {
	case stage.ClassPolicy:
		return "inspect the rejected file under the bad archive"
	case stage.ClassInvariant:
		return "run versions on the identifier and repair the metadata store"
	default:
		return "check the external service and rerun the file"
	}
}

func (d *Driver) finish(ctx context.Context, res Result, state State) Result {
	res.State = state
	res.Path = res.Session.Location()
	recordResult(d.plan.Name, res)
	if state == StateOK {
		logging.WithContext(ctx, d.logger).Info("run finished",
			logging.String("path", res.Path),
			logging.String("trail", strings.Join(res.Trail, ",")),
			logging.String("exit", res.Session.Exit().String()),
			logging.String(logging.FieldEventType, "run_complete"),
		)
	}
	return res
}
