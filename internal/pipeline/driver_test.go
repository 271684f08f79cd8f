package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"seisarchive/internal/logging"
	"seisarchive/internal/services"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
)

type stubStage struct {
	name     string
	contract stage.Contract
	run      func(path string, sess *session.Session) (stage.Signal, error)
	paths    []string
}

func (s *stubStage) Name() string             { return s.name }
func (s *stubStage) Contract() stage.Contract { return s.contract }
func (s *stubStage) Run(_ context.Context, path string, sess *session.Session) (stage.Signal, error) {
	s.paths = append(s.paths, path)
	if s.run == nil {
		return stage.Continue(), nil
	}
	return s.run(path, sess)
}

func signalStage(name string, signal stage.Signal) *stubStage {
	return &stubStage{name: name, run: func(string, *session.Session) (stage.Signal, error) { return signal, nil }}
}

func errorStage(name string, err error) *stubStage {
	return &stubStage{name: name, run: func(string, *session.Session) (stage.Signal, error) { return stage.Signal{}, err }}
}

// errorCounter counts error records.
type errorCounter struct {
	mu     sync.Mutex
	errors int
}

func (h *errorCounter) Enabled(context.Context, slog.Level) bool { return true }
func (h *errorCounter) Handle(_ context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		h.mu.Lock()
		h.errors++
		h.mu.Unlock()
	}
	return nil
}
func (h *errorCounter) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *errorCounter) WithGroup(string) slog.Handler      { return h }

func newDriver(t *testing.T, plan Plan, logger *slog.Logger, stages ...stage.Stage) *Driver {
	t.Helper()
	table, err := NewTable(stages...)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d, err := NewDriver(table, plan, logger)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	return d
}

const input = "/incoming/IV.ACER..HHZ.D.2024.010"

func TestRunAllContinue(t *testing.T) {
	a, b := &stubStage{name: "a"}, &stubStage{name: "b"}
	d := newDriver(t, Plan{Name: "p", Stages: []string{"a", "b"}}, nil, a, b)

	res := d.Run(context.Background(), session.New(input))
	if res.State != StateOK || res.Halted || res.Session.Exit() != session.ExitContinue {
		t.Fatalf("unexpected result %+v", res)
	}
	if diff := cmp.Diff([]string{"a", "b"}, res.Trail); diff != "" {
		t.Fatalf("trail mismatch (-want +got):\n%s", diff)
	}
	if res.Path != input || a.paths[0] != input {
		t.Fatalf("path = %q, stage saw %v", res.Path, a.paths)
	}
}

func TestRunPolicyHalt(t *testing.T) {
	counter := &errorCounter{}
	after := &stubStage{name: "c"}
	d := newDriver(t, Plan{Name: "p", Stages: []string{"a", "b", "c"}}, slog.New(counter),
		&stubStage{name: "a"}, signalStage("b", stage.Halt("duplicate", "already archived")), after)

	before := testutil.ToFloat64(halts.WithLabelValues("b", "duplicate", string(stage.ClassPolicy)))
	res := d.Run(context.Background(), session.New(input))
	if res.State != StateError || !res.Halted || res.Reason.Code != "duplicate" || res.Stage != "b" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Session.Exit() != session.ExitSoftStop {
		t.Fatalf("exit = %s, want soft-stop", res.Session.Exit())
	}
	rejection, err := res.Session.Rejection()
	if err != nil {
		t.Fatalf("expected the halt recorded as a rejection: %v", err)
	}
	if diff := cmp.Diff(session.Rejection{Stage: "b", Code: "duplicate", Message: "already archived"}, rejection); diff != "" {
		t.Fatalf("rejection mismatch (-want +got):\n%s", diff)
	}
	if len(after.paths) != 0 {
		t.Fatal("stage after halt ran")
	}
	if counter.errors != 1 {
		t.Fatalf("expected exactly one error log, got %d", counter.errors)
	}
	if got := testutil.ToFloat64(halts.WithLabelValues("b", "duplicate", string(stage.ClassPolicy))); got != before+1 {
		t.Fatalf("halt counter = %v, want %v", got, before+1)
	}
}

func TestRunStopIsSuccessful(t *testing.T) {
	counter := &errorCounter{}
	d := newDriver(t, Plan{Name: "p", Stages: []string{"a", "b"}}, slog.New(counter),
		signalStage("a", stage.Stop("catalog-restored", "")), &stubStage{name: "b"})

	res := d.Run(context.Background(), session.New(input))
	if res.State != StateOK || res.Halted || res.Session.Exit() != session.ExitSoftStop {
		t.Fatalf("unexpected result %+v", res)
	}
	if counter.errors != 0 {
		t.Fatalf("stop logged %d errors", counter.errors)
	}
}

func TestRunGotoDetourIsTerminal(t *testing.T) {
	detour := &stubStage{name: "delinput"}
	last := &stubStage{name: "c"}
	d := newDriver(t, Plan{Name: "p", Stages: []string{"a", "c"}, Detours: []string{"delinput"}}, nil,
		signalStage("a", stage.Goto("delinput", "not-authoritative", "")), last, detour)

	res := d.Run(context.Background(), session.New(input))
	if res.State != StateOK || res.Session.Exit() != session.ExitSoftStop {
		t.Fatalf("unexpected result %+v", res)
	}
	if diff := cmp.Diff([]string{"a", "delinput"}, res.Trail); diff != "" {
		t.Fatalf("trail mismatch (-want +got):\n%s", diff)
	}
	if len(last.paths) != 0 {
		t.Fatal("ordered stage ran after terminal detour")
	}
	if _, pending := res.Session.GotoTarget(); pending {
		t.Fatal("goto target not cleared")
	}
	if res.Reason.Code != "not-authoritative" {
		t.Fatalf("reason = %+v", res.Reason)
	}
}

func TestRunGotoOrderedStageContinuesAfterIt(t *testing.T) {
	skipped := &stubStage{name: "b"}
	d := newDriver(t, Plan{Name: "p", Stages: []string{"a", "b", "c", "d"}}, nil,
		signalStage("a", stage.Goto("c", "skip", "")), skipped, &stubStage{name: "c"}, &stubStage{name: "d"})

	res := d.Run(context.Background(), session.New(input))
	if res.State != StateOK {
		t.Fatalf("unexpected result %+v", res)
	}
	if diff := cmp.Diff([]string{"a", "c", "d"}, res.Trail); diff != "" {
		t.Fatalf("trail mismatch (-want +got):\n%s", diff)
	}
}

func TestRunGotoFailures(t *testing.T) {
	t.Run("unknown target", func(t *testing.T) {
		d := newDriver(t, Plan{Name: "p", Stages: []string{"a"}}, nil,
			signalStage("a", stage.Goto("nowhere", "x", "")))
		res := d.Run(context.Background(), session.New(input))
		if res.Reason.Code != stage.CodeUnknownTarget || res.Reason.Class != stage.ClassInvariant {
			t.Fatalf("unexpected reason %+v", res.Reason)
		}
		if res.Session.Exit() != session.ExitHardFail {
			t.Fatalf("exit = %s", res.Session.Exit())
		}
	})

	t.Run("registered but outside plan", func(t *testing.T) {
		table, _ := NewTable(signalStage("a", stage.Goto("other", "x", "")), &stubStage{name: "other"})
		d, err := NewDriver(table, Plan{Name: "p", Stages: []string{"a"}}, logging.NewNop())
		if err != nil {
			t.Fatalf("NewDriver: %v", err)
		}
		if res := d.Run(context.Background(), session.New(input)); res.Reason.Code != stage.CodeUnknownTarget {
			t.Fatalf("unexpected reason %+v", res.Reason)
		}
	})

	t.Run("redirect loop", func(t *testing.T) {
		d := newDriver(t, Plan{Name: "p", Stages: []string{"a", "b"}}, nil,
			&stubStage{name: "a"}, signalStage("b", stage.Goto("a", "retry", "")))
		res := d.Run(context.Background(), session.New(input))
		if res.Reason.Code != stage.CodeRedirectLoop || res.Reason.Class != stage.ClassInvariant {
			t.Fatalf("unexpected reason %+v", res.Reason)
		}
		if diff := cmp.Diff([]string{"a", "b", "a", "b"}, res.Trail); diff != "" {
			t.Fatalf("trail mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestRunFailureClassification(t *testing.T) {
	invariant := services.Wrap(services.ErrInvariant, "x", "op", "broken chain", nil)
	tests := []struct {
		name      string
		stage     stage.Stage
		wantCode  string
		wantClass stage.Class
	}{
		{"infrastructure", errorStage("a", errors.New("disk full")), stage.CodeInfrastructure, stage.ClassInfrastructure},
		{"invariant", errorStage("a", invariant), stage.CodeInvariant, stage.ClassInvariant},
		{"canceled", errorStage("a", context.Canceled), stage.CodeCanceled, stage.ClassInfrastructure},
		{"panic", &stubStage{name: "a", run: func(string, *session.Session) (stage.Signal, error) { panic("boom") }},
			stage.CodeInfrastructure, stage.ClassInfrastructure},
		{"missing required field", &stubStage{name: "a", contract: stage.Contract{Requires: []session.Field{session.FieldIdentifier}}},
			stage.CodeInvariant, stage.ClassInvariant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &errorCounter{}
			d := newDriver(t, Plan{Name: "p", Stages: []string{"a"}}, slog.New(counter), tt.stage)
			res := d.Run(context.Background(), session.New(input))
			if res.State != StateError || res.Reason.Code != tt.wantCode || res.Reason.Class != tt.wantClass {
				t.Fatalf("unexpected result %+v", res)
			}
			if res.Err == nil || res.Session.Exit() != session.ExitHardFail {
				t.Fatalf("expected hard fail with error, got %+v", res)
			}
			if counter.errors != 1 {
				t.Fatalf("expected one error log, got %d", counter.errors)
			}
		})
	}
}

func TestRunCanceledContextStopsBeforeStage(t *testing.T) {
	a := &stubStage{name: "a"}
	d := newDriver(t, Plan{Name: "p", Stages: []string{"a"}}, nil, a)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.Run(ctx, session.New(input))
	if res.Reason.Code != stage.CodeCanceled || len(a.paths) != 0 {
		t.Fatalf("unexpected result %+v, ran %d", res, len(a.paths))
	}
}

func TestRunVersionedInputPaths(t *testing.T) {
	versioned := "/incoming/IV.ACER..HHZ.D.2024.010#22133.abcd"
	working := "/scratch/IV.ACER..HHZ.D.2024.010"

	pre := &stubStage{name: "preflight", contract: stage.Contract{RawVersioned: true},
		run: func(_ string, sess *session.Session) (stage.Signal, error) {
			sess.SetWorkingCopy(session.WorkingCopy{Path: working, CanonicalName: "IV.ACER..HHZ.D.2024.010"})
			return stage.Continue(), nil
		}}
	check := &stubStage{name: "sanitychecks"}
	move := &stubStage{name: "move2archive", run: func(_ string, sess *session.Session) (stage.Signal, error) {
		sess.SetLocation("/trust/IV.ACER..HHZ.D.2024.010")
		return stage.Continue(), nil
	}}
	collect := &stubStage{name: "wfccollector"}

	d := newDriver(t, Plan{Name: "checkin", Stages: []string{"preflight", "sanitychecks", "move2archive", "wfccollector"}}, nil,
		pre, check, move, collect)
	res := d.Run(context.Background(), session.New(versioned))
	if res.State != StateOK {
		t.Fatalf("unexpected result %+v", res)
	}
	if pre.paths[0] != versioned || check.paths[0] != working || move.paths[0] != working {
		t.Fatalf("unexpected stage paths: pre=%v check=%v move=%v", pre.paths, check.paths, move.paths)
	}
	if collect.paths[0] != "/trust/IV.ACER..HHZ.D.2024.010" || res.Path != collect.paths[0] {
		t.Fatalf("collector saw %v, result path %q", collect.paths, res.Path)
	}
}

func TestRunVersionedInputWithoutWorkingCopyHalts(t *testing.T) {
	check := &stubStage{name: "sanitychecks"}
	d := newDriver(t, Plan{Name: "checkin", Stages: []string{"preflight", "sanitychecks"}}, nil,
		&stubStage{name: "preflight", contract: stage.Contract{RawVersioned: true}}, check)

	res := d.Run(context.Background(), session.New("/incoming/IV.ACER..HHZ.D.2024.010#22133.abcd"))
	if res.Reason.Code != stage.CodeInvariant || !errors.Is(res.Err, session.ErrMissingField) {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(check.paths) != 0 {
		t.Fatal("stage ran without working copy")
	}
}

func TestNewDriverRejectsUnknownStages(t *testing.T) {
	table, err := NewTable(&stubStage{name: "a"})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if _, err := NewDriver(table, Plan{Name: "p", Stages: []string{"a", "b"}}, logging.NewNop()); err == nil {
		t.Fatal("expected error for unknown stage")
	}
	if _, err := NewDriver(table, Plan{Name: "p", Stages: []string{"a"}, Detours: []string{"z"}}, logging.NewNop()); err == nil {
		t.Fatal("expected error for unknown detour")
	}
	if _, err := NewDriver(table, Plan{Name: "p"}, logging.NewNop()); err == nil {
		t.Fatal("expected error for empty plan")
	}
	if _, err := NewTable(&stubStage{name: "a"}, &stubStage{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}
