package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"seisarchive/internal/config"
	"seisarchive/internal/journal"
	"seisarchive/internal/metadata"
	"seisarchive/internal/notifications"
	"seisarchive/internal/pipeline"
	"seisarchive/internal/policy"
	"seisarchive/internal/sds"
	"seisarchive/internal/services"
	"seisarchive/internal/testsupport"
	"seisarchive/internal/workflow"
)

const fileName = "IV.ACER..HHZ.D.2024.010"

type haltCall struct {
	file, stage, code string
}

type stubNotifier struct {
	mu      sync.Mutex
	halts   []haltCall
	batches int
	errors  int
}

func (s *stubNotifier) NotifyHalt(_ context.Context, halt notifications.Halt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halts = append(s.halts, haltCall{halt.File, halt.Stage, halt.Code})
	return nil
}

func (s *stubNotifier) NotifyBatchCompleted(context.Context, int, int, time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	return nil
}

func (s *stubNotifier) NotifyError(context.Context, error, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
	return nil
}

func (s *stubNotifier) TestNotification(context.Context) error { return nil }

type fixture struct {
	cfg      *config.Config
	manager  *workflow.Manager
	journal  *journal.Store
	meta     *metadata.Manager
	store    metadata.Store
	registry *testsupport.RegistryStub
	notifier *stubNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	meta := testsupport.NewManager(t, cfg)
	registry := &testsupport.RegistryStub{}
	svc := workflow.Services{
		Metadata: meta,
		Stations: testsupport.OpenEpochs("IV", "ACER", "", "HHZ"),
		Registry: registry,
	}
	table, err := workflow.BuildTable(cfg, svc, nil)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	policies, err := policy.Load(cfg.Paths.PolicyDir)
	if err != nil {
		t.Fatalf("policy.Load: %v", err)
	}
	store, err := journal.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	notifier := &stubNotifier{}
	manager := workflow.NewManager(cfg, table, policies, nil,
		workflow.WithJournal(store),
		workflow.WithNotifier(notifier),
	)
	return &fixture{
		cfg:      cfg,
		manager:  manager,
		journal:  store,
		meta:     meta,
		store:    meta.Store(),
		registry: registry,
		notifier: notifier,
	}
}

func (f *fixture) writeIncoming(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.cfg.Paths.IncomingDir, name)
	testsupport.WriteMiniSEED(t, path, testsupport.DayRecord("IV", "ACER", "", "HHZ", 2024, 10, 100))
	return path
}

func TestProcessFileChecksInNewFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := f.writeIncoming(t, fileName)

	res, err := f.manager.ProcessFile(ctx, "checkin", input)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if res.State != pipeline.StateOK || res.Halted {
		t.Fatalf("state = %s halted=%v reason=%s err=%v", res.State, res.Halted, res.Reason, res.Err)
	}
	trusted, err := sds.Resolve(f.cfg.Archive.TrustedDir, fileName)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Path != trusted {
		t.Fatalf("path = %q, want %q", res.Path, trusted)
	}
	testsupport.AssertMissing(t, input)
	testsupport.AssertExists(t, trusted)

	wantTrail := []string{"preflight", "sanitychecks", "dublincore", "pidcreate", "provenance", "move2archive", "wfccollector"}
	if diff := cmp.Diff(wantTrail, res.Trail); diff != "" {
		t.Fatalf("trail mismatch (-want +got):\n%s", diff)
	}

	if len(f.registry.Calls) != 1 || f.registry.Calls[0].Op != "mint" {
		t.Fatalf("registry calls = %+v, want one mint", f.registry.Calls)
	}
	id := f.registry.Calls[0].Handle
	if !strings.HasPrefix(id, f.cfg.Handle.Prefix+"/") {
		t.Fatalf("minted %q without prefix %q", id, f.cfg.Handle.Prefix)
	}

	streams, err := f.store.ListStreams(ctx, fileName)
	if err != nil {
		t.Fatalf("ListStreams: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(streams))
	}

	entries, err := f.journal.List(ctx, journal.Filter{File: fileName})
	if err != nil {
		t.Fatalf("journal List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(entries))
	}
	got := entries[0]
	if got.Policy != "checkin" || got.State != "ok" || got.Identifier != id || got.FinalPath != trusted {
		t.Fatalf("unexpected journal entry: %+v", got)
	}
	if got.SessionJSON == "" {
		t.Fatal("expected session snapshot in journal")
	}
	if len(f.notifier.halts) != 0 {
		t.Fatalf("unexpected halt notifications: %+v", f.notifier.halts)
	}
}

// Each cycle checks the trusted copy out, edits it in the working archive
// and brings it back under its identifier. The chain grows by one version
// per cycle and the superseded copies land in the version archive.
func TestCheckoutRecheckinCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := f.writeIncoming(t, fileName)
	res, err := f.manager.ProcessFile(ctx, "checkin", input)
	if err != nil || res.State != pipeline.StateOK {
		t.Fatalf("checkin: state=%s reason=%s err=%v/%v", res.State, res.Reason, err, res.Err)
	}
	trusted := res.Path
	id := f.registry.Calls[0].Handle

	for cycle, rate := range []float64{50, 20, 10} {
		checkout := filepath.Join(f.cfg.Paths.IncomingDir, fileName)
		testsupport.WriteBytes(t, checkout, testsupport.ReadFile(t, trusted))
		res, err := f.manager.ProcessFile(ctx, "checkout", checkout)
		if err != nil || res.State != pipeline.StateOK || res.Halted {
			t.Fatalf("cycle %d checkout: state=%s reason=%s err=%v/%v", cycle, res.State, res.Reason, err, res.Err)
		}
		working := res.Path
		if want := sds.VersionedName(fileName, id); filepath.Base(working) != want {
			t.Fatalf("cycle %d working copy = %q, want basename %q", cycle, working, want)
		}
		testsupport.AssertExists(t, trusted+f.cfg.Archive.QuarantineTag)

		// Edit the working copy and hand it back.
		testsupport.WriteMiniSEED(t, working, testsupport.DayRecord("IV", "ACER", "", "HHZ", 2024, 10, rate))
		recheckin := filepath.Join(f.cfg.Paths.IncomingDir, filepath.Base(working))
		if err := os.Rename(working, recheckin); err != nil {
			t.Fatalf("cycle %d rename: %v", cycle, err)
		}
		res, err = f.manager.ProcessFile(ctx, "checkin", recheckin)
		if err != nil || res.State != pipeline.StateOK || res.Halted {
			t.Fatalf("cycle %d re-checkin: state=%s stage=%s reason=%s err=%v/%v", cycle, res.State, res.Stage, res.Reason, err, res.Err)
		}
		if res.Path != trusted {
			t.Fatalf("cycle %d path = %q, want %q", cycle, res.Path, trusted)
		}
		testsupport.AssertMissing(t, recheckin)
		testsupport.AssertMissing(t, trusted+f.cfg.Archive.QuarantineTag)
	}

	versions, err := f.meta.Versions(ctx, id)
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	var numbers, names []string
	for _, v := range versions {
		numbers = append(numbers, v.Number)
		names = append(names, v.File.Name)
	}
	if diff := cmp.Diff([]string{"0", "1", "2", "3"}, numbers); diff != "" {
		t.Fatalf("version numbers mismatch (-want +got):\n%s", diff)
	}
	wantNames := []string{fileName + "-0", fileName + "-1", fileName + "-2", fileName}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Fatalf("version files mismatch (-want +got):\n%s", diff)
	}

	objs, err := f.store.ListObjectsByIdentifier(ctx, id)
	if err != nil {
		t.Fatalf("ListObjectsByIdentifier: %v", err)
	}
	enabled := 0
	for _, obj := range objs {
		if obj.Enabled {
			enabled++
		}
	}
	if enabled != 1 {
		t.Fatalf("enabled records = %d of %d, want exactly one", enabled, len(objs))
	}
	if err := f.meta.Verify(ctx, id); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	retiredBase, err := sds.Resolve(f.cfg.Archive.VersionDir, fileName)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for _, n := range []string{"0", "1", "2"} {
		testsupport.AssertExists(t, retiredBase+"-"+n)
	}
	testsupport.AssertMissing(t, retiredBase+"-3")
	testsupport.AssertExists(t, trusted)
}

func TestProcessFileDuplicateHaltsAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.writeIncoming(t, fileName)
	if res, err := f.manager.ProcessFile(ctx, "checkin", first); err != nil || res.Halted {
		t.Fatalf("first checkin: halted=%v err=%v reason=%s", res.Halted, err, res.Reason)
	}

	second := f.writeIncoming(t, fileName)
	res, err := f.manager.ProcessFile(ctx, "checkin", second)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if !res.Halted || res.State != pipeline.StateError || res.Stage != "preflight" {
		t.Fatalf("state = %s halted=%v stage=%s", res.State, res.Halted, res.Stage)
	}
	testsupport.AssertMissing(t, second)
	if len(f.notifier.halts) != 1 || f.notifier.halts[0].stage != "preflight" {
		t.Fatalf("halt notifications = %+v", f.notifier.halts)
	}

	stats, err := f.journal.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"ok": 1, "error": 1}, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessFileUnknownPolicy(t *testing.T) {
	f := newFixture(t)
	input := f.writeIncoming(t, fileName)

	_, err := f.manager.ProcessFile(context.Background(), "nope", input)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	testsupport.AssertExists(t, input)
}

func TestRunOnceProcessesIncoming(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workflow.Workers = 2
	f.writeIncoming(t, fileName)
	f.writeIncoming(t, "IV.ACER..HHZ.D.2024.011")
	testsupport.WriteBytes(t, filepath.Join(f.cfg.Paths.IncomingDir, "junk.txt"), []byte("x"))
	testsupport.WriteBytes(t, filepath.Join(f.cfg.Paths.IncomingDir, ".hidden"), []byte("x"))
	testsupport.WriteBytes(t, filepath.Join(f.cfg.Paths.IncomingDir, "upload.part"), []byte("x"))

	summary, err := f.manager.RunOnce(context.Background(), "")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Processed != 3 {
		t.Fatalf("processed = %d, want 3", summary.Processed)
	}
	// The junk name and the day-11 file whose payload says day 10 are both
	// rejected.
	if summary.Halted != 2 || summary.Failed != 0 {
		t.Fatalf("halted = %d failed = %d, want 2 and 0", summary.Halted, summary.Failed)
	}
	if f.notifier.batches != 1 {
		t.Fatalf("batch notifications = %d, want 1", f.notifier.batches)
	}
	testsupport.AssertExists(t, filepath.Join(f.cfg.Paths.IncomingDir, ".hidden"))
	testsupport.AssertExists(t, filepath.Join(f.cfg.Paths.IncomingDir, "upload.part"))
}

func TestListIncomingSkipsHiddenAndPartial(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b", "a", ".dot", "c.part", "d.tmp"} {
		testsupport.WriteBytes(t, filepath.Join(dir, name), []byte("x"))
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files, err := workflow.ListIncoming(dir)
	if err != nil {
		t.Fatalf("ListIncoming: %v", err)
	}
	want := []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestWatchProcessesArrivingFile(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := f.manager.NewWatcher("checkin",
		workflow.WithSettle(50*time.Millisecond),
		workflow.WithPollInterval(100*time.Millisecond),
	)
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	f.writeIncoming(t, fileName)

	deadline := time.Now().Add(10 * time.Second)
	for {
		entries, err := f.journal.List(context.Background(), journal.Filter{File: fileName})
		if err != nil {
			t.Fatalf("journal List: %v", err)
		}
		if len(entries) == 1 {
			if entries[0].State != "ok" {
				t.Fatalf("state = %s, reason = %s", entries[0].State, entries[0].ReasonMessage)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("file was not processed before deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}

	entries, err := f.journal.List(context.Background(), journal.Filter{})
	if err != nil {
		t.Fatalf("journal List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("journal entries = %d, want exactly one run", len(entries))
	}
}

func TestStatusReportsJournalAndLastResult(t *testing.T) {
	f := newFixture(t)
	input := f.writeIncoming(t, fileName)
	if _, err := f.manager.ProcessFile(context.Background(), "checkin", input); err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}

	status := f.manager.Status(context.Background())
	if status.JournalStats["ok"] != 1 {
		t.Fatalf("journal stats = %+v", status.JournalStats)
	}
	if status.LastResult == nil || status.LastResult.State != pipeline.StateOK {
		t.Fatalf("last result = %+v", status.LastResult)
	}
	if len(status.InFlight) != 0 {
		t.Fatalf("in flight = %v", status.InFlight)
	}
	if len(status.Readiness) == 0 {
		t.Fatal("expected readiness results")
	}
}
