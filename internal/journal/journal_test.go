package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	finished := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	entry := Entry{
		File:        "IV.ACER..HHZ.D.2024.010",
		SourcePath:  "/incoming/IV.ACER..HHZ.D.2024.010",
		Policy:      "checkin",
		State:       "ok",
		Exit:        "continue",
		Stage:       "wfccollector",
		Identifier:  "11099/abc",
		FinalPath:   "/trust/2024/IV/ACER/HHZ.D/IV.ACER..HHZ.D.2024.010",
		Trail:       []string{"preflight", "sanitychecks", "wfccollector"},
		SessionJSON: `{"exit":"continue"}`,
		StartedAt:   finished.Add(-time.Second),
		FinishedAt:  finished,
	}
	if err := store.Record(ctx, &entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.ID == 0 {
		t.Fatal("expected id")
	}
	got, err := store.Get(ctx, entry.ID)
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if diff := cmp.Diff(entry, *got); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s", diff)
	}
	if missing, err := store.Get(ctx, entry.ID+1); err != nil || missing != nil {
		t.Fatalf("Get missing = %v, %v", missing, err)
	}
}

func TestListFiltersAndStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, e := range []Entry{
		{File: "a", SourcePath: "a", Policy: "checkin", State: "ok", Exit: "continue"},
		{File: "b", SourcePath: "b", Policy: "checkin", State: "error", Exit: "soft-stop", ReasonCode: "duplicate"},
		{File: "a", SourcePath: "a", Policy: "checkout", State: "ok", Exit: "continue"},
	} {
		e := e
		if err := store.Record(ctx, &e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := store.List(ctx, Filter{})
	if err != nil || len(all) != 3 || all[0].Policy != "checkout" {
		t.Fatalf("List all = %+v, %v", all, err)
	}
	fileA, _ := store.List(ctx, Filter{File: "a", Policy: "checkin"})
	if len(fileA) != 1 {
		t.Fatalf("expected one entry for a/checkin, got %+v", fileA)
	}
	limited, _ := store.List(ctx, Filter{Limit: 2})
	if len(limited) != 2 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
	failed, _ := store.List(ctx, Filter{State: "error"})
	if len(failed) != 1 || failed[0].ReasonCode != "duplicate" || failed[0].Trail != nil {
		t.Fatalf("unexpected error entries %+v", failed)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"ok": 2, "error": 1}, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	old := Entry{File: "old", SourcePath: "old", Policy: "checkin", State: "ok", Exit: "continue",
		FinishedAt: time.Now().Add(-48 * time.Hour)}
	fresh := Entry{File: "new", SourcePath: "new", Policy: "checkin", State: "ok", Exit: "continue"}
	for _, e := range []*Entry{&old, &fresh} {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	n, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	if got, _ := store.Get(ctx, fresh.ID); got == nil {
		t.Fatal("fresh entry pruned")
	}
}
