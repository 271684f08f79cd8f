package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/metadata"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
	"seisarchive/internal/testsupport"
	"seisarchive/internal/waveform"
)

const fileName = "IV.ACER..HHZ.D.2024.010"

// flakyStore fails ReplaceStreams the given number of times.
type flakyStore struct {
	metadata.Store
	failures int
	calls    int
}

func (f *flakyStore) ReplaceStreams(ctx context.Context, fileID string, streams []metadata.DailyStream) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("store unavailable")
	}
	return f.Store.ReplaceStreams(ctx, fileID, streams)
}

func writeDay(t *testing.T, cfg *config.Config) string {
	t.Helper()
	path := filepath.Join(cfg.Paths.IncomingDir, fileName)
	first := testsupport.DayRecord("IV", "ACER", "", "HHZ", 2024, 10, 100)
	second := first
	second.Start = first.Start.Add(time.Hour)
	testsupport.WriteMiniSEED(t, path, first, second)
	return path
}

func newCollector(cfg *config.Config, store metadata.Store) *Collector {
	return NewCollector(cfg, waveform.NewMiniSEED(), store, logging.NewNop())
}

func TestCollectWritesOneStreamPerChannel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	path := writeDay(t, cfg)

	n, err := newCollector(cfg, store).Collect(context.Background(), path, fileName)
	if err != nil || n != 1 {
		t.Fatalf("Collect = %d, %v", n, err)
	}
	streams, err := store.ListStreams(context.Background(), fileName)
	if err != nil || len(streams) != 1 {
		t.Fatalf("ListStreams = %+v, %v", streams, err)
	}
	got := streams[0]
	if got.Channel != "HHZ" || got.NumRecords != 2 || got.NumSamples != 200 || got.NumGaps != 1 {
		t.Fatalf("unexpected stream %+v", got)
	}
	if got.Availability <= 0 || got.Availability >= 1 {
		t.Fatalf("availability = %v, want a small fraction of the day", got.Availability)
	}
}

func TestCollectRetriesUntilStoreAnswers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Catalog.MaxAttempts = 3
	store := &flakyStore{Store: testsupport.MustOpenStore(t, cfg), failures: 2}
	path := writeDay(t, cfg)

	if _, err := newCollector(cfg, store).Collect(context.Background(), path, fileName); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if store.calls != 3 {
		t.Fatalf("calls = %d, want 3", store.calls)
	}
}

func TestCollectStopsAtMaxAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := &flakyStore{Store: testsupport.MustOpenStore(t, cfg), failures: 10}
	path := writeDay(t, cfg)

	_, err := newCollector(cfg, store).Collect(context.Background(), path, fileName)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if store.calls != cfg.Catalog.MaxAttempts {
		t.Fatalf("calls = %d, want %d", store.calls, cfg.Catalog.MaxAttempts)
	}
}

func TestCollectParseFailureIsNotRetried(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := &flakyStore{Store: testsupport.MustOpenStore(t, cfg)}
	path := filepath.Join(cfg.Paths.IncomingDir, fileName)
	testsupport.WriteBytes(t, path, []byte("garbage"))

	_, err := newCollector(cfg, store).Collect(context.Background(), path, fileName)
	if err == nil || errors.Is(err, ErrExhausted) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if store.calls != 0 {
		t.Fatalf("store called %d times", store.calls)
	}
}

func TestCollectStageContinuesWhenExhausted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := &flakyStore{Store: testsupport.MustOpenStore(t, cfg), failures: 10}
	path := writeDay(t, cfg)

	s := NewCollect(newCollector(cfg, store), logging.NewNop())
	signal, err := s.Run(context.Background(), path, session.New(path))
	if err != nil || signal.Kind != stage.KindContinue {
		t.Fatalf("Run = %s, %v", signal, err)
	}
}

func TestCollectStageReturnsCancellation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Catalog.MaxAttempts = 0
	store := &flakyStore{Store: testsupport.MustOpenStore(t, cfg), failures: 1 << 30}
	path := writeDay(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewCollect(newCollector(cfg, store), logging.NewNop())
	if _, err := s.Run(ctx, path, session.New(path)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithdrawModes(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	path := writeDay(t, cfg)
	collector := newCollector(cfg, store)

	restore := NewRestore(cfg, collector, logging.NewNop())
	signal, err := restore.Run(ctx, path, session.New(path))
	if err != nil || signal.Kind != stage.KindContinue {
		t.Fatalf("restore = %s, %v", signal, err)
	}
	if streams, _ := store.ListStreams(ctx, fileName); len(streams) != 1 {
		t.Fatalf("expected restored streams, got %+v", streams)
	}

	remove := NewRemove(cfg, collector, logging.NewNop())
	if signal, err := remove.Run(ctx, path, session.New(path)); err != nil || signal.Kind != stage.KindContinue {
		t.Fatalf("remove = %s, %v", signal, err)
	}
	if streams, _ := store.ListStreams(ctx, fileName); len(streams) != 0 {
		t.Fatalf("expected no streams, got %+v", streams)
	}

	cfg.Catalog.RestoreHalts = true
	signal, err = NewRestore(cfg, collector, logging.NewNop()).Run(ctx, path, session.New(path))
	if err != nil || signal.Kind != stage.KindHalt || signal.Reason.Class != "" {
		t.Fatalf("halting restore = %s, %v", signal, err)
	}

	cfg.Catalog.WithdrawMode = "purge"
	if _, err := NewWithdraw(cfg, collector, logging.NewNop()).Run(ctx, path, session.New(path)); err == nil {
		t.Fatal("expected configuration error for unknown mode")
	}
}

func TestDailyStreamsCountsOverlaps(t *testing.T) {
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	stream := &waveform.Stream{Traces: []waveform.Trace{
		{Network: "IV", Station: "ACER", Channel: "HHZ", Start: start, End: start.Add(12 * time.Hour), SampleRate: 1, Samples: 10, Records: 1},
		{Network: "IV", Station: "ACER", Channel: "HHZ", Start: start.Add(6 * time.Hour), End: start.Add(30 * time.Hour), SampleRate: 1, Samples: 10, Records: 1},
		{Network: "IV", Station: "ACER", Channel: "HHN", Start: start, End: start.Add(time.Hour), SampleRate: 1, Samples: 1, Records: 1},
	}}
	out := DailyStreams("f", stream, start)
	if len(out) != 2 {
		t.Fatalf("expected two channels, got %d", len(out))
	}
	if out[0].NumOverlaps != 1 || out[0].NumGaps != 0 || out[0].Availability != 100 {
		t.Fatalf("unexpected HHZ stream %+v", out[0])
	}
	if out[1].Channel != "HHN" || out[1].NumOverlaps != 0 {
		t.Fatalf("unexpected HHN stream %+v", out[1])
	}
}
