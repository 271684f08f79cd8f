package sanity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"seisarchive/internal/archive"
	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/services"
	"seisarchive/internal/services/station"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
	"seisarchive/internal/testsupport"
	"seisarchive/internal/waveform"
)

const fileName = "IV.ACER..EHZ.D.2024.010"

func newStage(cfg *config.Config, epochs station.Lookup) *Stage {
	return New(cfg, waveform.NewMiniSEED(), epochs, archive.NewMutator(logging.NewNop()), logging.NewNop())
}

func writeInput(t *testing.T, cfg *config.Config, name string, rec testsupport.Record) string {
	t.Helper()
	path := filepath.Join(cfg.Paths.IncomingDir, name)
	testsupport.WriteMiniSEED(t, path, rec)
	return path
}

func TestSanityPassesAndPopulatesSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	input := writeInput(t, cfg, fileName, testsupport.DayRecord("IV", "ACER", "", "EHZ", 2024, 10, 100))

	sess := session.New(input)
	signal, err := newStage(cfg, testsupport.OpenEpochs("IV", "ACER", "", "EHZ")).Run(context.Background(), input, sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if signal.Kind != stage.KindContinue {
		t.Fatalf("expected continue, got %s", signal)
	}
	tr, err := sess.TimeRange()
	if err != nil {
		t.Fatalf("TimeRange: %v", err)
	}
	if want := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC); !tr.Start.Equal(want) {
		t.Fatalf("start = %s, want %s", tr.Start, want)
	}
	cov, err := sess.Coverage()
	if err != nil || cov.Z != 690 {
		t.Fatalf("coverage = %+v, %v", cov, err)
	}
}

func TestSanityRejections(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		record   testsupport.Record
		raw      []byte
		epochs   *testsupport.StationStub
		wantCode string
	}{
		{
			name:     "rate out of band",
			file:     fileName,
			record:   testsupport.DayRecord("IV", "ACER", "", "EHZ", 2024, 10, 20),
			wantCode: CodeRateOutOfBand,
		},
		{
			name:     "unreadable",
			file:     fileName,
			raw:      []byte("not a miniseed file"),
			wantCode: CodeUnreadable,
		},
		{
			name:     "station mismatch",
			file:     fileName,
			record:   testsupport.DayRecord("IV", "ARCI", "", "EHZ", 2024, 10, 100),
			wantCode: CodeNameMismatch,
		},
		{
			name:     "day mismatch",
			file:     fileName,
			record:   testsupport.DayRecord("IV", "ACER", "", "EHZ", 2024, 11, 100),
			wantCode: CodeNameMismatch,
		},
		{
			name:     "type not allowed",
			file:     "IV.ACER..EHZ.L.2024.010",
			record:   testsupport.DayRecord("IV", "ACER", "", "EHZ", 2024, 10, 100),
			wantCode: CodeNameMismatch,
		},
		{
			name:     "no epochs",
			file:     fileName,
			record:   testsupport.DayRecord("IV", "ACER", "", "EHZ", 2024, 10, 100),
			epochs:   &testsupport.StationStub{},
			wantCode: CodeNoEpochs,
		},
		{
			name:   "out of epoch",
			file:   fileName,
			record: testsupport.DayRecord("IV", "ACER", "", "EHZ", 2024, 10, 100),
			epochs: &testsupport.StationStub{Channels: []station.Epoch{{
				Network: "IV", Station: "ACER", Channel: "EHZ",
				Start: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			}}},
			wantCode: CodeEpochOutOfRange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			input := filepath.Join(cfg.Paths.IncomingDir, tt.file)
			if tt.raw != nil {
				testsupport.WriteBytes(t, input, tt.raw)
			} else {
				testsupport.WriteMiniSEED(t, input, tt.record)
			}
			epochs := tt.epochs
			if epochs == nil {
				epochs = testsupport.OpenEpochs("IV", "ACER", "", "EHZ")
			}

			sess := session.New(input)
			signal, err := newStage(cfg, epochs).Run(context.Background(), input, sess)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if signal.Kind != stage.KindHalt || signal.Reason.Code != tt.wantCode {
				t.Fatalf("signal = %s, want halt %s", signal, tt.wantCode)
			}
			want := filepath.Join(cfg.Archive.BadDir, tt.file+"-"+tt.wantCode)
			testsupport.AssertExists(t, want)
			testsupport.AssertMissing(t, input)
			if sess.Location() != want {
				t.Fatalf("location = %q, want %q", sess.Location(), want)
			}
		})
	}
}

func TestSanityBadGotoLeavesFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Sanity.BadGoto = "delinput"
	input := writeInput(t, cfg, fileName, testsupport.DayRecord("IV", "ACER", "", "EHZ", 2024, 10, 20))

	sess := session.New(input)
	signal, err := newStage(cfg, testsupport.OpenEpochs("IV", "ACER", "", "EHZ")).Run(context.Background(), input, sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if signal.Kind != stage.KindGoto || signal.Target != "delinput" {
		t.Fatalf("expected goto delinput, got %s", signal)
	}
	testsupport.AssertExists(t, input)
	if rej, err := sess.Rejection(); err != nil || rej.Code != CodeRateOutOfBand {
		t.Fatalf("rejection = %+v, %v", rej, err)
	}
}

func TestSanityVersionedRejectRemovesOriginal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	raw := filepath.Join(cfg.Paths.IncomingDir, fileName+"#11099.abc")
	testsupport.WriteBytes(t, raw, []byte("raw"))
	working := filepath.Join(cfg.Paths.ScratchDir, fileName)
	testsupport.WriteMiniSEED(t, working, testsupport.DayRecord("IV", "ACER", "", "EHZ", 2024, 10, 20))

	sess := session.New(raw)
	sess.SetWorkingCopy(session.WorkingCopy{Path: working, CanonicalName: fileName})
	signal, err := newStage(cfg, testsupport.OpenEpochs("IV", "ACER", "", "EHZ")).Run(context.Background(), working, sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if signal.Reason.Code != CodeRateOutOfBand {
		t.Fatalf("signal = %s", signal)
	}
	testsupport.AssertMissing(t, raw)
	testsupport.AssertExists(t, filepath.Join(cfg.Archive.BadDir, fileName+"-3"))
}

func TestSanityStationFailureIsInfrastructure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	input := writeInput(t, cfg, fileName, testsupport.DayRecord("IV", "ACER", "", "EHZ", 2024, 10, 100))

	_, err := newStage(cfg, &testsupport.StationStub{Err: errors.New("connection refused")}).Run(context.Background(), input, session.New(input))
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	testsupport.AssertExists(t, input)
}
