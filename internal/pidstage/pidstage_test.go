package pidstage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"seisarchive/internal/config"
	"seisarchive/internal/metadata"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
	"seisarchive/internal/testsupport"
)

const fileName = "IV.ACER..EHZ.D.2024.010"

func seedRecord(t *testing.T, manager *metadata.Manager, identifier string, enabled bool) metadata.DigitalObject {
	t.Helper()
	obj := metadata.DigitalObject{Enabled: enabled, FileID: fileName, Identifier: identifier}
	if err := manager.Store().InsertObject(context.Background(), &obj); err != nil {
		t.Fatalf("InsertObject: %v", err)
	}
	return obj
}

func newSession(cfg *config.Config) *session.Session {
	return session.New(filepath.Join(cfg.Paths.IncomingDir, fileName), session.WithPlaceholder(cfg.Handle.Placeholder))
}

func TestCreateMintsForPlaceholderRecord(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	manager := testsupport.NewManager(t, cfg)
	obj := seedRecord(t, manager, cfg.Handle.Placeholder, true)
	prov := metadata.Provenance{Identifier: cfg.Handle.Placeholder, FileID: fileName}
	if err := manager.Store().InsertProvenance(ctx, &prov); err != nil {
		t.Fatalf("InsertProvenance: %v", err)
	}
	registry := &testsupport.RegistryStub{}
	s := NewCreate(cfg, manager, registry, nil)
	s.suffix = func() (string, error) { return "6f1c-uuid", nil }

	sess := newSession(cfg)
	if err := sess.SetIdentifier(cfg.Handle.Placeholder); err != nil {
		t.Fatal(err)
	}
	signal, err := s.Run(ctx, sess.Location(), sess)
	if err != nil || signal.Kind != stage.KindContinue {
		t.Fatalf("Run = %s, %v", signal, err)
	}

	want := cfg.Handle.Prefix + "/6f1c-uuid"
	if id, _ := sess.Identifier(); id != want {
		t.Fatalf("identifier = %q, want %q", id, want)
	}
	if len(registry.Calls) != 1 || registry.Calls[0].Op != "mint" || registry.Calls[0].Location != cfg.Handle.BaseLocation+"/"+want {
		t.Fatalf("unexpected registry calls %+v", registry.Calls)
	}
	got, _ := manager.Store().FindObjectByIdentifier(ctx, want)
	if got == nil || got.ID != obj.ID {
		t.Fatalf("record not re-keyed: %+v", got)
	}
	if p, _ := manager.Store().FindProvenance(ctx, want); p == nil {
		t.Fatal("placeholder provenance not re-keyed")
	}
}

func TestCreateDefaultSuffixIsTimeUUID(t *testing.T) {
	suffix, err := timeUUID()
	if err != nil {
		t.Fatalf("timeUUID: %v", err)
	}
	// Version nibble of a v1 UUID.
	if len(suffix) != 36 || suffix[14] != '1' {
		t.Fatalf("unexpected uuid %q", suffix)
	}
}

func TestCreateRestoresExistingIdentifier(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	manager := testsupport.NewManager(t, cfg)
	seedRecord(t, manager, "11099/abc", true)
	registry := &testsupport.RegistryStub{}

	sess := newSession(cfg)
	if _, err := NewCreate(cfg, manager, registry, nil).Run(ctx, sess.Location(), sess); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(registry.Calls) != 1 || registry.Calls[0].Op != "modify" || !strings.HasSuffix(registry.Calls[0].Location, "/11099/abc") {
		t.Fatalf("unexpected registry calls %+v", registry.Calls)
	}
	if id, _ := sess.Identifier(); id != "11099/abc" {
		t.Fatalf("identifier = %q", id)
	}
}

func TestCreateModifyFailureOnlyWarns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	manager := testsupport.NewManager(t, cfg)
	seedRecord(t, manager, "11099/abc", true)
	registry := &testsupport.RegistryStub{Err: errors.New("registry down")}

	sess := newSession(cfg)
	signal, err := NewCreate(cfg, manager, registry, nil).Run(context.Background(), sess.Location(), sess)
	if err != nil || signal.Kind != stage.KindContinue {
		t.Fatalf("Run = %s, %v", signal, err)
	}
}

func TestCreateMintFailureIsError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	manager := testsupport.NewManager(t, cfg)
	seedRecord(t, manager, cfg.Handle.Placeholder, true)
	registry := &testsupport.RegistryStub{Err: errors.New("registry down")}

	sess := newSession(cfg)
	if _, err := NewCreate(cfg, manager, registry, nil).Run(context.Background(), sess.Location(), sess); err == nil {
		t.Fatal("expected mint failure")
	}
}

func TestCreateWithoutRecordHalts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sess := newSession(cfg)
	signal, err := NewCreate(cfg, testsupport.NewManager(t, cfg), &testsupport.RegistryStub{}, nil).Run(context.Background(), sess.Location(), sess)
	if err != nil || signal.Kind != stage.KindHalt || signal.Reason.Code != CodeNotRegistered {
		t.Fatalf("Run = %s, %v", signal, err)
	}
	if rejection, err := sess.Rejection(); err != nil || rejection.Stage != CreateName || rejection.Code != CodeNotRegistered {
		t.Fatalf("expected pidcreate rejection, got %+v, %v", rejection, err)
	}
}

func TestWithdrawWithoutRecordHalts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sess := newSession(cfg)
	signal, err := NewWithdraw(cfg, testsupport.NewManager(t, cfg), &testsupport.RegistryStub{}, nil).Run(context.Background(), sess.Location(), sess)
	if err != nil || signal.Kind != stage.KindHalt || signal.Reason.Code != CodeNotRegistered {
		t.Fatalf("Run = %s, %v", signal, err)
	}
	if rejection, err := sess.Rejection(); err != nil || rejection.Stage != WithdrawName {
		t.Fatalf("expected pidupdel rejection, got %+v, %v", rejection, err)
	}
}

func TestWithdrawPointsAtMaintenance(t *testing.T) {
	tests := []struct {
		name      string
		dryRun    bool
		wantCalls int
	}{
		{name: "live", wantCalls: 1},
		{name: "dry run", dryRun: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			cfg.Handle.DryRun = tt.dryRun
			manager := testsupport.NewManager(t, cfg)
			seedRecord(t, manager, "11099/abc", true)
			registry := &testsupport.RegistryStub{}

			sess := newSession(cfg)
			if _, err := NewWithdraw(cfg, manager, registry, nil).Run(context.Background(), sess.Location(), sess); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(registry.Calls) != tt.wantCalls {
				t.Fatalf("calls = %+v", registry.Calls)
			}
			if tt.wantCalls == 1 && registry.Calls[0].Location != cfg.Handle.MaintenanceLocation {
				t.Fatalf("location = %q", registry.Calls[0].Location)
			}
			if id, _ := sess.Identifier(); id != "11099/abc" {
				t.Fatalf("identifier = %q", id)
			}
		})
	}
}
