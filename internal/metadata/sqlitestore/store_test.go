package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"seisarchive/internal/metadata"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestObjectRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tmin := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	obj := metadata.DigitalObject{
		Enabled:      true,
		FileID:       "IV.ACER..HHZ.D.2023.001",
		Identifier:   "11099/FAKE-PID",
		Title:        "INGV_Repository",
		CoverageX:    40.7,
		CoverageY:    15.9,
		CoverageZ:    690,
		CoverageTMin: tmin,
		CoverageTMax: tmin.Add(24*time.Hour - time.Second),
	}
	if err := store.InsertObject(ctx, &obj); err != nil {
		t.Fatalf("InsertObject: %v", err)
	}
	if obj.ID == "" {
		t.Fatal("expected id to be assigned")
	}

	got, err := store.FindObjectByFile(ctx, obj.FileID)
	if err != nil || got == nil {
		t.Fatalf("FindObjectByFile = %v, %v", got, err)
	}
	if diff := cmp.Diff(obj, *got); diff != "" {
		t.Fatalf("object mismatch (-want +got):\n%s", diff)
	}

	if err := store.SetObjectIdentifier(ctx, obj.ID, "11099/abc"); err != nil {
		t.Fatalf("SetObjectIdentifier: %v", err)
	}
	if err := store.SetObjectEnabled(ctx, obj.ID, false); err != nil {
		t.Fatalf("SetObjectEnabled: %v", err)
	}
	got, err = store.FindObjectByIdentifier(ctx, "11099/abc")
	if err != nil || got == nil || got.Enabled {
		t.Fatalf("FindObjectByIdentifier = %+v, %v", got, err)
	}

	if err := store.DeleteObject(ctx, obj.ID); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	got, err = store.FindObjectByFile(ctx, obj.FileID)
	if err != nil || got != nil {
		t.Fatalf("expected deleted object, got %+v, %v", got, err)
	}
}

func TestSetOnMissingObjectFails(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetObjectEnabled(context.Background(), "42", true); err == nil {
		t.Fatal("expected error for missing record")
	}
	if err := store.SetObjectEnabled(context.Background(), "not-a-number", true); err == nil {
		t.Fatal("expected error for malformed id")
	}
}

func TestVersionsAndRekey(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	prov := metadata.Provenance{Enabled: true, Identifier: "P", FileID: "f"}
	if err := store.InsertProvenance(ctx, &prov); err != nil {
		t.Fatalf("InsertProvenance: %v", err)
	}
	ver := metadata.Version{Enabled: true, Identifier: "P", Number: "0", File: metadata.FileRef{Name: "f"}}
	if err := store.InsertVersion(ctx, &ver); err != nil {
		t.Fatalf("InsertVersion: %v", err)
	}

	if err := store.RekeyProvenance(ctx, "f", "P", "11099/x"); err != nil {
		t.Fatalf("RekeyProvenance: %v", err)
	}
	if err := store.RekeyVersions(ctx, "f", "P", "11099/x"); err != nil {
		t.Fatalf("RekeyVersions: %v", err)
	}
	if got, _ := store.FindProvenance(ctx, "P"); got != nil {
		t.Fatalf("expected provenance to move, still found %+v", got)
	}
	versions, err := store.ListVersions(ctx, "11099/x")
	if err != nil || len(versions) != 1 {
		t.Fatalf("ListVersions = %+v, %v", versions, err)
	}

	if err := store.SupersedeVersion(ctx, versions[0].ID, "f-0", "http://r/11099/x#version=0"); err != nil {
		t.Fatalf("SupersedeVersion: %v", err)
	}
	if err := store.SetVersionsEnabled(ctx, "11099/x", false); err != nil {
		t.Fatalf("SetVersionsEnabled: %v", err)
	}
	versions, _ = store.ListVersions(ctx, "11099/x")
	want := metadata.FileRef{Name: "f-0", Position: "http://r/11099/x#version=0"}
	if versions[0].File != want || versions[0].Enabled {
		t.Fatalf("unexpected version %+v", versions[0])
	}
}

func TestNetworksAndStreams(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if got, err := store.FindNetwork(ctx, "IV"); err != nil || got != nil {
		t.Fatalf("FindNetwork on empty store = %+v, %v", got, err)
	}
	if err := store.UpsertNetwork(ctx, metadata.Network{Code: "IV", Description: "Italian"}); err != nil {
		t.Fatalf("UpsertNetwork: %v", err)
	}
	if err := store.UpsertNetwork(ctx, metadata.Network{Code: "IV", Description: "INGV"}); err != nil {
		t.Fatalf("UpsertNetwork update: %v", err)
	}
	if got, _ := store.FindNetwork(ctx, "IV"); got == nil || got.Description != "INGV" {
		t.Fatalf("FindNetwork = %+v", got)
	}

	streams := []metadata.DailyStream{
		{Network: "IV", Station: "ACER", Channel: "HHZ", NumSamples: 100},
		{Network: "IV", Station: "ACER", Channel: "HHZ", NumSamples: 50, NumGaps: 1},
	}
	if err := store.ReplaceStreams(ctx, "f", streams); err != nil {
		t.Fatalf("ReplaceStreams: %v", err)
	}
	if err := store.ReplaceStreams(ctx, "f", streams[:1]); err != nil {
		t.Fatalf("ReplaceStreams again: %v", err)
	}
	got, err := store.ListStreams(ctx, "f")
	if err != nil || len(got) != 1 || got[0].FileID != "f" {
		t.Fatalf("ListStreams = %+v, %v", got, err)
	}
	n, err := store.DeleteStreams(ctx, "f")
	if err != nil || n != 1 {
		t.Fatalf("DeleteStreams = %d, %v", n, err)
	}
}
