package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"seisarchive/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalService, "pidcreate", "mint", "registry refused", base)
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	for _, fragment := range []string{"pidcreate", "mint", "registry refused"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in error string %q", fragment, err.Error())
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestDetailsClassifiesMarkers(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{services.Wrap(services.ErrInvariant, "provenance", "head", "two heads", nil), "invariant"},
		{services.Wrap(services.ErrValidation, "sanity", "parse", "bad", nil), "validation"},
		{services.Wrap(services.ErrNotFound, "dublincore", "find", "missing", nil), "not_found"},
		{errors.New("disk full"), "infrastructure"},
	}
	for _, tc := range tests {
		if got := services.Details(tc.err).Kind; got != tc.kind {
			t.Fatalf("Details(%v).Kind = %q, want %q", tc.err, got, tc.kind)
		}
	}
	if services.Details(nil) != (services.ErrorDetails{}) {
		t.Fatal("expected empty details for nil error")
	}
	if !services.IsInvariant(services.Wrap(services.ErrInvariant, "", "", "x", nil)) {
		t.Fatal("expected invariant marker detection")
	}
}

func TestContextHelpersRoundTrip(t *testing.T) {
	ctx := services.WithFile(context.Background(), "IV.ACER..EHZ.D.2024.010")
	ctx = services.WithStage(ctx, "preflight")
	ctx = services.WithPolicy(ctx, "checkin")
	ctx = services.WithRequestID(ctx, "req-1")

	if v, ok := services.FileFromContext(ctx); !ok || v != "IV.ACER..EHZ.D.2024.010" {
		t.Fatalf("unexpected file %q", v)
	}
	if v, ok := services.StageFromContext(ctx); !ok || v != "preflight" {
		t.Fatalf("unexpected stage %q", v)
	}
	if v, ok := services.PolicyFromContext(ctx); !ok || v != "checkin" {
		t.Fatalf("unexpected policy %q", v)
	}
	if v, ok := services.RequestIDFromContext(ctx); !ok || v != "req-1" {
		t.Fatalf("unexpected request id %q", v)
	}
	if services.WithStage(ctx, "") != ctx {
		t.Fatal("empty stage should not wrap context")
	}
}
