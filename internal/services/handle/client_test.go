package handle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"seisarchive/internal/services"
)

func TestMintSendsURLValue(t *testing.T) {
	var (
		method, path, query, user string
		body                      handleRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path, query = r.Method, r.URL.Path, r.URL.RawQuery
		user, _, _ = r.BasicAuth()
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"responseCode":1,"handle":"11099/abc"}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, time.Second, WithCredentials("300:11099/USER01", "secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := client.Mint(context.Background(), "11099/abc", "https://repo.example/11099/abc")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if got != "11099/abc" {
		t.Fatalf("handle = %q", got)
	}
	if method != http.MethodPut || path != "/api/handles/11099/abc" || query != "overwrite=false" {
		t.Fatalf("unexpected request %s %s?%s", method, path, query)
	}
	if user == "" {
		t.Fatal("expected basic auth")
	}
	if len(body.Values) != 1 || body.Values[0].Type != "URL" || body.Values[0].Data.Value != "https://repo.example/11099/abc" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestModifyFailureIsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"responseCode":402,"message":"unauthorized"}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Modify(context.Background(), "11099/abc", "https://maint.example"); !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestDryRunSkipsNetwork(t *testing.T) {
	client, err := New("", time.Second, WithDryRun(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := client.Mint(context.Background(), "11099/xyz", "https://repo.example/11099/xyz")
	if err != nil || got != "11099/xyz" {
		t.Fatalf("Mint dry run = %q, %v", got, err)
	}
	if err := client.Modify(context.Background(), "11099/xyz", "x"); err != nil {
		t.Fatalf("Modify dry run: %v", err)
	}
	if _, err := New("", time.Second); err == nil {
		t.Fatal("expected endpoint requirement outside dry run")
	}
}
