package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"seisarchive/internal/config"
	"seisarchive/internal/daemon"
	"seisarchive/internal/policy"
	"seisarchive/internal/testsupport"
	"seisarchive/internal/workflow"
)

func newManager(t *testing.T, cfg *config.Config) *workflow.Manager {
	t.Helper()
	svc := workflow.Services{
		Metadata: testsupport.NewManager(t, cfg),
		Stations: testsupport.OpenEpochs("IV", "ACER", "", "HHZ"),
		Registry: &testsupport.RegistryStub{},
	}
	table, err := workflow.BuildTable(cfg, svc, nil)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	policies, err := policy.Load("")
	if err != nil {
		t.Fatalf("policy.Load: %v", err)
	}
	return workflow.NewManager(cfg, table, policies, nil)
}

func TestRunRefusesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	held := flock.New(cfg.LockPath())
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { _ = held.Unlock() })

	d, err := daemon.New(cfg, newManager(t, cfg), "", nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	err = d.Run(context.Background())
	if !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("Run err = %v, want ErrAlreadyRunning", err)
	}
	if d.Status(context.Background()).Running {
		t.Fatal("daemon reports running after refusing to start")
	}
}

func TestRunServesMetricsAndStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "127.0.0.1:0"

	d, err := daemon.New(cfg, newManager(t, cfg), "checkin", nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for d.MetricsAddr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("metrics listener did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	base := "http://" + d.MetricsAddr()

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("unexpected /metrics response %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	var status struct {
		Running bool   `json:"running"`
		Policy  string `json:"policy"`
	}
	err = json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.Policy != "checkin" {
		t.Fatalf("status = %+v", status)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	// The lock is released on exit.
	again := flock.New(cfg.LockPath())
	ok, err := again.TryLock()
	if err != nil || !ok {
		t.Fatalf("lock still held after stop: ok=%v err=%v", ok, err)
	}
	_ = again.Unlock()
}
