package webhdfs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"seisarchive/internal/services"
)

func TestUploadTwoStepCreate(t *testing.T) {
	var received string
	var createQuery string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/webhdfs/v1/archive/IV.ACER..EHZ.D.2024.010", func(w http.ResponseWriter, r *http.Request) {
		createQuery = r.URL.RawQuery
		w.Header().Set("Location", srv.URL+"/datanode/upload")
		w.WriteHeader(http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/datanode/upload", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		received = string(data)
		w.WriteHeader(http.StatusCreated)
	})

	local := filepath.Join(t.TempDir(), "IV.ACER..EHZ.D.2024.010")
	if err := os.WriteFile(local, []byte("mseed"), 0o644); err != nil {
		t.Fatal(err)
	}

	client, err := New(srv.URL, "archiver", time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.Upload(context.Background(), local, "/archive"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before Connect, got %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	remote, err := client.Upload(context.Background(), local, "/archive")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if remote != "/archive/IV.ACER..EHZ.D.2024.010" {
		t.Fatalf("remote = %q", remote)
	}
	if received != "mseed" {
		t.Fatalf("datanode received %q", received)
	}
	for _, want := range []string{"op=CREATE", "overwrite=true", "user.name=archiver"} {
		if !strings.Contains(createQuery, want) {
			t.Fatalf("create query %q missing %q", createQuery, want)
		}
	}
}

func TestUploadRemoteException(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"RemoteException":{"exception":"AccessControlException","message":"denied"}}`))
	}))
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	client, err := New(srv.URL, "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err = client.Upload(context.Background(), local, "/archive")
	if !errors.Is(err, services.ErrExternalService) || !strings.Contains(err.Error(), "AccessControlException") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestConnectRefreshesKerberos(t *testing.T) {
	var calls []string
	runner := func(_ context.Context, name string, args ...string) error {
		calls = append(calls, name+" "+strings.Join(args, " "))
		if name == "klist" || (name == "kinit" && args[0] == "-R") {
			return errors.New("no ticket")
		}
		return nil
	}
	client, err := New("http://namenode:9870", "archiver", time.Second,
		WithKerberos("archiver@REALM", "/etc/archiver.keytab"),
		WithCommandRunner(runner),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	want := []string{"klist -s", "kinit -R", "kinit -kt /etc/archiver.keytab archiver@REALM"}
	if strings.Join(calls, ";") != strings.Join(want, ";") {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestConnectWithoutKeytabFails(t *testing.T) {
	client, err := New("http://namenode:9870", "archiver", time.Second,
		WithKerberos("archiver@REALM", ""),
		WithCommandRunner(func(context.Context, string, ...string) error { return errors.New("fail") }),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Connect(context.Background()); !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}
