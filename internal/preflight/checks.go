package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const checkTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckStationService issues a cheap station query and accepts any answer
// the FDSN service gives for it, including "no data".
func CheckStationService(ctx context.Context, endpoint string) Result {
	const name = "Station service"
	base := strings.TrimSpace(endpoint)
	if base == "" {
		return Result{Name: name, Detail: "missing endpoint"}
	}
	u, err := url.Parse(base)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid endpoint (%v)", err)}
	}
	q := u.Query()
	q.Set("level", "network")
	q.Set("format", "text")
	q.Set("network", "XX")
	u.RawQuery = q.Encode()

	status, err := get(ctx, u.String())
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("unexpected status %d", status)}
	}
}

// CheckHTTP verifies that endpoint answers with anything below 500.
func CheckHTTP(ctx context.Context, name, endpoint string) Result {
	status, err := get(ctx, strings.TrimSpace(endpoint))
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	if status >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", status)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

func get(ctx context.Context, target string) (int, error) {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	client := &http.Client{Timeout: checkTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (service unreachable)"
	}
	return err.Error()
}
