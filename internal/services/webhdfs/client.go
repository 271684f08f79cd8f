// Package webhdfs uploads archive files to HDFS over the WebHDFS REST API.
//
// A session starts with Connect, which refreshes the Kerberos ticket cache
// through klist/kinit when a principal is configured, and ends with Close.
package webhdfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"strings"
	"sync"
	"time"

	"seisarchive/internal/logging"
	"seisarchive/internal/services"
)

// ErrNotConnected reports an operation outside a Connect/Close session.
var ErrNotConnected = errors.New("webhdfs session not connected")

// Uploader is the distributed filesystem used by the transfer stage.
type Uploader interface {
	Connect(ctx context.Context) error
	Upload(ctx context.Context, localPath, remoteDir string) (string, error)
	Close() error
}

// CommandRunner executes a credential helper and returns its error.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Client is a WebHDFS client.
type Client struct {
	endpoint   string
	user       string
	principal  string
	keytab     string
	httpClient *http.Client
	run        CommandRunner
	logger     *slog.Logger

	mu        sync.Mutex
	connected bool
}

var _ Uploader = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client. Redirects are always
// handled by the client itself.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithKerberos configures the principal and keytab used to refresh tickets.
func WithKerberos(principal, keytab string) Option {
	return func(c *Client) {
		c.principal = strings.TrimSpace(principal)
		c.keytab = strings.TrimSpace(keytab)
	}
}

// WithCommandRunner replaces the process runner used for klist and kinit.
func WithCommandRunner(run CommandRunner) Option {
	return func(c *Client) {
		if run != nil {
			c.run = run
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "webhdfs")
	}
}

// New creates a WebHDFS client for endpoint such as http://namenode:9870.
func New(endpoint, user string, timeout time.Duration, opts ...Option) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("webhdfs endpoint required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	client := &Client{
		endpoint:   endpoint,
		user:       strings.TrimSpace(user),
		httpClient: &http.Client{Timeout: timeout},
		run:        execCommand,
		logger:     logging.NewComponentLogger(nil, "webhdfs"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Connect refreshes Kerberos credentials and opens the session.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.refreshCredentials(ctx); err != nil {
		return services.Wrap(services.ErrExternalService, "webhdfs", "refresh credentials", c.principal, err)
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Close ends the session.
func (c *Client) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) refreshCredentials(ctx context.Context) error {
	if c.principal == "" {
		return nil
	}
	if err := c.run(ctx, "klist", "-s"); err == nil {
		return nil
	}
	c.logger.Info("kerberos ticket missing or expired, renewing",
		logging.String("principal", c.principal),
		logging.String(logging.FieldEventType, "kerberos_renew"),
	)
	if err := c.run(ctx, "kinit", "-R"); err == nil {
		return nil
	}
	if c.keytab == "" {
		return errors.New("ticket renewal failed and no keytab configured")
	}
	if err := c.run(ctx, "kinit", "-kt", c.keytab, c.principal); err != nil {
		return fmt.Errorf("kinit with keytab %s: %w", c.keytab, err)
	}
	return nil
}

// Upload writes localPath into remoteDir with overwrite, returning the
// remote file path.
func (c *Client) Upload(ctx context.Context, localPath, remoteDir string) (string, error) {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return "", ErrNotConnected
	}
	remote := path.Join(remoteDir, path.Base(strings.ReplaceAll(localPath, `\`, "/")))

	location, err := c.createLocation(ctx, remote)
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "webhdfs", "create", remote, err)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat upload source: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, location, file)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "webhdfs", "upload", remote, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", services.Wrap(services.ErrExternalService, "webhdfs", "upload", remote, remoteError(resp))
	}
	c.logger.Info("file uploaded",
		logging.String("source", localPath),
		logging.String("target", remote),
		logging.Int64("bytes", info.Size()),
	)
	return remote, nil
}

// createLocation performs the first CREATE step and returns the datanode
// location to stream data to.
func (c *Client) createLocation(ctx context.Context, remote string) (string, error) {
	params := url.Values{}
	params.Set("op", "CREATE")
	params.Set("overwrite", "true")
	if c.user != "" {
		params.Set("user.name", c.user)
	}
	endpoint := c.endpoint + "/webhdfs/v1" + remote + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build create request: %w", err)
	}

	noRedirect := *c.httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		return "", remoteError(resp)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", errors.New("create redirect without location")
	}
	return location, nil
}

type remoteException struct {
	RemoteException struct {
		Exception string `json:"exception"`
		Message   string `json:"message"`
	} `json:"RemoteException"`
}

func remoteError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload remoteException
	if json.Unmarshal(data, &payload) == nil && payload.RemoteException.Exception != "" {
		return fmt.Errorf("webhdfs returned %d: %s: %s", resp.StatusCode, payload.RemoteException.Exception, payload.RemoteException.Message)
	}
	return fmt.Errorf("webhdfs returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}

func execCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
