// Package station queries an FDSN station web service for channel epochs
// and station coordinates.
package station

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"seisarchive/internal/services"
)

// OpenEnd is the end date assigned to epochs that have not been closed.
var OpenEnd = time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC)

// Level selects the FDSN response granularity.
type Level string

const (
	LevelStation Level = "station"
	LevelChannel Level = "channel"
)

// Epoch is one row of an FDSN text response.
type Epoch struct {
	Network   string
	Station   string
	Location  string
	Channel   string
	Latitude  float64
	Longitude float64
	Elevation float64
	Start     time.Time
	End       time.Time
}

// ID renders NET.STA.LOC.CHA for channel epochs and NET.STA for station epochs.
func (e Epoch) ID() string {
	if e.Channel == "" {
		return e.Network + "." + e.Station
	}
	return e.Network + "." + e.Station + "." + e.Location + "." + e.Channel
}

// Contains reports whether the day of t lies within the epoch dates,
// inclusive. An epoch whose start follows its end wraps around.
func (e Epoch) Contains(t time.Time) bool {
	return InRange(dateOf(e.Start), dateOf(e.End), dateOf(t))
}

// InRange reports whether t is within [start, end], treating start > end as
// a wrapped interval.
func InRange(start, end, t time.Time) bool {
	if !start.After(end) {
		return !t.Before(start) && !t.After(end)
	}
	return !t.Before(start) || !t.After(end)
}

// Lookup is the station metadata used by the pipeline stages.
type Lookup interface {
	ChannelEpochs(ctx context.Context, network, station string) ([]Epoch, error)
	StationEpochs(ctx context.Context, network, station string) ([]Epoch, error)
}

// Client talks to an FDSN station service over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Lookup = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit bounds outgoing requests per second. Zero disables throttling.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New creates a station client for endpoint.
func New(endpoint string, timeout time.Duration, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("station endpoint required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ChannelEpochs returns every channel epoch of network.station.
func (c *Client) ChannelEpochs(ctx context.Context, network, station string) ([]Epoch, error) {
	return c.query(ctx, LevelChannel, network, station)
}

// StationEpochs returns the station epochs with coordinates.
func (c *Client) StationEpochs(ctx context.Context, network, station string) ([]Epoch, error) {
	return c.query(ctx, LevelStation, network, station)
}

func (c *Client) query(ctx context.Context, level Level, network, station string) ([]Epoch, error) {
	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "station", "parse endpoint", c.endpoint, err)
	}
	params := endpoint.Query()
	params.Set("level", string(level))
	params.Set("net", network)
	params.Set("station", station)
	params.Set("format", "text")
	endpoint.RawQuery = params.Encode()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "station", "query", fmt.Sprintf("latency=%v", latency), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return nil, nil
	default:
		return nil, services.Wrap(services.ErrExternalService, "station", "query",
			fmt.Sprintf("station service returned %d (latency=%v)", resp.StatusCode, latency), nil)
	}

	epochs, err := ParseText(resp.Body, level)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "station", "parse response", "", err)
	}
	return epochs, nil
}

// ParseText decodes a pipe-delimited FDSN text response. Header lines start
// with '#'. An empty end date maps to OpenEnd.
func ParseText(r io.Reader, level Level) ([]Epoch, error) {
	var epochs []Epoch
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		cols := strings.Split(text, "|")
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}
		epoch, err := parseRow(cols, level)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		epochs = append(epochs, epoch)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return epochs, nil
}

func parseRow(cols []string, level Level) (Epoch, error) {
	var epoch Epoch
	coords := 2
	minCols := 8
	if level == LevelChannel {
		coords = 4
		minCols = 9
	}
	if len(cols) < minCols {
		return Epoch{}, fmt.Errorf("expected at least %d columns, got %d", minCols, len(cols))
	}
	epoch.Network = cols[0]
	epoch.Station = cols[1]
	if level == LevelChannel {
		epoch.Location = cols[2]
		epoch.Channel = cols[3]
	}

	values := make([]float64, 3)
	for i := range values {
		raw := cols[coords+i]
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Epoch{}, fmt.Errorf("parse coordinate %q: %w", raw, err)
		}
		values[i] = v
	}
	epoch.Latitude, epoch.Longitude, epoch.Elevation = values[0], values[1], values[2]

	start, err := parseTime(cols[len(cols)-2])
	if err != nil {
		return Epoch{}, fmt.Errorf("parse start time: %w", err)
	}
	epoch.Start = start
	if raw := cols[len(cols)-1]; raw == "" {
		epoch.End = OpenEnd
	} else {
		end, err := parseTime(raw)
		if err != nil {
			return Epoch{}, fmt.Errorf("parse end time: %w", err)
		}
		epoch.End = end
	}
	return epoch, nil
}

var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02",
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
