// Package catalog collects per-channel waveform statistics of archived files
// into the daily_streams catalog. Collection is the one pipeline step that
// waits for the metadata store instead of failing the file: the catalog can
// be rebuilt later and never blocks the archive.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/metadata"
	"seisarchive/internal/waveform"
)

// ErrExhausted reports that every collection attempt failed.
var ErrExhausted = errors.New("catalog collection attempts exhausted")

// Collector parses a file and replaces its catalog streams.
type Collector struct {
	parser      waveform.Parser
	store       metadata.Store
	interval    time.Duration
	maxAttempts uint
	now         func() time.Time
	logger      *slog.Logger
}

// NewCollector builds a collector retrying at the configured fixed interval.
// catalog.max_attempts of 0 retries until the store answers or ctx ends.
func NewCollector(cfg *config.Config, parser waveform.Parser, store metadata.Store, logger *slog.Logger) *Collector {
	attempts := 0
	if cfg.Catalog.MaxAttempts > 0 {
		attempts = cfg.Catalog.MaxAttempts
	}
	return &Collector{
		parser:      parser,
		store:       store,
		interval:    cfg.CatalogRetryInterval(),
		maxAttempts: uint(attempts),
		now:         time.Now,
		logger:      logging.NewComponentLogger(logger, "catalog"),
	}
}

// Collect stores the streams of the file at path under fileID and returns
// how many were written. Parse failures are not retried.
func (c *Collector) Collect(ctx context.Context, path, fileID string) (int, error) {
	attempt := 0
	var parseErr error
	operation := func() (int, error) {
		attempt++
		stream, err := c.parser.Parse(path)
		if err != nil {
			parseErr = fmt.Errorf("parse %s: %w", fileID, err)
			return 0, backoff.Permanent(parseErr)
		}
		streams := DailyStreams(fileID, stream, c.now().UTC())
		if err := c.store.ReplaceStreams(ctx, fileID, streams); err != nil {
			return 0, err
		}
		return len(streams), nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(c.interval)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("catalog store unavailable; retrying",
				logging.String(logging.FieldFile, fileID),
				logging.Int("attempt", attempt),
				logging.Duration("retry_in", next),
				logging.Error(err),
				logging.String(logging.FieldEventType, "catalog_retry"),
			)
		}),
	}
	if c.maxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(c.maxAttempts))
	}

	n, err := backoff.Retry(ctx, operation, opts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if parseErr != nil {
			return 0, parseErr
		}
		return 0, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
	}
	return n, nil
}

// Remove deletes the catalog streams of fileID.
func (c *Collector) Remove(ctx context.Context, fileID string) (int, error) {
	return c.store.DeleteStreams(ctx, fileID)
}

// DailyStreams aggregates the traces of stream into one catalog row per
// channel. Gaps and overlaps are counted between consecutive traces of the
// same channel.
func DailyStreams(fileID string, stream *waveform.Stream, created time.Time) []metadata.DailyStream {
	var out []metadata.DailyStream
	index := map[string]int{}
	prevEnd := map[string]time.Time{}
	covered := map[string]time.Duration{}

	for _, tr := range stream.Traces {
		id := tr.ID()
		i, ok := index[id]
		if !ok {
			i = len(out)
			index[id] = i
			out = append(out, metadata.DailyStream{
				FileID:     fileID,
				Network:    tr.Network,
				Station:    tr.Station,
				Location:   tr.Location,
				Channel:    tr.Channel,
				Quality:    tr.Quality,
				StartTime:  tr.Start.UTC(),
				EndTime:    tr.End.UTC(),
				SampleRate: tr.SampleRate,
				Created:    created,
			})
		} else {
			if tr.Start.After(prevEnd[id]) {
				out[i].NumGaps++
			} else {
				out[i].NumOverlaps++
			}
			if tr.End.After(out[i].EndTime) {
				out[i].EndTime = tr.End.UTC()
			}
		}
		out[i].NumSamples += tr.Samples
		out[i].NumRecords += tr.Records
		prevEnd[id] = tr.End
		covered[id] += traceSpan(tr)
	}

	for id, i := range index {
		dayEnd := out[i].StartTime.Truncate(24 * time.Hour).Add(24 * time.Hour)
		span := covered[id]
		if limit := dayEnd.Sub(out[i].StartTime); span > limit {
			span = limit
		}
		out[i].Availability = availability(span)
	}
	return out
}

// traceSpan is the time covered by a trace including its last sample.
func traceSpan(tr waveform.Trace) time.Duration {
	span := tr.End.Sub(tr.Start)
	if tr.SampleRate > 0 {
		span += time.Duration(float64(time.Second) / tr.SampleRate)
	}
	return span
}

// availability returns the percentage of a day covered by span.
func availability(span time.Duration) float64 {
	pct := 100 * span.Seconds() / (24 * time.Hour).Seconds()
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
