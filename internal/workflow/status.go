package workflow

import (
	"context"

	"seisarchive/internal/logging"
	"seisarchive/internal/pipeline"
	"seisarchive/internal/preflight"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	InFlight     []string
	LastError    string
	LastResult   *pipeline.Result
	JournalStats map[string]int
	Readiness    []preflight.Result
}

// Status returns the latest workflow information together with the
// readiness checks for the configured directories and services.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.Lock()
	summary := StatusSummary{}
	for path := range m.inflight {
		summary.InFlight = append(summary.InFlight, path)
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.last != nil {
		last := *m.last
		summary.LastResult = &last
	}
	m.mu.Unlock()

	if m.journal != nil {
		stats, err := m.journal.Stats(ctx)
		if err != nil {
			m.logger.Warn("failed to read journal stats", logging.Error(err))
		}
		summary.JournalStats = stats
	}
	summary.Readiness = preflight.RunAll(ctx, m.cfg)
	return summary
}
