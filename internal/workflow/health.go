package workflow

import (
	"context"
	"fmt"

	"medscribe/internal/jobs"
	"medscribe/internal/stage"
)

// StatusSummary captures controller state for the health endpoint and CLI.
type StatusSummary struct {
	Running     bool
	JobStats    map[jobs.Status]int
	QueueDepth  int
	InFlight    int
	LastError   string
	StageHealth []stage.Health
}

// Ready reports whether every required stage is healthy.
func (s StatusSummary) Ready() bool {
	for _, h := range s.StageHealth {
		if h.Required && !h.Ready {
			return false
		}
	}
	return true
}

// HealthChecks probes every registered executor.
func (m *Manager) HealthChecks(ctx context.Context) []stage.Health {
	results := make([]stage.Health, 0, len(m.executors))
	for _, name := range stage.Names() {
		exec, ok := m.executor(name)
		if !ok {
			if name != stage.Diarization {
				results = append(results, stage.Unhealthy(string(name), "executor not registered"))
			}
			continue
		}
		results = append(results, exec.HealthCheck(ctx))
	}
	return results
}

// Status returns a snapshot of the controller.
func (m *Manager) Status(ctx context.Context) (StatusSummary, error) {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		return summary, fmt.Errorf("job stats: %w", err)
	}
	summary.JobStats = stats
	summary.QueueDepth = m.queue.Depth()
	summary.InFlight = m.queue.InFlight()
	summary.StageHealth = m.HealthChecks(ctx)
	return summary, nil
}
