package agent

import (
	"time"

	"go.uber.org/zap"
)

// Tracker is the registry's only mutator path for performance stats.
// Every dispatch attempt is recorded exactly once, success or not.
type Tracker struct {
	registry *Registry
	logger   *zap.Logger
}

// NewTracker creates a tracker bound to a registry.
func NewTracker(registry *Registry, logger *zap.Logger) *Tracker {
	return &Tracker{registry: registry, logger: logger}
}

// Record updates an agent's counters after an attempt. Attempts always
// increment; successes additionally accumulate latency. Recording against
// an agent that has since left the registry is a no-op.
func (t *Tracker) Record(agentID string, success bool, latency time.Duration) {
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()

	a, ok := t.registry.agents[agentID]
	if !ok {
		t.logger.Debug("stats for departed agent dropped", zap.String("id", agentID))
		return
	}
	a.Stats.Attempts++
	if success {
		a.Stats.Successes++
		a.Stats.TotalSuccessfulLatency += latency
	}
	t.logger.Debug("recorded attempt",
		zap.String("id", agentID),
		zap.Bool("success", success),
		zap.Duration("latency", latency),
		zap.Int("attempts", a.Stats.Attempts),
		zap.Int("successes", a.Stats.Successes))
}
