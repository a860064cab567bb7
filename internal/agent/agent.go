package agent

import "time"

// Status tracks an agent's lifecycle in the registry.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Stats holds an agent's rolling performance counters.
// Latency is accumulated for successful attempts only, so failed attempts
// (which may carry no meaningful latency) never skew the average.
type Stats struct {
	Attempts               int           `json:"attempts"`
	Successes              int           `json:"successes"`
	TotalSuccessfulLatency time.Duration `json:"total_successful_latency"`
}

// SuccessRate is the lifetime success ratio. Zero attempts ranks lowest.
func (s Stats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// AvgResponseTime is the mean latency over successful attempts.
// The boolean is false when the agent has no successes yet.
func (s Stats) AvgResponseTime() (time.Duration, bool) {
	if s.Successes == 0 {
		return 0, false
	}
	return s.TotalSuccessfulLatency / time.Duration(s.Successes), true
}

// Agent is a worker known to the registry: an identity, the capability
// tags it advertises, and its performance record.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Capabilities []string  `json:"capabilities"`
	Status       Status    `json:"status"`
	Stats        Stats     `json:"stats"`
	RegisteredAt time.Time `json:"registered_at"`

	// seq is the registration order, used as the final ranking tie-break.
	seq uint64
}

// HasCapability reports whether the agent advertises the given tag.
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func (a *Agent) clone() *Agent {
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	return &cp
}
