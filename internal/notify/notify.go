package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType categorizes orchestration events.
type EventType string

const (
	EventAgentJoined       EventType = "agent_joined"
	EventAgentLeft         EventType = "agent_left"
	EventTaskFailed        EventType = "task_failed"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
)

// Event is an orchestration announcement pushed to chat platforms.
type Event struct {
	Type      EventType `json:"type"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail"`
	AgentID   string    `json:"agent_id,omitempty"`
	Platforms []string  `json:"platforms,omitempty"`
}

// Adapter pushes events to one platform. Adapters are outbound-only;
// the orchestrator never consumes anything back from them.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Announce(ctx context.Context, ev *Event) error
	Close() error
}

// Record tracks a sent event for the status endpoint.
type Record struct {
	Event   *Event    `json:"event"`
	SentAt  time.Time `json:"sent_at"`
	Targets []string  `json:"targets"`
}

// Notifier fans orchestration events out to all registered adapters.
// Announcement failures are logged and never propagate into dispatch.
type Notifier struct {
	adapters map[string]Adapter
	history  []Record
	mu       sync.RWMutex
	logger   *zap.Logger
}

// New creates an empty notifier.
func New(logger *zap.Logger) *Notifier {
	return &Notifier{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// Register adds a platform adapter.
func (n *Notifier) Register(adapter Adapter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.adapters[adapter.Platform()] = adapter
	n.logger.Info("registered notify adapter", zap.String("platform", adapter.Platform()))
}

// ConnectAll starts every registered adapter. A platform that cannot
// connect is dropped with a warning; the rest keep working.
func (n *Notifier) ConnectAll(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for platform, adapter := range n.adapters {
		if err := adapter.Connect(ctx); err != nil {
			n.logger.Warn("notify adapter unavailable",
				zap.String("platform", platform), zap.Error(err))
			delete(n.adapters, platform)
			continue
		}
		n.logger.Info("notify adapter connected", zap.String("platform", platform))
	}
}

// Announce broadcasts an event to all adapters, or to the subset named
// in ev.Platforms. Always returns; per-platform failures are only logged.
func (n *Notifier) Announce(ctx context.Context, ev *Event) {
	if ev.Type == "" {
		return
	}

	n.mu.RLock()
	targets := make(map[string]Adapter, len(n.adapters))
	if len(ev.Platforms) > 0 {
		for _, p := range ev.Platforms {
			if a, ok := n.adapters[p]; ok {
				targets[p] = a
			}
		}
	} else {
		for p, a := range n.adapters {
			targets[p] = a
		}
	}
	n.mu.RUnlock()

	sent := make([]string, 0, len(targets))
	for platform, adapter := range targets {
		if err := adapter.Announce(ctx, ev); err != nil {
			n.logger.Warn("announce failed",
				zap.String("platform", platform),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
			continue
		}
		sent = append(sent, platform)
	}

	n.mu.Lock()
	n.history = append(n.history, Record{Event: ev, SentAt: time.Now(), Targets: sent})
	n.mu.Unlock()
}

// History returns recent announcement records.
func (n *Notifier) History(limit int) []Record {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if limit <= 0 || limit > len(n.history) {
		limit = len(n.history)
	}
	out := make([]Record, limit)
	copy(out, n.history[len(n.history)-limit:])
	return out
}

// Platforms returns the connected platform names.
func (n *Notifier) Platforms() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.adapters))
	for p := range n.adapters {
		names = append(names, p)
	}
	return names
}

// Close shuts down all adapters.
func (n *Notifier) Close() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for platform, adapter := range n.adapters {
		if err := adapter.Close(); err != nil {
			n.logger.Error("adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}

// format renders an event as a plain text announcement.
func format(ev *Event) string {
	if ev.Detail == "" {
		return fmt.Sprintf("[%s] %s", ev.Type, ev.Title)
	}
	return fmt.Sprintf("[%s] %s\n%s", ev.Type, ev.Title, ev.Detail)
}
