package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/hivemind/internal/dispatch"
)

// Local is an in-process transport: each subscribed worker owns a
// buffered assignment channel keyed by agent ID. Used for single-process
// deployments and tests.
type Local struct {
	subs   map[string]chan *dispatch.Assignment
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewLocal creates an in-process assignment bus.
func NewLocal(logger *zap.Logger) *Local {
	return &Local{
		subs:   make(map[string]chan *dispatch.Assignment),
		logger: logger,
	}
}

// Subscribe opens the assignment stream for an agent. Re-subscribing
// replaces and closes the previous stream.
func (l *Local) Subscribe(agentID string) <-chan *dispatch.Assignment {
	ch := make(chan *dispatch.Assignment, 16)
	l.mu.Lock()
	if old, ok := l.subs[agentID]; ok {
		close(old)
	}
	l.subs[agentID] = ch
	l.mu.Unlock()
	return ch
}

// Unsubscribe closes and removes an agent's stream.
func (l *Local) Unsubscribe(agentID string) {
	l.mu.Lock()
	if ch, ok := l.subs[agentID]; ok {
		close(ch)
		delete(l.subs, agentID)
	}
	l.mu.Unlock()
}

// Deliver places an assignment on the agent's stream.
func (l *Local) Deliver(ctx context.Context, agentID string, asg *dispatch.Assignment) error {
	l.mu.RLock()
	ch, ok := l.subs[agentID]
	l.mu.RUnlock()
	if !ok {
		return dispatch.ErrAgentNotConnected
	}
	select {
	case ch <- asg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
