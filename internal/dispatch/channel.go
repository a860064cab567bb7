package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Assignment is the payload handed to a worker for one attempt. The Token
// is unique to the attempt, not the task: a retried task gets a fresh
// token, so a stale completion can never latch onto a later attempt.
type Assignment struct {
	Token      string          `json:"token"`
	TaskID     string          `json:"task_id"`
	Type       string          `json:"type"`
	Capability string          `json:"capability"`
	Complexity string          `json:"complexity,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Completion is the worker's answer, correlated by token.
type Completion struct {
	Token        string          `json:"token"`
	Success      bool            `json:"success"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	ResponseTime time.Duration   `json:"response_time"`
}

// AttemptResult is the settled outcome of a single attempt.
type AttemptResult struct {
	Success bool
	Output  json.RawMessage
	Err     error
	Latency time.Duration
}

// Transport delivers an assignment to a worker's inbound stream. Delivery
// is fire-and-forget; the answer comes back through Resolve.
type Transport interface {
	Deliver(ctx context.Context, agentID string, asg *Assignment) error
}

// ExecChannel correlates one outstanding attempt with its eventual
// completion. Each attempt registers a one-shot waiter keyed by token and
// races the completion against a timeout; whichever loses is retired
// immediately, so late completions are absorbed instead of leaking into
// an unrelated attempt.
type ExecChannel struct {
	transport Transport
	pending   map[string]chan *Completion
	mu        sync.Mutex
	logger    *zap.Logger
}

// NewExecChannel creates an execution channel over the given transport.
func NewExecChannel(transport Transport, logger *zap.Logger) *ExecChannel {
	return &ExecChannel{
		transport: transport,
		pending:   make(map[string]chan *Completion),
		logger:    logger,
	}
}

// Execute sends the assignment to the target agent and blocks until the
// correlated completion arrives, the timeout elapses, or ctx is done.
// Exactly one of those wins.
func (c *ExecChannel) Execute(ctx context.Context, agentID string, asg *Assignment, timeout time.Duration) *AttemptResult {
	token := uuid.New().String()
	asg.Token = token

	waiter := make(chan *Completion, 1)
	c.mu.Lock()
	c.pending[token] = waiter
	c.mu.Unlock()
	defer c.retire(token)

	start := time.Now()
	if err := c.transport.Deliver(ctx, agentID, asg); err != nil {
		return &AttemptResult{
			Err:     fmt.Errorf("deliver to %s: %w", agentID, err),
			Latency: time.Since(start),
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case comp := <-waiter:
		latency := time.Since(start)
		if comp.ResponseTime > 0 {
			latency = comp.ResponseTime
		}
		if !comp.Success {
			errMsg := comp.Error
			if errMsg == "" {
				errMsg = "agent reported failure"
			}
			return &AttemptResult{Err: fmt.Errorf("agent %s: %s", agentID, errMsg), Latency: latency}
		}
		return &AttemptResult{Success: true, Output: comp.Output, Latency: latency}
	case <-timer.C:
		c.logger.Warn("attempt timed out",
			zap.String("agent", agentID),
			zap.String("task", asg.TaskID),
			zap.Duration("timeout", timeout))
		return &AttemptResult{Err: ErrAttemptTimeout, Latency: time.Since(start)}
	case <-ctx.Done():
		return &AttemptResult{Err: ctx.Err(), Latency: time.Since(start)}
	}
}

// Resolve delivers a completion to the attempt waiting on its token.
// Returns false when the token has already been retired (a late answer
// after timeout), in which case the completion is silently dropped.
func (c *ExecChannel) Resolve(token string, comp *Completion) bool {
	c.mu.Lock()
	waiter, ok := c.pending[token]
	if ok {
		delete(c.pending, token)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropped completion for retired token", zap.String("token", token))
		return false
	}
	waiter <- comp // buffered; exactly one send per token
	return true
}

// Pending reports the number of outstanding attempts.
func (c *ExecChannel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *ExecChannel) retire(token string) {
	c.mu.Lock()
	delete(c.pending, token)
	c.mu.Unlock()
}
