package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/hivemind/internal/agent"
	"github.com/nidhogg/hivemind/internal/workflow"
)

// Dispatcher drives a task through the ranked fallback chain: candidates
// are tried strictly one at a time in rank order, never fanned out, so at
// most one agent ever produces an effective result for a task.
type Dispatcher struct {
	registry       *agent.Registry
	tracker        *agent.Tracker
	channel        *ExecChannel
	attemptTimeout time.Duration
	logger         *zap.Logger
}

// NewDispatcher creates a dispatcher with a fixed per-attempt timeout.
func NewDispatcher(registry *agent.Registry, tracker *agent.Tracker, channel *ExecChannel, attemptTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}
	return &Dispatcher{
		registry:       registry,
		tracker:        tracker,
		channel:        channel,
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}
}

// Dispatch resolves a task to a terminal result. Individual agent
// failures and timeouts are absorbed by advancing down the chain; only
// ErrNoCapableAgent or ErrAllAgentsFailed surface to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, task *workflow.Task) *workflow.TaskResult {
	candidates := d.registry.FindCandidates(task.Capability)
	if len(candidates) == 0 {
		d.logger.Warn("no capable agent",
			zap.String("task", task.ID),
			zap.String("capability", task.Capability))
		task.Advance(workflow.TaskFailed)
		result := &workflow.TaskResult{TaskID: task.ID, Error: ErrNoCapableAgent.Error()}
		task.Result = result
		return result
	}

	for i, cand := range candidates {
		select {
		case <-ctx.Done():
			task.Advance(workflow.TaskFailed)
			result := &workflow.TaskResult{TaskID: task.ID, Error: ctx.Err().Error(), Attempts: i}
			task.Result = result
			return result
		default:
		}

		task.Advance(workflow.TaskAssigned)
		task.AssignedAgent = cand.ID

		d.logger.Info("dispatching task",
			zap.String("task", task.ID),
			zap.String("agent", cand.ID),
			zap.Int("rank", i))

		attempt := d.channel.Execute(ctx, cand.ID, &Assignment{
			TaskID:     task.ID,
			Type:       task.Type,
			Capability: task.Capability,
			Complexity: string(task.Complexity),
			Data:       task.Data,
		}, d.attemptTimeout)

		d.tracker.Record(cand.ID, attempt.Success, attempt.Latency)

		if attempt.Success {
			task.Advance(workflow.TaskCompleted)
			result := &workflow.TaskResult{
				TaskID:   task.ID,
				AgentID:  cand.ID,
				Success:  true,
				Output:   attempt.Output,
				Latency:  attempt.Latency,
				Attempts: i + 1,
			}
			task.Result = result
			return result
		}

		d.logger.Warn("attempt failed, trying next candidate",
			zap.String("task", task.ID),
			zap.String("agent", cand.ID),
			zap.Error(attempt.Err))
	}

	task.Advance(workflow.TaskFailed)
	task.AssignedAgent = ""
	result := &workflow.TaskResult{
		TaskID:   task.ID,
		Error:    ErrAllAgentsFailed.Error(),
		Attempts: len(candidates),
	}
	task.Result = result
	return result
}
