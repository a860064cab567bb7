package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/hivemind/internal/dispatch"
)

// Handler produces the opaque result payload for one assignment. The
// orchestration core never inspects it.
type Handler func(ctx context.Context, asg *dispatch.Assignment) (json.RawMessage, error)

// CompleteFunc delivers a completion back to the coordinator: directly
// into the execution channel for local workers, or over the bus for
// remote ones.
type CompleteFunc func(ctx context.Context, comp *dispatch.Completion) error

// Worker consumes an assignment stream and emits exactly one completion
// per assignment, fulfilling the worker-facing contract.
type Worker struct {
	ID           string
	Name         string
	Capabilities []string
	Handler      Handler
	logger       *zap.Logger
}

// New creates a worker. A nil handler falls back to EchoHandler.
func New(id, name string, capabilities []string, handler Handler, logger *zap.Logger) *Worker {
	if handler == nil {
		handler = EchoHandler
	}
	return &Worker{
		ID:           id,
		Name:         name,
		Capabilities: capabilities,
		Handler:      handler,
		logger:       logger,
	}
}

// Run processes assignments until the stream closes or ctx is done.
func (w *Worker) Run(ctx context.Context, assignments <-chan *dispatch.Assignment, complete CompleteFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case asg, ok := <-assignments:
			if !ok {
				return
			}
			w.handle(ctx, asg, complete)
		}
	}
}

func (w *Worker) handle(ctx context.Context, asg *dispatch.Assignment, complete CompleteFunc) {
	start := time.Now()
	output, err := w.Handler(ctx, asg)

	comp := &dispatch.Completion{
		Token:        asg.Token,
		ResponseTime: time.Since(start),
	}
	if err != nil {
		comp.Error = err.Error()
		w.logger.Warn("assignment failed",
			zap.String("worker", w.ID),
			zap.String("task", asg.TaskID),
			zap.Error(err))
	} else {
		comp.Success = true
		comp.Output = output
	}

	if cerr := complete(ctx, comp); cerr != nil {
		w.logger.Error("completion delivery failed",
			zap.String("worker", w.ID),
			zap.String("token", asg.Token),
			zap.Error(cerr))
	}
}

// EchoHandler is the default simulated workload: it pauses briefly by
// complexity tier and echoes the assignment payload back.
func EchoHandler(ctx context.Context, asg *dispatch.Assignment) (json.RawMessage, error) {
	delay := 50 * time.Millisecond
	switch asg.Complexity {
	case "medium":
		delay = 150 * time.Millisecond
	case "complex":
		delay = 400 * time.Millisecond
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := map[string]interface{}{
		"task_id":      asg.TaskID,
		"type":         asg.Type,
		"capability":   asg.Capability,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if len(asg.Data) > 0 {
		out["input"] = json.RawMessage(asg.Data)
	}
	return json.Marshal(out)
}
