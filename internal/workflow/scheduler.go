package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher resolves a single task to a terminal result.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *Task) *TaskResult
}

// Scheduler executes a workflow in two phases: tasks marked parallel with
// no dependencies run concurrently under a bounded pool, everything else
// runs one at a time, gated on the success of its declared dependencies.
type Scheduler struct {
	dispatcher Dispatcher
	pool       chan struct{} // semaphore-based pool
	logger     *zap.Logger
}

// NewScheduler creates a scheduler with a bounded goroutine pool.
func NewScheduler(dispatcher Dispatcher, poolSize int, logger *zap.Logger) *Scheduler {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &Scheduler{
		dispatcher: dispatcher,
		pool:       make(chan struct{}, poolSize),
		logger:     logger,
	}
}

// Execute drives every task of the workflow to a terminal state and
// aggregates the outcome. A task failure never aborts the workflow; it
// only fails the aggregate flag and any tasks depending on it. The
// returned result covers every task; none is left pending.
func (s *Scheduler) Execute(ctx context.Context, wf *Workflow) *WorkflowResult {
	start := time.Now()
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	wf.Status = WorkflowExecuting
	for _, t := range wf.Tasks {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.Status == "" {
			t.Status = TaskPending
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
	}

	s.logger.Info("executing workflow",
		zap.String("workflow", wf.ID),
		zap.String("name", wf.Name),
		zap.Int("tasks", len(wf.Tasks)))

	// An unorderable dependency graph fails the workflow before any
	// dispatch; every task still reaches a terminal state.
	if _, err := layerTasks(wf.Tasks); err != nil {
		for _, t := range wf.Tasks {
			t.Advance(TaskFailed)
			t.Result = &TaskResult{TaskID: t.ID, Error: err.Error()}
		}
		return s.aggregate(wf, start)
	}

	var phaseP, phaseS []*Task
	for _, t := range wf.Tasks {
		if t.Parallel && len(t.DependsOn) == 0 {
			phaseP = append(phaseP, t)
		} else {
			phaseS = append(phaseS, t)
		}
	}

	// Phase P: all concurrent, join-all. A failure neither cancels its
	// siblings nor short-circuits the workflow.
	var wg sync.WaitGroup
	for _, t := range phaseP {
		wg.Add(1)
		go func(task *Task) {
			defer wg.Done()
			s.pool <- struct{}{}        // acquire slot
			defer func() { <-s.pool }() // release slot
			s.dispatcher.Dispatch(ctx, task)
		}(t)
	}
	wg.Wait()

	succeeded := make(map[string]bool, len(wf.Tasks))
	for _, t := range phaseP {
		succeeded[t.Name] = t.Result != nil && t.Result.Success
	}

	// Phase S: dependency layers, one task at a time within a layer in
	// original list order. A task whose dependency did not succeed is
	// failed without ever contacting an agent.
	layers, _ := layerTasks(phaseS)
	for _, layer := range layers {
		for _, t := range layer {
			if blocked, dep := s.blockedOn(t, succeeded); blocked {
				s.logger.Warn("skipping task, dependency failed",
					zap.String("task", t.ID),
					zap.String("dependency", dep))
				t.Advance(TaskFailed)
				t.Result = &TaskResult{TaskID: t.ID, Error: ErrDependencyFailed.Error() + ": " + dep}
				succeeded[t.Name] = false
				continue
			}
			res := s.dispatcher.Dispatch(ctx, t)
			succeeded[t.Name] = res.Success
		}
	}

	return s.aggregate(wf, start)
}

// blockedOn reports whether a declared dependency settled unsuccessfully.
// Names that resolve to no task in the workflow gate nothing.
func (s *Scheduler) blockedOn(t *Task, succeeded map[string]bool) (bool, string) {
	for _, dep := range t.DependsOn {
		ok, known := succeeded[dep]
		if !known {
			s.logger.Warn("unknown dependency ignored",
				zap.String("task", t.ID),
				zap.String("dependency", dep))
			continue
		}
		if !ok {
			return true, dep
		}
	}
	return false, ""
}

func (s *Scheduler) aggregate(wf *Workflow, start time.Time) *WorkflowResult {
	result := &WorkflowResult{WorkflowID: wf.ID, Success: true}
	for _, t := range wf.Tasks {
		if t.Result == nil {
			t.Advance(TaskFailed)
			t.Result = &TaskResult{TaskID: t.ID, Error: "not dispatched"}
		}
		result.Results = append(result.Results, t.Result)
		if !t.Result.Success {
			result.Success = false
		}
	}
	result.Duration = time.Since(start)
	wf.Results = result.Results
	if result.Success {
		wf.Status = WorkflowCompleted
	} else {
		wf.Status = WorkflowFailed
	}
	s.logger.Info("workflow settled",
		zap.String("workflow", wf.ID),
		zap.Bool("success", result.Success),
		zap.Duration("duration", result.Duration))
	return result
}
