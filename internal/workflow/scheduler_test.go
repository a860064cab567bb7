package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeDispatcher settles tasks from a script and records dispatch order
// and peak concurrency.
type fakeDispatcher struct {
	mu         sync.Mutex
	order      []string
	inflight   int
	peak       int
	delay      time.Duration
	failNames  map[string]bool
	dispatched map[string]int
}

func newFakeDispatcher(failNames ...string) *fakeDispatcher {
	fails := make(map[string]bool)
	for _, n := range failNames {
		fails[n] = true
	}
	return &fakeDispatcher{failNames: fails, dispatched: make(map[string]int)}
}

func (d *fakeDispatcher) Dispatch(_ context.Context, task *Task) *TaskResult {
	d.mu.Lock()
	d.order = append(d.order, task.Name)
	d.dispatched[task.Name]++
	d.inflight++
	if d.inflight > d.peak {
		d.peak = d.inflight
	}
	d.mu.Unlock()

	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	d.mu.Lock()
	d.inflight--
	d.mu.Unlock()

	task.Advance(TaskAssigned)
	var res *TaskResult
	if d.failNames[task.Name] {
		task.Advance(TaskFailed)
		res = &TaskResult{TaskID: task.ID, Error: "scripted failure"}
	} else {
		task.Advance(TaskCompleted)
		res = &TaskResult{TaskID: task.ID, AgentID: "fake", Success: true, Attempts: 1}
	}
	task.Result = res
	return res
}

func parallelTask(name string) *Task {
	return &Task{Name: name, Capability: "x", Parallel: true}
}

func seqTask(name string, deps ...string) *Task {
	return &Task{Name: name, Capability: "x", DependsOn: deps}
}

func TestExecuteParallelPhaseRunsConcurrently(t *testing.T) {
	d := newFakeDispatcher()
	d.delay = 30 * time.Millisecond
	s := NewScheduler(d, 8, zap.NewNop())

	wf := &Workflow{Name: "fanout", Tasks: []*Task{
		parallelTask("p1"), parallelTask("p2"), parallelTask("p3"), parallelTask("p4"),
	}}
	res := s.Execute(context.Background(), wf)

	if !res.Success {
		t.Fatal("expected success")
	}
	if d.peak < 2 {
		t.Errorf("expected concurrent dispatch, peak was %d", d.peak)
	}
	if wf.Status != WorkflowCompleted {
		t.Errorf("expected completed workflow, got %s", wf.Status)
	}
}

func TestExecutePoolBoundsConcurrency(t *testing.T) {
	d := newFakeDispatcher()
	d.delay = 20 * time.Millisecond
	s := NewScheduler(d, 2, zap.NewNop())

	wf := &Workflow{Tasks: []*Task{
		parallelTask("p1"), parallelTask("p2"), parallelTask("p3"),
		parallelTask("p4"), parallelTask("p5"), parallelTask("p6"),
	}}
	s.Execute(context.Background(), wf)

	if d.peak > 2 {
		t.Errorf("pool of 2 exceeded: peak %d", d.peak)
	}
}

func TestExecuteParallelJoinsBeforeSequential(t *testing.T) {
	d := newFakeDispatcher()
	d.delay = 20 * time.Millisecond
	s := NewScheduler(d, 4, zap.NewNop())

	wf := &Workflow{Tasks: []*Task{
		parallelTask("p1"), parallelTask("p2"),
		seqTask("s1"),
	}}
	s.Execute(context.Background(), wf)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.order[len(d.order)-1] != "s1" {
		t.Errorf("sequential task ran before parallel phase joined: %v", d.order)
	}
}

func TestExecuteParallelFailureDoesNotCancelSiblings(t *testing.T) {
	d := newFakeDispatcher("p2")
	s := NewScheduler(d, 4, zap.NewNop())

	wf := &Workflow{Tasks: []*Task{
		parallelTask("p1"), parallelTask("p2"), parallelTask("p3"),
	}}
	res := s.Execute(context.Background(), wf)

	if res.Success {
		t.Fatal("expected aggregate failure")
	}
	for _, name := range []string{"p1", "p2", "p3"} {
		if d.dispatched[name] != 1 {
			t.Errorf("expected %s dispatched once, got %d", name, d.dispatched[name])
		}
	}
	if wf.Status != WorkflowFailed {
		t.Errorf("expected failed workflow, got %s", wf.Status)
	}
}

func TestExecuteSequentialRunsInListOrder(t *testing.T) {
	d := newFakeDispatcher()
	s := NewScheduler(d, 4, zap.NewNop())

	wf := &Workflow{Tasks: []*Task{
		seqTask("s1"), seqTask("s2"), seqTask("s3"),
	}}
	s.Execute(context.Background(), wf)

	want := []string{"s1", "s2", "s3"}
	for i, n := range want {
		if d.order[i] != n {
			t.Fatalf("expected order %v, got %v", want, d.order)
		}
	}
}

func TestExecuteDependencyLayersOrdered(t *testing.T) {
	d := newFakeDispatcher()
	s := NewScheduler(d, 4, zap.NewNop())

	// join depends on both middles, declared before them in the list.
	wf := &Workflow{Tasks: []*Task{
		seqTask("join", "left", "right"),
		seqTask("left", "root"),
		seqTask("right", "root"),
		seqTask("root"),
	}}
	res := s.Execute(context.Background(), wf)

	if !res.Success {
		t.Fatal("expected success")
	}
	pos := make(map[string]int)
	for i, n := range d.order {
		pos[n] = i
	}
	if pos["root"] > pos["left"] || pos["root"] > pos["right"] {
		t.Errorf("root must run before its dependents: %v", d.order)
	}
	if pos["join"] < pos["left"] || pos["join"] < pos["right"] {
		t.Errorf("join must run after both dependencies: %v", d.order)
	}
	if pos["left"] > pos["right"] {
		t.Errorf("within a layer, list order must hold: %v", d.order)
	}
}

func TestExecuteFailedDependencyGatesDependents(t *testing.T) {
	d := newFakeDispatcher("root")
	s := NewScheduler(d, 4, zap.NewNop())

	wf := &Workflow{Tasks: []*Task{
		seqTask("root"),
		seqTask("child", "root"),
		seqTask("grandchild", "child"),
		seqTask("unrelated"),
	}}
	res := s.Execute(context.Background(), wf)

	if res.Success {
		t.Fatal("expected aggregate failure")
	}
	// Gated tasks are never handed to the dispatcher.
	if d.dispatched["child"] != 0 || d.dispatched["grandchild"] != 0 {
		t.Errorf("gated tasks must not be dispatched: %v", d.dispatched)
	}
	if d.dispatched["unrelated"] != 1 {
		t.Error("independent task must still run")
	}

	for _, task := range wf.Tasks {
		if task.Name == "child" || task.Name == "grandchild" {
			if task.Status != TaskFailed {
				t.Errorf("%s: expected failed, got %s", task.Name, task.Status)
			}
			if task.Result == nil || !strings.Contains(task.Result.Error, ErrDependencyFailed.Error()) {
				t.Errorf("%s: expected dependency-failed result, got %+v", task.Name, task.Result)
			}
		}
	}
}

func TestExecuteParallelFailureGatesSequentialDependent(t *testing.T) {
	d := newFakeDispatcher("fetch")
	s := NewScheduler(d, 4, zap.NewNop())

	wf := &Workflow{Tasks: []*Task{
		parallelTask("fetch"),
		seqTask("summarize", "fetch"),
	}}
	res := s.Execute(context.Background(), wf)

	if res.Success {
		t.Fatal("expected aggregate failure")
	}
	if d.dispatched["summarize"] != 0 {
		t.Error("dependent on failed parallel task must not be dispatched")
	}
}

func TestExecuteUnknownDependencyIgnored(t *testing.T) {
	d := newFakeDispatcher()
	s := NewScheduler(d, 4, zap.NewNop())

	wf := &Workflow{Tasks: []*Task{
		seqTask("solo", "phantom"),
	}}
	res := s.Execute(context.Background(), wf)

	if !res.Success {
		t.Fatal("unknown dependency must not gate the task")
	}
	if d.dispatched["solo"] != 1 {
		t.Error("expected solo dispatched despite phantom dependency")
	}
}

func TestExecuteCycleFailsAllTasksUpFront(t *testing.T) {
	d := newFakeDispatcher()
	s := NewScheduler(d, 4, zap.NewNop())

	wf := &Workflow{Tasks: []*Task{
		seqTask("a", "b"),
		seqTask("b", "a"),
		parallelTask("p1"),
	}}
	res := s.Execute(context.Background(), wf)

	if res.Success {
		t.Fatal("expected failure")
	}
	if len(d.order) != 0 {
		t.Errorf("nothing may be dispatched on a cyclic graph, got %v", d.order)
	}
	for _, task := range wf.Tasks {
		if task.Status != TaskFailed {
			t.Errorf("%s: expected failed, got %s", task.Name, task.Status)
		}
		if task.Result == nil || task.Result.Error != ErrDependencyCycle.Error() {
			t.Errorf("%s: expected cycle error, got %+v", task.Name, task.Result)
		}
	}
}

func TestExecuteEveryTaskReachesTerminalState(t *testing.T) {
	d := newFakeDispatcher("p1", "s2")
	s := NewScheduler(d, 4, zap.NewNop())

	wf := &Workflow{Tasks: []*Task{
		parallelTask("p1"), parallelTask("p2"),
		seqTask("s1"), seqTask("s2", "s1"), seqTask("s3", "s2"),
	}}
	res := s.Execute(context.Background(), wf)

	if len(res.Results) != len(wf.Tasks) {
		t.Fatalf("expected %d results, got %d", len(wf.Tasks), len(res.Results))
	}
	for _, task := range wf.Tasks {
		if !task.Terminal() {
			t.Errorf("%s left non-terminal: %s", task.Name, task.Status)
		}
	}
}

func TestExecuteAssignsIDs(t *testing.T) {
	d := newFakeDispatcher()
	s := NewScheduler(d, 4, zap.NewNop())

	wf := &Workflow{Tasks: []*Task{seqTask("s1")}}
	res := s.Execute(context.Background(), wf)

	if wf.ID == "" || res.WorkflowID != wf.ID {
		t.Error("expected workflow ID assigned and echoed in result")
	}
	if wf.Tasks[0].ID == "" {
		t.Error("expected task ID assigned")
	}
	if res.Duration <= 0 {
		t.Error("expected positive duration")
	}
}
