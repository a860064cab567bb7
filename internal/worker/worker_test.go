package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/hivemind/internal/dispatch"
)

type completionSink struct {
	mu    sync.Mutex
	comps []*dispatch.Completion
}

func (s *completionSink) complete(_ context.Context, comp *dispatch.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comps = append(s.comps, comp)
	return nil
}

func (s *completionSink) all() []*dispatch.Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*dispatch.Completion(nil), s.comps...)
}

func runWorker(t *testing.T, w *Worker, assignments chan *dispatch.Assignment, sink *completionSink) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, assignments, sink.complete)
	}()
	return func() {
		cancel()
		close(assignments)
		<-done
	}
}

func TestWorkerEmitsOneCompletionPerAssignment(t *testing.T) {
	sink := &completionSink{}
	handler := func(_ context.Context, asg *dispatch.Assignment) (json.RawMessage, error) {
		return json.RawMessage(`"ok"`), nil
	}
	w := New("w1", "worker", []string{"x"}, handler, zap.NewNop())

	assignments := make(chan *dispatch.Assignment, 4)
	stop := runWorker(t, w, assignments, sink)

	for i := 0; i < 3; i++ {
		assignments <- &dispatch.Assignment{Token: "tok", TaskID: "t"}
	}
	waitFor(t, func() bool { return len(sink.all()) == 3 })
	stop()

	for _, comp := range sink.all() {
		if !comp.Success || string(comp.Output) != `"ok"` {
			t.Errorf("unexpected completion %+v", comp)
		}
		if comp.Token != "tok" {
			t.Errorf("completion lost its correlation token: %+v", comp)
		}
		if comp.ResponseTime <= 0 {
			t.Error("expected measured response time")
		}
	}
}

func TestWorkerReportsHandlerError(t *testing.T) {
	sink := &completionSink{}
	handler := func(_ context.Context, _ *dispatch.Assignment) (json.RawMessage, error) {
		return nil, errors.New("tool exploded")
	}
	w := New("w1", "worker", []string{"x"}, handler, zap.NewNop())

	assignments := make(chan *dispatch.Assignment, 1)
	stop := runWorker(t, w, assignments, sink)
	assignments <- &dispatch.Assignment{Token: "tok"}
	waitFor(t, func() bool { return len(sink.all()) == 1 })
	stop()

	comp := sink.all()[0]
	if comp.Success {
		t.Error("expected failure completion")
	}
	if comp.Error != "tool exploded" {
		t.Errorf("expected handler error message, got %q", comp.Error)
	}
}

func TestWorkerStopsWhenStreamCloses(t *testing.T) {
	w := New("w1", "worker", nil, nil, zap.NewNop())
	assignments := make(chan *dispatch.Assignment)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background(), assignments, (&completionSink{}).complete)
	}()
	close(assignments)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on closed stream")
	}
}

func TestEchoHandlerEchoesPayload(t *testing.T) {
	out, err := EchoHandler(context.Background(), &dispatch.Assignment{
		TaskID:     "t1",
		Type:       "demo",
		Capability: "research",
		Complexity: "simple",
		Data:       json.RawMessage(`{"q":"hello"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["task_id"] != "t1" || decoded["capability"] != "research" {
		t.Errorf("unexpected echo %v", decoded)
	}
	input, ok := decoded["input"].(map[string]interface{})
	if !ok || input["q"] != "hello" {
		t.Errorf("expected input payload echoed, got %v", decoded["input"])
	}
}

func TestEchoHandlerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := EchoHandler(ctx, &dispatch.Assignment{Complexity: "complex"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
