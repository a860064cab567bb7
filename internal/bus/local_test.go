package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/hivemind/internal/dispatch"
)

func TestLocalDeliverToSubscriber(t *testing.T) {
	l := NewLocal(zap.NewNop())
	stream := l.Subscribe("w1")

	asg := &dispatch.Assignment{Token: "tok", TaskID: "t1"}
	if err := l.Deliver(context.Background(), "w1", asg); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-stream:
		if got.Token != "tok" {
			t.Errorf("unexpected assignment %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("assignment never arrived")
	}
}

func TestLocalDeliverUnknownAgent(t *testing.T) {
	l := NewLocal(zap.NewNop())
	err := l.Deliver(context.Background(), "ghost", &dispatch.Assignment{})
	if !errors.Is(err, dispatch.ErrAgentNotConnected) {
		t.Fatalf("expected ErrAgentNotConnected, got %v", err)
	}
}

func TestLocalUnsubscribeClosesStream(t *testing.T) {
	l := NewLocal(zap.NewNop())
	stream := l.Subscribe("w1")
	l.Unsubscribe("w1")

	if _, ok := <-stream; ok {
		t.Error("expected closed stream after unsubscribe")
	}
	err := l.Deliver(context.Background(), "w1", &dispatch.Assignment{})
	if !errors.Is(err, dispatch.ErrAgentNotConnected) {
		t.Errorf("expected ErrAgentNotConnected after unsubscribe, got %v", err)
	}
}

func TestLocalResubscribeReplacesStream(t *testing.T) {
	l := NewLocal(zap.NewNop())
	old := l.Subscribe("w1")
	fresh := l.Subscribe("w1")

	if _, ok := <-old; ok {
		t.Error("expected old stream closed on re-subscribe")
	}
	if err := l.Deliver(context.Background(), "w1", &dispatch.Assignment{Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-fresh:
		if got.Token != "tok" {
			t.Errorf("unexpected assignment %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("assignment never arrived on fresh stream")
	}
}

func TestLocalDeliverRespectsContextWhenFull(t *testing.T) {
	l := NewLocal(zap.NewNop())
	l.Subscribe("w1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Fill the buffer; the next delivery blocks until ctx expires.
	var err error
	for i := 0; i < 32; i++ {
		if err = l.Deliver(ctx, "w1", &dispatch.Assignment{}); err != nil {
			break
		}
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error once the buffer filled, got %v", err)
	}
}
