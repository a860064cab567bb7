package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogAdapter writes events to the structured log. It is always
// registered so orchestration events are visible even with no chat
// platform configured.
type LogAdapter struct {
	logger *zap.Logger
}

// NewLogAdapter creates a log-backed notify adapter.
func NewLogAdapter(logger *zap.Logger) *LogAdapter {
	return &LogAdapter{logger: logger}
}

func (a *LogAdapter) Platform() string { return "log" }

func (a *LogAdapter) Connect(_ context.Context) error { return nil }

func (a *LogAdapter) Announce(_ context.Context, ev *Event) error {
	a.logger.Info("orchestration event",
		zap.String("type", string(ev.Type)),
		zap.String("title", ev.Title),
		zap.String("detail", ev.Detail),
		zap.String("agent", ev.AgentID))
	return nil
}

func (a *LogAdapter) Close() error { return nil }
