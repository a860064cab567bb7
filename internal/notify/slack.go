package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackAdapter announces orchestration events to configured Slack
// channels. Outbound only, so a plain Web API client suffices.
type SlackAdapter struct {
	client   *slack.Client
	channels []string
	logger   *zap.Logger
}

// NewSlackAdapter creates a Slack notify adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
func NewSlackAdapter(botToken string, channels []string, logger *zap.Logger) *SlackAdapter {
	return &SlackAdapter{
		client:   slack.New(botToken),
		channels: channels,
		logger:   logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

// Connect verifies the token against the Slack API.
func (a *SlackAdapter) Connect(_ context.Context) error {
	if len(a.channels) == 0 {
		return fmt.Errorf("no slack channels configured")
	}
	if _, err := a.client.AuthTest(); err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	a.logger.Info("slack adapter connected", zap.Int("channels", len(a.channels)))
	return nil
}

// Announce posts the event to every configured channel.
func (a *SlackAdapter) Announce(_ context.Context, ev *Event) error {
	text := fmt.Sprintf("*%s*", format(ev))
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
	}

	var failed int
	for _, ch := range a.channels {
		if _, _, err := a.client.PostMessage(ch, opts...); err != nil {
			a.logger.Warn("slack announce to channel failed",
				zap.String("channel", ch), zap.Error(err))
			failed++
		}
	}
	if failed == len(a.channels) {
		return fmt.Errorf("slack announce failed on all %d channel(s)", failed)
	}
	return nil
}

// Close is a no-op; the Web API client holds no connection.
func (a *SlackAdapter) Close() error {
	return nil
}
