package dispatch

import (
	"context"

	"github.com/slack-go/slack"
)

// SlackTransport delivers a digest as a Slack DM or channel message.
type SlackTransport struct {
	client *slack.Client
}

func NewSlackTransport(botToken string) *SlackTransport {
	return &SlackTransport{client: slack.New(botToken)}
}

func (t *SlackTransport) Name() string { return "slack" }

// Send posts body to recipientAddress (a Slack user or channel ID).
func (t *SlackTransport) Send(ctx context.Context, recipientAddress, body string) (string, error) {
	_, timestamp, err := t.client.PostMessageContext(ctx, recipientAddress, slack.MsgOptionText(body, false))
	if err != nil {
		return "", &ErrTransientTransportFailure{Cause: err}
	}
	return timestamp, nil
}
