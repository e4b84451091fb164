package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// WebhookTransport posts the artifact body to a configured URL, used for
// integrations that have no native channel concept.
type WebhookTransport struct {
	url        string
	httpClient *http.Client
}

func NewWebhookTransport(url string, client *http.Client) *WebhookTransport {
	return &WebhookTransport{url: url, httpClient: client}
}

func (t *WebhookTransport) Name() string { return "webhook" }

// Send posts body to the configured URL and passes recipientAddress in the
// X-Recipient-Address header, for endpoints that fan a single URL out to
// multiple recipients.
func (t *WebhookTransport) Send(ctx context.Context, recipientAddress, body string) (string, error) {
	messageID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewBufferString(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-Recipient-Address", recipientAddress)
	req.Header.Set("X-Message-ID", messageID)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", &ErrTransientTransportFailure{Cause: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return "", &ErrTransientTransportFailure{Cause: fmt.Errorf("webhook transport returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("webhook transport rejected delivery: %d", resp.StatusCode)
	}
	return messageID, nil
}
