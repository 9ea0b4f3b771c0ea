// SPDX-License-Identifier: GPL-3.0-or-later
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CrawX/go-imap-indexer/domain"
)

const (
	SinkTimeout = 10 * time.Second

	EventTypeInterested = "new_interested_email"
)

type webhookEmail struct {
	Account  string `json:"account"`
	Subject  string `json:"subject"`
	From     string `json:"from"`
	Date     string `json:"date"`
	Category string `json:"category"`
}

type webhookPayload struct {
	Type  string       `json:"type"`
	Email webhookEmail `json:"email"`
}

// WebhookSink posts a JSON document describing the event.
type WebhookSink struct {
	client *http.Client
	url    string
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		client: &http.Client{Timeout: SinkTimeout},
		url:    url,
	}
}

func (w *WebhookSink) Name() string {
	return "webhook"
}

func (w *WebhookSink) Send(ctx context.Context, event *domain.Event) error {
	return postJSON(ctx, w.client, w.url, &webhookPayload{
		Type: EventTypeInterested,
		Email: webhookEmail{
			Account:  event.Account,
			Subject:  event.Subject,
			From:     event.From,
			Date:     formatDate(event.Date),
			Category: string(event.Category),
		},
	})
}

type slackPayload struct {
	Text string `json:"text"`
}

// SlackSink posts a chat message to a Slack incoming webhook.
type SlackSink struct {
	client *http.Client
	url    string
}

func NewSlackSink(url string) *SlackSink {
	return &SlackSink{
		client: &http.Client{Timeout: SinkTimeout},
		url:    url,
	}
}

func (s *SlackSink) Name() string {
	return "slack"
}

func (s *SlackSink) Send(ctx context.Context, event *domain.Event) error {
	text := fmt.Sprintf(
		"*New Interested Email!*\n\n*Account:* %s\n*From:* %s\n*Subject:* %s\n*Date:* %s",
		event.Account, event.From, event.Subject, formatDate(event.Date),
	)
	return postJSON(ctx, s.client, s.url, &slackPayload{Text: text})
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not serialize payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", domain.ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d, expected 2xx", resp.StatusCode)
	}

	return nil
}
