// SPDX-License-Identifier: GPL-3.0-or-later
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CrawX/go-imap-indexer/domain"

	"github.com/stretchr/testify/assert"
)

var testEvent = &domain.Event{
	Account:  "sales",
	Folder:   "INBOX",
	Subject:  "Re: proposal",
	From:     "Alice <alice@example.com>",
	Date:     time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
	Category: domain.Interested,
}

func capture(t *testing.T, status int) (*httptest.Server, *[]byte) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &body
}

func TestWebhookSink(t *testing.T) {
	srv, body := capture(t, http.StatusOK)

	err := NewWebhookSink(srv.URL).Send(context.Background(), testEvent)
	assert.Nil(t, err)

	var payload map[string]interface{}
	assert.Nil(t, json.Unmarshal(*body, &payload))
	assert.Equal(t, map[string]interface{}{
		"type": "new_interested_email",
		"email": map[string]interface{}{
			"account":  "sales",
			"subject":  "Re: proposal",
			"from":     "Alice <alice@example.com>",
			"date":     "2024-03-01T10:30:00Z",
			"category": "Interested",
		},
	}, payload)
}

func TestSlackSink(t *testing.T) {
	srv, body := capture(t, http.StatusOK)

	err := NewSlackSink(srv.URL).Send(context.Background(), testEvent)
	assert.Nil(t, err)

	var payload map[string]string
	assert.Nil(t, json.Unmarshal(*body, &payload))
	assert.Equal(t,
		"*New Interested Email!*\n\n*Account:* sales\n*From:* Alice <alice@example.com>\n*Subject:* Re: proposal\n*Date:* 2024-03-01T10:30:00Z",
		payload["text"])
}

func TestSinkErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		rateLimited bool
	}{
		{"ratelimited", http.StatusTooManyRequests, true},
		{"servererror", http.StatusInternalServerError, false},
		{"badrequest", http.StatusBadRequest, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := capture(t, tc.status)

			err := NewWebhookSink(srv.URL).Send(context.Background(), testEvent)
			assert.NotNil(t, err)
			assert.Equal(t, tc.rateLimited, errors.Is(err, domain.ErrRateLimited))
		})
	}
}

func TestSinkUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewSlackSink(url).Send(context.Background(), testEvent)
	assert.NotNil(t, err)
}
