package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/rs/zerolog/log"
)

type Sender interface {
	Send(ctx context.Context, notification model.Notification) error
}

// LogSender only logs notifications, used when no webhook is configured
type LogSender struct{}

func (LogSender) Send(_ context.Context, notification model.Notification) error {
	log.Info().
		Str("tracking", notification.TrackingID).
		Str("title", notification.Title).
		Msg(notification.Message)

	return nil
}

// WebhookSender posts each notification as JSON to a fixed URL
type WebhookSender struct {
	session  *http.Client
	url      string
	secret   string
	maxRetry time.Duration
}

func NewWebhookSender(url string, secret string) *WebhookSender {
	return &WebhookSender{
		session:  &http.Client{Timeout: 10 * time.Second},
		url:      url,
		secret:   secret,
		maxRetry: 30 * time.Second,
	}
}

func (s *WebhookSender) Send(ctx context.Context, notification model.Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	retryBackoff := backoff.NewExponentialBackOff()
	retryBackoff.MaxElapsedTime = s.maxRetry

	return backoff.Retry(func() error {
		return s.post(ctx, body)
	}, backoff.WithContext(retryBackoff, ctx))
}

func (s *WebhookSender) post(ctx context.Context, body []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	request.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		request.Header.Set("Authorization", "Bearer "+s.secret)
	}

	response, err := s.session.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode >= 500 || response.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned %d", response.StatusCode)
	case response.StatusCode >= 400:
		return backoff.Permanent(errors.New("webhook rejected notification: " + response.Status))
	}

	return nil
}
