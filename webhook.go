package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// WebhookObserver posts every stored record to a configured downstream URL
// (dashboard backends, automation hooks).
type WebhookObserver struct {
	httpClient *resty.Client
	url        string
}

func NewWebhookObserver(url string) *WebhookObserver {
	client := resty.New().SetTimeout(5 * time.Second)
	return &WebhookObserver{httpClient: client, url: url}
}

func (o *WebhookObserver) Name() string {
	return "webhook"
}

// NotifyMessage sends the record as JSON. Observers are best-effort; the
// caller logs failures and moves on.
func (o *WebhookObserver) NotifyMessage(ctx context.Context, record *MessageRecord) error {
	resp, err := o.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(record).
		Post(o.url)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %s", resp.Status())
	}

	log.Debug().
		Str("messageId", record.MessageID).
		Str("url", o.url).
		Int("status", resp.StatusCode()).
		Msg("Record delivered to webhook")
	return nil
}
