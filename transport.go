package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Transport is the external chat gateway. It is a black box to this service:
// it emits raw events at our webhook and accepts sends through this interface.
type Transport interface {
	Send(ctx context.Context, conversationID, body string) (*TransportResult, error)
	Status() string
}

// GatewayTransport talks to an HTTP automation gateway.
type GatewayTransport struct {
	httpClient *resty.Client
	baseURL    string
}

type gatewaySendRequest struct {
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
}

type gatewaySendResponse struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

type gatewayStatusResponse struct {
	Status string `json:"status"`
}

func NewGatewayTransport(baseURL, apiKey string) (*GatewayTransport, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("transport baseURL cannot be empty")
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetTimeout(10 * time.Second)

	log.Info().Str("baseURL", baseURL).Msg("Transport gateway client configured")

	return &GatewayTransport{httpClient: client, baseURL: baseURL}, nil
}

// Send delivers a message through the gateway and returns its acknowledgment.
func (t *GatewayTransport) Send(ctx context.Context, conversationID, body string) (*TransportResult, error) {
	var result gatewaySendResponse
	resp, err := t.httpClient.R().
		SetContext(ctx).
		SetBody(gatewaySendRequest{ConversationID: conversationID, Body: body}).
		SetResult(&result).
		Post("/api/send")
	if err != nil {
		return nil, fmt.Errorf("transport send request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("transport send error: status %s, body: %s", resp.Status(), resp.String())
	}

	ack := &TransportResult{ID: result.ID}
	if result.Timestamp > 0 {
		ack.Timestamp = time.Unix(result.Timestamp, 0).UTC()
	}

	log.Debug().
		Str("conversationId", conversationID).
		Str("transportMessageId", ack.ID).
		Msg("Message sent through transport")
	return ack, nil
}

// Status reports the gateway's connection state for the /status command.
func (t *GatewayTransport) Status() string {
	var result gatewayStatusResponse
	resp, err := t.httpClient.R().
		SetResult(&result).
		Get("/api/status")
	if err != nil || resp.IsError() || result.Status == "" {
		return "unreachable"
	}
	return result.Status
}
