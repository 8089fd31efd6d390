package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Observer is notified after a record has been persisted. Notifications are
// best-effort and never fail the ingestion.
type Observer interface {
	Name() string
	NotifyMessage(ctx context.Context, record *MessageRecord) error
}

// DispatchResult captures one observer's outcome for a single record.
type DispatchResult struct {
	Channel  string `json:"channel"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration_ms"`
}

// Coordinator drives each inbound event through resolve, classify, persist and
// dispatch. Events are independent: one goroutine each, no ordering across
// messages, with per-messageId atomicity delegated to the store.
type Coordinator struct {
	resolver   *Resolver
	classifier *Classifier
	store      *MessageStore
	transport  Transport
	observers  []Observer

	storeTimeout    time.Duration
	dispatchTimeout time.Duration
	replyTimeout    time.Duration

	wg sync.WaitGroup
}

func NewCoordinator(resolver *Resolver, classifier *Classifier, store *MessageStore, transport Transport, observers []Observer) *Coordinator {
	return &Coordinator{
		resolver:        resolver,
		classifier:      classifier,
		store:           store,
		transport:       transport,
		observers:       observers,
		storeTimeout:    5 * time.Second,
		dispatchTimeout: 10 * time.Second,
		replyTimeout:    5 * time.Second,
	}
}

// HandleAsync processes the event on its own goroutine. Failures are logged
// with full context and not retried; the transport's at-least-once redelivery
// naturally retries through the idempotent store.
func (c *Coordinator) HandleAsync(ctx context.Context, event RawEvent) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.Ingest(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("externalId", event.ExternalID).
				Str("participant", event.ParticipantRaw).
				Str("conversation", event.ConversationID).
				Msg("Ingestion failed")
		}
	}()
}

// Ingest runs the full pipeline for one inbound event and returns the stored
// record.
func (c *Coordinator) Ingest(ctx context.Context, event RawEvent) (*MessageRecord, error) {
	if event.Direction != "" && event.Direction != DirectionInbound {
		return nil, newValidationError("direction", "ingestion accepts inbound events only")
	}
	if event.ExternalID == "" {
		return nil, newValidationError("externalId", "must not be empty")
	}

	log.Debug().Str("externalId", event.ExternalID).Msg("Event received")

	identity := c.resolver.Resolve(ctx, event)
	classification := c.classifier.Classify(ctx, event, identity)

	storeCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	record, err := c.store.StoreInbound(storeCtx, event, identity, classification)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("persist stage failed: %w", err)
	}

	log.Info().
		Str("messageId", record.MessageID).
		Str("category", record.Category).
		Str("action", classification.Action).
		Str("resolvedPhone", record.ResolvedPhone).
		Str("resolutionMethod", identity.ResolutionMethod).
		Bool("isGroup", record.IsGroup).
		Msg("Event ingested")

	c.dispatch(ctx, record)

	if classification.AutoReply != "" {
		c.sendAutoReply(ctx, event, classification)
	}

	return record, nil
}

// dispatch notifies every observer exactly once, in parallel, under a shared
// timeout.
func (c *Coordinator) dispatch(ctx context.Context, record *MessageRecord) {
	if len(c.observers) == 0 {
		return
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, c.dispatchTimeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan DispatchResult, len(c.observers))

	for _, observer := range c.observers {
		wg.Add(1)
		go func(obs Observer) {
			defer wg.Done()
			start := time.Now()
			result := DispatchResult{Channel: obs.Name()}
			if err := obs.NotifyMessage(dispatchCtx, record); err != nil {
				result.Error = err.Error()
			} else {
				result.Success = true
			}
			result.Duration = time.Since(start).Milliseconds()
			results <- result
		}(observer)
	}

	wg.Wait()
	close(results)

	for result := range results {
		if result.Success {
			log.Debug().
				Str("messageId", record.MessageID).
				Str("channel", result.Channel).
				Int64("durationMs", result.Duration).
				Msg("Observer notified")
		} else {
			log.Warn().
				Str("messageId", record.MessageID).
				Str("channel", result.Channel).
				Str("error", result.Error).
				Msg("Observer notification failed")
		}
	}
}

// sendAutoReply pushes the configured response back through the transport.
// Failure to reply is logged and never fails the ingestion.
func (c *Coordinator) sendAutoReply(ctx context.Context, event RawEvent, classification Classification) {
	if c.transport == nil {
		return
	}

	replyCtx, cancel := context.WithTimeout(ctx, c.replyTimeout)
	defer cancel()

	result, err := c.transport.Send(replyCtx, event.ConversationID, classification.AutoReply)
	if err != nil {
		log.Error().
			Err(err).
			Str("conversationId", event.ConversationID).
			Str("action", classification.Action).
			Msg("Failed to send auto-reply")
		return
	}

	storeCtx, cancel2 := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel2()
	if _, err := c.store.StoreOutbound(storeCtx, event.ConversationID, classification.AutoReply, event.IsGroupConversation, result); err != nil {
		log.Error().Err(err).Str("conversationId", event.ConversationID).Msg("Failed to store auto-reply")
		return
	}

	log.Debug().
		Str("conversationId", event.ConversationID).
		Str("action", classification.Action).
		Msg("Auto-reply sent")
}

// HandleAck applies a delivery acknowledgment from the transport.
func (c *Coordinator) HandleAck(ctx context.Context, messageID, status string) error {
	if messageID == "" {
		return newValidationError("messageId", "must not be empty")
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return c.store.UpdateStatus(storeCtx, messageID, status)
}

// Drain blocks until in-flight ingestions finish. Callers cancel the parent
// context first; partially completed work is simply discarded.
func (c *Coordinator) Drain() {
	c.wg.Wait()
}
