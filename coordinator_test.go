package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu    sync.Mutex
	sends []struct{ conversationID, body string }
	err   error
}

func (f *fakeTransport) Send(_ context.Context, conversationID, body string) (*TransportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sends = append(f.sends, struct{ conversationID, body string }{conversationID, body})
	return &TransportResult{ID: "ack-" + conversationID, Timestamp: time.Now().UTC()}, nil
}

func (f *fakeTransport) Status() string { return "connected" }

func (f *fakeTransport) sent() []struct{ conversationID, body string } {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]struct{ conversationID, body string }(nil), f.sends...)
}

type recordingObserver struct {
	mu      sync.Mutex
	name    string
	records []*MessageRecord
	err     error
}

func (o *recordingObserver) Name() string { return o.name }

func (o *recordingObserver) NotifyMessage(_ context.Context, record *MessageRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.records = append(o.records, record)
	return nil
}

func (o *recordingObserver) seen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.records)
}

func testCoordinator(t *testing.T, transport Transport, observers ...Observer) (*Coordinator, *MessageStore) {
	t.Helper()
	store := testStore(t)
	contacts := NewContactStore(store)
	classifier := NewClassifier(ClassifierConfig{
		UrgentKeywords: []string{"urgent", "emergency"},
		SpamPhrases:    []string{"buy now"},
		RateThreshold:  5,
		SpamAutoReply:  true,
	}, NewRateCounter(time.Minute), nil)
	return NewCoordinator(NewResolver(contacts), classifier, store, transport, observers), store
}

func TestIngestGroupMessage(t *testing.T) {
	transport := &fakeTransport{}
	coordinator, store := testCoordinator(t, transport)

	record, err := coordinator.Ingest(context.Background(), RawEvent{
		ExternalID:          "evt-1",
		ParticipantRaw:      "abc123def@lid",
		ConversationID:      "team@g.us",
		IsGroupConversation: true,
		ContentType:         "text",
		Body:                "hello there",
		DisplayName:         "Alice",
	})
	require.NoError(t, err)

	assert.Equal(t, CategoryGroup, record.Category)
	assert.True(t, record.IsGroup)
	assert.Equal(t, "team@g.us", record.GroupID)
	assert.Empty(t, record.ResolvedPhone)

	// A greeting in a group draws no reply, so nothing goes out.
	assert.Empty(t, transport.sent())

	stored, err := store.GetByID(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "hello there", stored.Body)
}

func TestIngestGroupMessageWithEmbeddedPhone(t *testing.T) {
	transport := &fakeTransport{}
	coordinator, _ := testCoordinator(t, transport)

	record, err := coordinator.Ingest(context.Background(), RawEvent{
		ExternalID:          "evt-embedded",
		ParticipantRaw:      "9f2a@lid",
		ConversationID:      "team@g.us",
		IsGroupConversation: true,
		ContentType:         "text",
		Body:                "hello there",
		DisplayName:         "John 60123456789",
	})
	require.NoError(t, err)

	assert.Equal(t, "60123456789", record.ResolvedPhone)
	assert.Equal(t, CategoryGroup, record.Category)
	assert.True(t, record.IsGroup)
	assert.Equal(t, StatusReceived, record.Status)
	assert.Empty(t, transport.sent())
}

func TestIngestCommandSendsReply(t *testing.T) {
	transport := &fakeTransport{}
	coordinator, store := testCoordinator(t, transport)
	ctx := context.Background()

	_, err := coordinator.Ingest(ctx, RawEvent{
		ExternalID:     "evt-2",
		ParticipantRaw: "60123456789@c.us",
		ConversationID: "60123456789@c.us",
		ContentType:    "text",
		Body:           "/ping",
	})
	require.NoError(t, err)

	sends := transport.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, "60123456789@c.us", sends[0].conversationID)
	assert.Equal(t, "Pong! Server is running.", sends[0].body)

	// The reply is recorded as an outbound message under the transport's ack id.
	outbound, err := store.GetByID(ctx, "ack-60123456789@c.us")
	require.NoError(t, err)
	assert.Equal(t, DirectionOutbound, outbound.Direction)
	assert.Equal(t, StatusSent, outbound.Status)
}

func TestIngestReplyFailureStillStores(t *testing.T) {
	transport := &fakeTransport{err: errors.New("gateway down")}
	coordinator, store := testCoordinator(t, transport)

	record, err := coordinator.Ingest(context.Background(), RawEvent{
		ExternalID:     "evt-3",
		ParticipantRaw: "60123456789@c.us",
		ConversationID: "60123456789@c.us",
		ContentType:    "text",
		Body:           "hello",
	})
	require.NoError(t, err, "a failed auto-reply never fails the ingestion")
	require.NotNil(t, record)

	_, err = store.GetByID(context.Background(), "evt-3")
	assert.NoError(t, err)
}

func TestIngestWithoutTransport(t *testing.T) {
	coordinator, _ := testCoordinator(t, nil)

	record, err := coordinator.Ingest(context.Background(), RawEvent{
		ExternalID:     "evt-4",
		ParticipantRaw: "60123456789@c.us",
		ConversationID: "60123456789@c.us",
		ContentType:    "text",
		Body:           "/ping",
	})
	require.NoError(t, err)
	assert.Equal(t, CategoryCommand, record.Category)
}

func TestIngestNotifiesAllObservers(t *testing.T) {
	good := &recordingObserver{name: "webhook"}
	failing := &recordingObserver{name: "rabbitmq", err: errors.New("broker offline")}
	coordinator, _ := testCoordinator(t, nil, good, failing)

	_, err := coordinator.Ingest(context.Background(), RawEvent{
		ExternalID:     "evt-5",
		ParticipantRaw: "60123456789@c.us",
		ConversationID: "60123456789@c.us",
		ContentType:    "text",
		Body:           "ok",
	})
	require.NoError(t, err, "observer failures never fail the ingestion")
	assert.Equal(t, 1, good.seen())
}

func TestIngestDuplicateNotifiesTwice(t *testing.T) {
	obs := &recordingObserver{name: "webhook"}
	coordinator, _ := testCoordinator(t, nil, obs)
	ctx := context.Background()

	event := RawEvent{
		ExternalID:     "evt-6",
		ParticipantRaw: "60123456789@c.us",
		ConversationID: "60123456789@c.us",
		ContentType:    "text",
		Body:           "first",
	}
	first, err := coordinator.Ingest(ctx, event)
	require.NoError(t, err)

	event.Body = "second"
	second, err := coordinator.Ingest(ctx, event)
	require.NoError(t, err)

	// Redelivery is stored once but each delivery attempt is observable.
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, "first", second.Body)
	assert.Equal(t, 2, obs.seen())
}

func TestIngestRejectsOutboundDirection(t *testing.T) {
	coordinator, _ := testCoordinator(t, nil)

	_, err := coordinator.Ingest(context.Background(), RawEvent{
		ExternalID:     "evt-7",
		Direction:      DirectionOutbound,
		ConversationID: "60123456789@c.us",
		ContentType:    "text",
	})
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestHandleAck(t *testing.T) {
	coordinator, store := testCoordinator(t, nil)
	ctx := context.Background()

	_, err := store.StoreOutbound(ctx, "60123456789@c.us", "hi", false, &TransportResult{ID: "out-1"})
	require.NoError(t, err)

	require.NoError(t, coordinator.HandleAck(ctx, "out-1", StatusDelivered))

	record, err := store.GetByID(ctx, "out-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, record.Status)

	assert.ErrorIs(t, coordinator.HandleAck(ctx, "missing", StatusDelivered), ErrNotFound)

	var vErr *ValidationError
	assert.ErrorAs(t, coordinator.HandleAck(ctx, "", StatusDelivered), &vErr)
}

func TestHandleAsyncDrain(t *testing.T) {
	coordinator, store := testCoordinator(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		coordinator.HandleAsync(ctx, RawEvent{
			ExternalID:     "evt-async-" + string(rune('a'+i)),
			ParticipantRaw: "60123456789@c.us",
			ConversationID: "60123456789@c.us",
			ContentType:    "text",
			Body:           "ok",
		})
	}
	coordinator.Drain()

	_, total, err := store.Search(ctx, SearchFilters{}, SearchOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
}
