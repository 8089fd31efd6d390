package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	return NewClassifier(ClassifierConfig{
		UrgentKeywords: []string{"urgent", "emergency", "help", "sos", "critical", "immediate"},
		SpamPhrases:    []string{"buy now", "click here", "limited time", "act now", "free money"},
		RateThreshold:  5,
		SpamAutoReply:  true,
	}, NewRateCounter(time.Minute), func() string { return "connected" })
}

func textEvent(from, body string) RawEvent {
	return RawEvent{
		ExternalID:     "evt-1",
		ParticipantRaw: from + "@c.us",
		ConversationID: from + "@c.us",
		ContentType:    "text",
		Body:           body,
	}
}

func identityFor(phone string) ResolvedIdentity {
	return ResolvedIdentity{CanonicalPhone: phone, ResolutionMethod: ResolutionDirectChat}
}

func TestClassifyCommandBeatsUrgent(t *testing.T) {
	c := testClassifier(t)

	// "urgent" appears in the body but the command prefix wins.
	result := c.Classify(context.Background(), textEvent("601", "/help urgent"), identityFor("601"))

	assert.Equal(t, CategoryCommand, result.Category)
	assert.Equal(t, "HelpCommand", result.Action)
	assert.Contains(t, result.AutoReply, "Available commands:")
}

func TestClassifyCommands(t *testing.T) {
	c := testClassifier(t)
	ctx := context.Background()

	ping := c.Classify(ctx, textEvent("601", "/ping"), identityFor("601"))
	assert.Equal(t, "PingCommand", ping.Action)
	assert.Equal(t, "Pong! Server is running.", ping.AutoReply)

	status := c.Classify(ctx, textEvent("601", "/status"), identityFor("601"))
	assert.Equal(t, "StatusCommand", status.Action)
	assert.Equal(t, "System Status: connected", status.AutoReply)

	unknown := c.Classify(ctx, textEvent("601", "/frobnicate"), identityFor("601"))
	assert.Equal(t, "UnknownCommand", unknown.Action)
	assert.Equal(t, "Unknown command: frobnicate. Type /help for available commands.", unknown.AutoReply)
}

func TestClassifyUrgent(t *testing.T) {
	c := testClassifier(t)

	result := c.Classify(context.Background(), textEvent("601", "this is an EMERGENCY"), identityFor("601"))

	assert.Equal(t, CategoryUrgent, result.Category)
	assert.Equal(t, "URGENT: Your message has been received and is being processed with high priority.", result.AutoReply)
}

func TestClassifySpamByPhrase(t *testing.T) {
	c := testClassifier(t)

	result := c.Classify(context.Background(), textEvent("601", "Buy now and save big!"), identityFor("601"))

	assert.Equal(t, CategorySpam, result.Category)
	assert.Equal(t, "Please avoid sending promotional or spam messages. This is a monitored system.", result.AutoReply)
}

func TestClassifySpamByRate(t *testing.T) {
	c := testClassifier(t)
	ctx := context.Background()
	identity := identityFor("602")

	// Five messages inside the window stay under the threshold.
	for i := 0; i < 5; i++ {
		result := c.Classify(ctx, textEvent("602", fmt.Sprintf("message %d", i)), identity)
		require.NotEqual(t, CategorySpam, result.Category, "message %d should not be spam", i)
	}

	// The sixth crosses it.
	result := c.Classify(ctx, textEvent("602", "message 5"), identity)
	assert.Equal(t, CategorySpam, result.Category)
}

func TestClassifySpamRateIsPerSender(t *testing.T) {
	c := testClassifier(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		c.Classify(ctx, textEvent("603", "flood"), identityFor("603"))
	}

	other := c.Classify(ctx, textEvent("604", "just one message"), identityFor("604"))
	assert.NotEqual(t, CategorySpam, other.Category)
}

func TestClassifyReply(t *testing.T) {
	c := testClassifier(t)

	event := textEvent("601", "sounds good")
	event.QuotedEventID = "evt-0"
	result := c.Classify(context.Background(), event, identityFor("601"))

	assert.Equal(t, CategoryReply, result.Category)
	assert.Empty(t, result.AutoReply)
}

func TestClassifyForward(t *testing.T) {
	c := testClassifier(t)

	event := textEvent("601", "check this out")
	event.IsForwarded = true
	result := c.Classify(context.Background(), event, identityFor("601"))

	assert.Equal(t, CategoryForward, result.Category)
	assert.Empty(t, result.AutoReply)
}

func TestClassifyGroupMessageNoReply(t *testing.T) {
	c := testClassifier(t)

	event := RawEvent{
		ExternalID:          "evt-2",
		ParticipantRaw:      "abc@lid",
		ConversationID:      "team@g.us",
		IsGroupConversation: true,
		ContentType:         "text",
		Body:                "hello there",
	}
	result := c.Classify(context.Background(), event, ResolvedIdentity{ResolutionMethod: ResolutionUnresolved})

	// Greetings only trigger replies in private chats.
	assert.Equal(t, CategoryGroup, result.Category)
	assert.Empty(t, result.AutoReply)
}

func TestClassifyGroupCommand(t *testing.T) {
	c := testClassifier(t)

	event := RawEvent{
		ExternalID:          "evt-3",
		ParticipantRaw:      "abc@lid",
		ConversationID:      "team@g.us",
		IsGroupConversation: true,
		ContentType:         "text",
		Body:                "!summary today",
	}
	result := c.Classify(context.Background(), event, ResolvedIdentity{})

	assert.Equal(t, CategoryGroup, result.Category)
	assert.Equal(t, "GroupCommand", result.Action)
	assert.Equal(t, "Group command 'summary' received and processed.", result.AutoReply)
}

func TestClassifyPrivateGreeting(t *testing.T) {
	c := testClassifier(t)

	result := c.Classify(context.Background(), textEvent("601", "Hey, are you open?"), identityFor("601"))

	assert.Equal(t, CategoryPrivate, result.Category)
	assert.Equal(t, "GreetingReplied", result.Action)
	assert.Equal(t, "Hello! How can I help you today?", result.AutoReply)
}

func TestClassifyPrivateQuestion(t *testing.T) {
	c := testClassifier(t)

	result := c.Classify(context.Background(), textEvent("601", "what time do you close?"), identityFor("601"))

	assert.Equal(t, "QuestionLogged", result.Action)
	assert.Equal(t, "I've received your question. Someone will get back to you soon.", result.AutoReply)
}

func TestClassifyPrivateFeedback(t *testing.T) {
	c := testClassifier(t)

	result := c.Classify(context.Background(), textEvent("601", "I have a suggestion for the menu"), identityFor("601"))

	assert.Equal(t, "FeedbackLogged", result.Action)
}

func TestClassifyPrivateFallback(t *testing.T) {
	c := testClassifier(t)

	result := c.Classify(context.Background(), textEvent("601", "ok"), identityFor("601"))

	assert.Equal(t, CategoryPrivate, result.Category)
	assert.Equal(t, "PrivateLogged", result.Action)
	assert.Empty(t, result.AutoReply)
}

func TestClassifyNonTextPassthrough(t *testing.T) {
	c := testClassifier(t)

	event := RawEvent{
		ExternalID:     "evt-4",
		ParticipantRaw: "601@c.us",
		ConversationID: "601@c.us",
		ContentType:    "image",
		Caption:        "urgent: look at this",
	}
	result := c.Classify(context.Background(), event, identityFor("601"))

	// Captions never feed keyword rules and media gets no auto-reply.
	assert.Equal(t, CategoryPrivate, result.Category)
	assert.Equal(t, "ImageLogged", result.Action)
	assert.Empty(t, result.AutoReply)
}

func TestClassifyNonTextGroup(t *testing.T) {
	c := testClassifier(t)

	event := RawEvent{
		ExternalID:          "evt-5",
		ParticipantRaw:      "abc@lid",
		ConversationID:      "team@g.us",
		IsGroupConversation: true,
		ContentType:         "sticker",
	}
	result := c.Classify(context.Background(), event, ResolvedIdentity{})

	assert.Equal(t, CategoryGroup, result.Category)
	assert.Equal(t, "StickerLogged", result.Action)
	assert.Empty(t, result.AutoReply)
}

func TestRateCounter(t *testing.T) {
	rc := NewRateCounter(time.Minute)

	assert.Zero(t, rc.Count("sender"))
	for i := 1; i <= 3; i++ {
		n, err := rc.Bump("sender")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	assert.Equal(t, 3, rc.Count("sender"))
	assert.Zero(t, rc.Count("other"))
}
