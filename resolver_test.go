package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDirectory struct {
	entries map[string]string
	err     error
	calls   int
}

func (d *stubDirectory) LookupPhone(_ context.Context, alias string) (string, error) {
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	return d.entries[alias], nil
}

func TestResolveDirectChat(t *testing.T) {
	r := NewResolver(nil)

	identity := r.Resolve(context.Background(), RawEvent{
		ParticipantRaw: "60123456789@c.us",
		ConversationID: "60123456789@c.us",
	})

	assert.Equal(t, "60123456789", identity.CanonicalPhone)
	assert.Equal(t, ResolutionDirectChat, identity.ResolutionMethod)
}

func TestResolveDirectChatSkipsDirectory(t *testing.T) {
	dir := &stubDirectory{entries: map[string]string{"60123456789@c.us": "999"}}
	r := NewResolver(dir)

	identity := r.Resolve(context.Background(), RawEvent{
		ParticipantRaw: "60123456789@c.us",
	})

	assert.Equal(t, "60123456789", identity.CanonicalPhone)
	assert.Zero(t, dir.calls, "direct chats must resolve without a directory hit")
}

func TestResolveSenderProvided(t *testing.T) {
	r := NewResolver(nil)

	identity := r.Resolve(context.Background(), RawEvent{
		ParticipantRaw:      "opaque-device-id@lid",
		SenderPhone:         "60987654321",
		ConversationID:      "group-1@g.us",
		IsGroupConversation: true,
	})

	assert.Equal(t, "60987654321", identity.CanonicalPhone)
	assert.Equal(t, ResolutionSenderProvided, identity.ResolutionMethod)
}

func TestResolveViaDirectory(t *testing.T) {
	dir := &stubDirectory{entries: map[string]string{"opaque-device-id@lid": "60123456789"}}
	r := NewResolver(dir)

	identity := r.Resolve(context.Background(), RawEvent{
		ParticipantRaw:      "opaque-device-id@lid",
		ConversationID:      "group-1@g.us",
		IsGroupConversation: true,
	})

	assert.Equal(t, "60123456789", identity.CanonicalPhone)
	assert.Equal(t, ResolutionDirectory, identity.ResolutionMethod)
}

func TestResolveDirectoryErrorDegrades(t *testing.T) {
	dir := &stubDirectory{err: errors.New("connection refused")}
	r := NewResolver(dir)

	identity := r.Resolve(context.Background(), RawEvent{
		ParticipantRaw:      "opaque-device-id@lid",
		DisplayName:         "+1 (555) 123-4567",
		IsGroupConversation: true,
	})

	// The lookup failure falls through to the display name tier.
	assert.Equal(t, "15551234567", identity.CanonicalPhone)
	assert.Equal(t, ResolutionDisplayName, identity.ResolutionMethod)
}

func TestResolveDisplayName(t *testing.T) {
	r := NewResolver(nil)

	identity := r.Resolve(context.Background(), RawEvent{
		ParticipantRaw:      "opaque-device-id@lid",
		DisplayName:         "+1 (555) 123-4567",
		IsGroupConversation: true,
	})

	require.Equal(t, ResolutionDisplayName, identity.ResolutionMethod)
	assert.Equal(t, "15551234567", identity.CanonicalPhone)
}

func TestResolveDisplayNameEmbedded(t *testing.T) {
	r := NewResolver(nil)

	identity := r.Resolve(context.Background(), RawEvent{
		ParticipantRaw:      "9f2a@lid",
		DisplayName:         "John 60123456789",
		IsGroupConversation: true,
	})

	require.Equal(t, ResolutionDisplayName, identity.ResolutionMethod)
	assert.Equal(t, "60123456789", identity.CanonicalPhone)
}

func TestResolveDisplayNameRejectsWords(t *testing.T) {
	r := NewResolver(nil)

	identity := r.Resolve(context.Background(), RawEvent{
		ParticipantRaw:      "opaque-device-id@lid",
		DisplayName:         "Alice Johnson",
		IsGroupConversation: true,
	})

	assert.Equal(t, ResolutionUnresolved, identity.ResolutionMethod)
	assert.Empty(t, identity.CanonicalPhone)
	assert.Equal(t, "Alice Johnson", identity.DisplayName)
}

func TestResolveNumericAlias(t *testing.T) {
	r := NewResolver(nil)

	identity := r.Resolve(context.Background(), RawEvent{
		ParticipantRaw:      "60123456789@lid",
		IsGroupConversation: true,
	})

	assert.Equal(t, "60123456789", identity.CanonicalPhone)
	assert.Equal(t, ResolutionNumericAlias, identity.ResolutionMethod)
}

func TestResolveUnresolvedKeepsDisplayName(t *testing.T) {
	r := NewResolver(nil)

	identity := r.Resolve(context.Background(), RawEvent{
		ParticipantRaw:      "abc123def@lid",
		DisplayName:         "Bob",
		IsGroupConversation: true,
	})

	assert.Equal(t, ResolutionUnresolved, identity.ResolutionMethod)
	assert.Empty(t, identity.CanonicalPhone)
	assert.Equal(t, "Bob", identity.DisplayName)
}

func TestLooksLikePhone(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"+1 (555) 123-4567", true},
		{"60123456789", true},
		{"  +44 20 7946 0958 ", true},
		{"Alice", false},
		{"1234567", false}, // too short
		{"", false},
		{"+1-555-CALL-NOW", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, looksLikePhone(tc.in), "input %q", tc.in)
	}
}

func TestExtractPhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+1 (555) 123-4567", "15551234567"},
		{"John 60123456789", "60123456789"},
		{"John +1 (555) 123-4567", "15551234567"},
		{"60123456789", "60123456789"},
		{"Alice Johnson", ""},
		{"Agent 007", ""}, // digit run too short
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, extractPhone(tc.in), "input %q", tc.in)
	}
}

func TestStripProtocolSuffix(t *testing.T) {
	assert.Equal(t, "60123456789", stripProtocolSuffix("60123456789@c.us"))
	assert.Equal(t, "group-1", stripProtocolSuffix("group-1@g.us"))
	assert.Equal(t, "abc123", stripProtocolSuffix("abc123@lid"))
	assert.Equal(t, "60123456789", stripProtocolSuffix("60123456789@s.whatsapp.net"))
	assert.Equal(t, "plain", stripProtocolSuffix("plain"))
}
