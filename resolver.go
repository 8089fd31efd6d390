package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ContactDirectory looks up a phone number for a raw transport alias. Lookups
// must be cheap; the resolver bounds them with a timeout either way.
type ContactDirectory interface {
	LookupPhone(ctx context.Context, alias string) (string, error)
}

// Resolver recovers a canonical phone number for an event's sender. Opaque
// per-device aliases used in group chats are not globally stable, so the
// resolver walks an ordered chain of fallbacks and takes the first hit.
type Resolver struct {
	directory     ContactDirectory
	lookupTimeout time.Duration
	tiers         []resolverTier
}

type resolverTier struct {
	method  string
	resolve func(ctx context.Context, event RawEvent) (string, bool)
}

func NewResolver(directory ContactDirectory) *Resolver {
	r := &Resolver{
		directory:     directory,
		lookupTimeout: 2 * time.Second,
	}
	r.tiers = []resolverTier{
		{ResolutionDirectChat, r.resolveDirectChat},
		{ResolutionSenderProvided, r.resolveSenderProvided},
		{ResolutionDirectory, r.resolveDirectory},
		{ResolutionDisplayName, r.resolveDisplayName},
		{ResolutionNumericAlias, r.resolveNumericAlias},
	}
	return r
}

// Resolve walks the fallback chain top-down and returns on the first tier that
// produces a phone number. An exhausted chain yields an unresolved identity;
// the event is still stored with the raw alias as a best-effort label.
func (r *Resolver) Resolve(ctx context.Context, event RawEvent) ResolvedIdentity {
	for _, tier := range r.tiers {
		phone, ok := tier.resolve(ctx, event)
		if !ok {
			log.Debug().
				Str("tier", tier.method).
				Str("participant", event.ParticipantRaw).
				Msg("Resolver tier missed")
			continue
		}
		log.Debug().
			Str("tier", tier.method).
			Str("phone", phone).
			Msg("Resolver tier hit")
		return ResolvedIdentity{
			CanonicalPhone:   phone,
			ResolutionMethod: tier.method,
			DisplayName:      event.DisplayName,
		}
	}

	log.Debug().
		Str("participant", event.ParticipantRaw).
		Str("conversation", event.ConversationID).
		Msg("Resolution degraded: sender identity unresolved")

	return ResolvedIdentity{
		ResolutionMethod: ResolutionUnresolved,
		DisplayName:      event.DisplayName,
	}
}

// Tier 1: in a direct chat the participant address is the phone number.
func (r *Resolver) resolveDirectChat(_ context.Context, event RawEvent) (string, bool) {
	if event.IsGroupConversation {
		return "", false
	}
	addr := event.ParticipantRaw
	if addr == "" {
		addr = event.ConversationID
	}
	return stripProtocolSuffix(addr), true
}

// Tier 2: a phone number already attached to the event by an upstream
// enrichment step is trusted verbatim.
func (r *Resolver) resolveSenderProvided(_ context.Context, event RawEvent) (string, bool) {
	if event.SenderPhone == "" {
		return "", false
	}
	return event.SenderPhone, true
}

// Tier 3: bounded directory lookup keyed by the raw alias. A timeout or error
// is a missed tier, not a failure.
func (r *Resolver) resolveDirectory(ctx context.Context, event RawEvent) (string, bool) {
	if r.directory == nil || event.ParticipantRaw == "" {
		return "", false
	}
	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	phone, err := r.directory.LookupPhone(lookupCtx, event.ParticipantRaw)
	if err != nil {
		log.Debug().Err(err).Str("alias", event.ParticipantRaw).Msg("Directory lookup failed")
		return "", false
	}
	if phone == "" || !isNumericPhone(phone) {
		return "", false
	}
	return phone, true
}

// Tier 4: display names sometimes carry the phone number, either as the whole
// name or embedded next to a word.
func (r *Resolver) resolveDisplayName(_ context.Context, event RawEvent) (string, bool) {
	phone := extractPhone(event.DisplayName)
	if phone == "" {
		return "", false
	}
	return phone, true
}

// Tier 5: the alias itself may be a bare number rather than an opaque id.
func (r *Resolver) resolveNumericAlias(_ context.Context, event RawEvent) (string, bool) {
	clean := stripProtocolSuffix(event.ParticipantRaw)
	if !isNumericPhone(clean) {
		return "", false
	}
	return clean, true
}
