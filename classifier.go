package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ClassifierConfig tunes the rule chain. Zero values fall back to the
// defaults used by LoadConfig.
type ClassifierConfig struct {
	CommandPrefix      string
	GroupCommandPrefix string
	UrgentKeywords     []string
	SpamPhrases        []string
	RateThreshold      int
	SpamAutoReply      bool
}

// Classifier assigns a category and optional auto-response policy to each
// inbound event. Rules are an ordered list evaluated with early exit; apart
// from the rate counter the classifier is a pure function of its inputs.
type Classifier struct {
	cfg      ClassifierConfig
	rates    *RateCounter
	statusFn func() string
	rules    []classifierRule
}

type classifierRule func(event RawEvent, identity ResolvedIdentity, body string) (Classification, bool)

// NewClassifier builds the rule chain. statusFn supplies the transport status
// line for the /status command and may be nil.
func NewClassifier(cfg ClassifierConfig, rates *RateCounter, statusFn func() string) *Classifier {
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "/"
	}
	if cfg.GroupCommandPrefix == "" {
		cfg.GroupCommandPrefix = "!"
	}
	c := &Classifier{cfg: cfg, rates: rates, statusFn: statusFn}
	c.rules = []classifierRule{
		c.ruleCommand,
		c.ruleUrgent,
		c.ruleSpam,
		c.ruleReply,
		c.ruleForward,
		c.ruleGroup,
		c.rulePrivate,
	}
	return c
}

// Classify runs the rule chain top-down and returns the first match. Non-text
// bodies are treated as empty strings for keyword and prefix matching, and the
// resulting action is a content-type log label with the auto-reply withheld.
func (c *Classifier) Classify(_ context.Context, event RawEvent, identity ResolvedIdentity) Classification {
	body := event.Body
	if event.ContentType != "text" {
		body = ""
	}

	c.bumpSenderRate(event, identity)

	for _, rule := range c.rules {
		if result, ok := rule(event, identity, body); ok {
			if event.ContentType != "text" && isPassthroughCategory(result.Category) {
				result.Action = contentTypeAction(event.ContentType)
				result.AutoReply = ""
			}
			return result
		}
	}

	// The chain is exhaustive for well-formed events; anything else is logged
	// without a response.
	return Classification{Category: CategoryUnknown, Action: "UnknownLogged"}
}

func isPassthroughCategory(category string) bool {
	switch category {
	case CategoryReply, CategoryForward, CategoryGroup, CategoryPrivate:
		return true
	}
	return false
}

// contentTypeAction builds log labels like "ImageLogged" for non-text content.
func contentTypeAction(contentType string) string {
	if contentType == "" {
		return "UnknownLogged"
	}
	return strings.ToUpper(contentType[:1]) + contentType[1:] + "Logged"
}

func (c *Classifier) bumpSenderRate(event RawEvent, identity ResolvedIdentity) {
	if c.rates == nil {
		return
	}
	sender := identity.CanonicalPhone
	if sender == "" {
		sender = event.ParticipantRaw
	}
	if sender == "" {
		return
	}
	if _, err := c.rates.Bump(sender); err != nil {
		// Counter trouble must never block classification.
		log.Debug().Err(err).Str("sender", sender).Msg("Rate counter unavailable")
	}
}

// Rule 1: command prefix.
func (c *Classifier) ruleCommand(event RawEvent, identity ResolvedIdentity, body string) (Classification, bool) {
	if !strings.HasPrefix(body, c.cfg.CommandPrefix) {
		return Classification{}, false
	}

	fields := strings.Fields(body)
	command := strings.ToLower(strings.TrimPrefix(fields[0], c.cfg.CommandPrefix))
	args := fields[1:]

	switch command {
	case "help":
		return Classification{
			Category: CategoryCommand,
			Action:   "HelpCommand",
			AutoReply: "Available commands:\n" +
				"/help - Show this help message\n" +
				"/status - Check system status\n" +
				"/info - Get user information\n" +
				"/ping - Test connection",
		}, true
	case "status":
		status := "unknown"
		if c.statusFn != nil {
			status = c.statusFn()
		}
		return Classification{
			Category:  CategoryCommand,
			Action:    "StatusCommand",
			AutoReply: "System Status: " + status,
		}, true
	case "info":
		who := identity.CanonicalPhone
		if who == "" {
			who = event.ParticipantRaw
		}
		return Classification{
			Category:  CategoryCommand,
			Action:    "InfoCommand",
			AutoReply: fmt.Sprintf("User: %s\nTime: %s", who, time.Now().Format(time.RFC1123)),
		}, true
	case "ping":
		return Classification{
			Category:  CategoryCommand,
			Action:    "PingCommand",
			AutoReply: "Pong! Server is running.",
		}, true
	default:
		log.Debug().Str("command", command).Strs("args", args).Msg("Unknown command token")
		return Classification{
			Category:  CategoryCommand,
			Action:    "UnknownCommand",
			AutoReply: fmt.Sprintf("Unknown command: %s. Type /help for available commands.", command),
		}, true
	}
}

// Rule 2: urgent keywords get an immediate acknowledgment and a high-priority
// log line.
func (c *Classifier) ruleUrgent(event RawEvent, identity ResolvedIdentity, body string) (Classification, bool) {
	lower := strings.ToLower(body)
	for _, keyword := range c.cfg.UrgentKeywords {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			log.Warn().
				Str("from", identity.CanonicalPhone).
				Str("keyword", keyword).
				Str("body", body).
				Msg("Urgent message received")
			return Classification{
				Category:  CategoryUrgent,
				Action:    "UrgentAcknowledged",
				AutoReply: "URGENT: Your message has been received and is being processed with high priority.",
			}, true
		}
	}
	return Classification{}, false
}

// Rule 3: spam by promotional phrase or by sender rate. The rate check is the
// one place external state is consulted; a missing counter degrades to "not
// spam by rate".
func (c *Classifier) ruleSpam(event RawEvent, identity ResolvedIdentity, body string) (Classification, bool) {
	spam := false
	reason := ""

	lower := strings.ToLower(body)
	for _, phrase := range c.cfg.SpamPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			spam = true
			reason = "phrase"
			break
		}
	}

	if !spam && c.rates != nil && c.cfg.RateThreshold > 0 {
		sender := identity.CanonicalPhone
		if sender == "" {
			sender = event.ParticipantRaw
		}
		if sender != "" && c.rates.Count(sender) > c.cfg.RateThreshold {
			spam = true
			reason = "rate"
		}
	}

	if !spam {
		return Classification{}, false
	}

	log.Info().
		Str("from", identity.CanonicalPhone).
		Str("reason", reason).
		Msg("Spam message detected")

	result := Classification{Category: CategorySpam, Action: "SpamLogged"}
	if c.cfg.SpamAutoReply {
		result.AutoReply = "Please avoid sending promotional or spam messages. This is a monitored system."
	}
	return result, true
}

// Rule 4: replies to a quoted event.
func (c *Classifier) ruleReply(event RawEvent, _ ResolvedIdentity, _ string) (Classification, bool) {
	if event.QuotedEventID == "" {
		return Classification{}, false
	}
	return Classification{Category: CategoryReply, Action: "ReplyLogged"}, true
}

// Rule 5: forwarded messages.
func (c *Classifier) ruleForward(event RawEvent, _ ResolvedIdentity, _ string) (Classification, bool) {
	if !event.IsForwarded {
		return Classification{}, false
	}
	return Classification{Category: CategoryForward, Action: "ForwardLogged"}, true
}

// Rule 6: group conversations, with a secondary prefix for group commands.
func (c *Classifier) ruleGroup(event RawEvent, _ ResolvedIdentity, body string) (Classification, bool) {
	if !event.IsGroupConversation {
		return Classification{}, false
	}
	if strings.HasPrefix(body, c.cfg.GroupCommandPrefix) {
		command := strings.ToLower(strings.TrimPrefix(strings.Fields(body)[0], c.cfg.GroupCommandPrefix))
		return Classification{
			Category:  CategoryGroup,
			Action:    "GroupCommand",
			AutoReply: fmt.Sprintf("Group command '%s' received and processed.", command),
		}, true
	}
	return Classification{Category: CategoryGroup, Action: "GroupLogged"}, true
}

// Rule 7: private messages. Greetings, questions and feedback get canned
// responses; anything else is logged without a reply.
func (c *Classifier) rulePrivate(_ RawEvent, _ ResolvedIdentity, body string) (Classification, bool) {
	lower := strings.ToLower(body)

	greetings := []string{"hello", "hi", "hey", "good morning", "good afternoon", "good evening"}
	for _, greeting := range greetings {
		if strings.Contains(lower, greeting) {
			return Classification{
				Category:  CategoryPrivate,
				Action:    "GreetingReplied",
				AutoReply: "Hello! How can I help you today?",
			}, true
		}
	}

	if isQuestion(lower) {
		return Classification{
			Category:  CategoryPrivate,
			Action:    "QuestionLogged",
			AutoReply: "I've received your question. Someone will get back to you soon.",
		}, true
	}

	feedbackKeywords := []string{"feedback", "review", "rating", "opinion", "suggestion"}
	for _, keyword := range feedbackKeywords {
		if strings.Contains(lower, keyword) {
			return Classification{
				Category:  CategoryPrivate,
				Action:    "FeedbackLogged",
				AutoReply: "Thank you for your feedback! We appreciate your input.",
			}, true
		}
	}

	return Classification{Category: CategoryPrivate, Action: "PrivateLogged"}, true
}

func isQuestion(lower string) bool {
	if strings.Contains(lower, "?") {
		return true
	}
	for _, lead := range []string{"what", "how", "why", "when", "where", "who"} {
		if strings.HasPrefix(lower, lead) {
			return true
		}
	}
	return false
}
