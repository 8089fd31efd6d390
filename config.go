package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port        string
	DatabaseURL string

	// Transport gateway
	TransportBaseURL string
	TransportAPIKey  string

	// Classifier tuning
	CommandPrefix      string
	GroupCommandPrefix string
	UrgentKeywords     []string
	SpamPhrases        []string
	RateLimitThreshold int
	RateLimitWindow    time.Duration
	SpamAutoReply      bool

	// Observer channels
	WebhookURL  string
	RabbitMQURL string
	RabbitQueue string

	// Export
	ExportLimit int
}

// LoadConfig loads configuration from environment variables. A .env file is
// honored when present; real environment variables take precedence.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:               envOr("PORT", "8080"),
		DatabaseURL:        envOr("DATABASE_URL", "file:wabridge.db"),
		TransportBaseURL:   os.Getenv("TRANSPORT_BASE_URL"),
		TransportAPIKey:    os.Getenv("TRANSPORT_API_KEY"),
		CommandPrefix:      envOr("COMMAND_PREFIX", "/"),
		GroupCommandPrefix: envOr("GROUP_COMMAND_PREFIX", "!"),
		UrgentKeywords:     envList("URGENT_KEYWORDS", []string{"urgent", "emergency", "help", "sos", "critical", "immediate"}),
		SpamPhrases:        envList("SPAM_PHRASES", []string{"buy now", "click here", "limited time", "act now", "free money"}),
		RateLimitThreshold: envInt("RATE_LIMIT_THRESHOLD", 5),
		RateLimitWindow:    envDuration("RATE_LIMIT_WINDOW", time.Minute),
		SpamAutoReply:      envOr("SPAM_AUTO_REPLY", "true") == "true",
		WebhookURL:         os.Getenv("WEBHOOK_URL"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		RabbitQueue:        envOr("RABBITMQ_QUEUE", "wabridge_messages"),
		ExportLimit:        envInt("EXPORT_LIMIT", 10000),
	}

	log.Info().
		Str("port", cfg.Port).
		Int("rateLimitThreshold", cfg.RateLimitThreshold).
		Dur("rateLimitWindow", cfg.RateLimitWindow).
		Msg("Configuration loaded")

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, using default")
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
