package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

func main() {
	InitLogger()

	cfg := LoadConfig()

	store, err := NewMessageStore(cfg.DatabaseURL, cfg.ExportLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open message store")
	}
	defer store.Close()

	contacts := NewContactStore(store)
	resolver := NewResolver(contacts)

	var transport Transport
	if cfg.TransportBaseURL != "" {
		gateway, err := NewGatewayTransport(cfg.TransportBaseURL, cfg.TransportAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not configure transport gateway")
		}
		transport = gateway
	} else {
		log.Warn().Msg("TRANSPORT_BASE_URL is not set. Auto-replies and sends disabled.")
	}

	rates := NewRateCounter(cfg.RateLimitWindow)
	statusFn := func() string { return "unknown" }
	if transport != nil {
		statusFn = transport.Status
	}
	classifier := NewClassifier(ClassifierConfig{
		CommandPrefix:      cfg.CommandPrefix,
		GroupCommandPrefix: cfg.GroupCommandPrefix,
		UrgentKeywords:     cfg.UrgentKeywords,
		SpamPhrases:        cfg.SpamPhrases,
		RateThreshold:      cfg.RateLimitThreshold,
		SpamAutoReply:      cfg.SpamAutoReply,
	}, rates, statusFn)

	observers := []Observer{}
	if cfg.WebhookURL != "" {
		observers = append(observers, NewWebhookObserver(cfg.WebhookURL))
	}
	rabbit, err := NewRabbitObserver(cfg.RabbitMQURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to RabbitMQ")
	}
	if rabbit != nil {
		observers = append(observers, rabbit)
		defer rabbit.Close()
	}

	uploader, err := NewExportUploader()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not configure S3 export uploader")
	}

	coordinator := NewCoordinator(resolver, classifier, store, transport, observers)
	srv := newServer(coordinator, store, contacts, transport, uploader)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	coordinator.Drain()
	log.Info().Msg("Shutdown complete")
}
