package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitObserver publishes stored records to a RabbitMQ queue so other
// consumers (dashboards, analytics) can follow the message stream.
type RabbitObserver struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
}

// NewRabbitObserver connects to RabbitMQ. An empty URL disables publishing and
// returns (nil, nil) so the caller can simply skip registration.
func NewRabbitObserver(rabbitURL, queue string) (*RabbitObserver, error) {
	if rabbitURL == "" {
		log.Info().Msg("RABBITMQ_URL is not set. RabbitMQ publishing disabled.")
		return nil, nil
	}
	if queue == "" {
		queue = "wabridge_messages"
	}

	conn, err := amqp091.Dial(rabbitURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}

	log.Info().Str("queue", queue).Msg("RabbitMQ connection established.")
	return &RabbitObserver{conn: conn, channel: channel, queue: queue}, nil
}

func (o *RabbitObserver) Name() string {
	return "rabbitmq"
}

// NotifyMessage publishes the record as JSON. The queue declare is idempotent.
func (o *RabbitObserver) NotifyMessage(ctx context.Context, record *MessageRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record for RabbitMQ: %w", err)
	}

	_, err = o.channel.QueueDeclare(
		o.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("could not declare RabbitMQ queue %s: %w", o.queue, err)
	}

	err = o.channel.PublishWithContext(ctx,
		"",      // exchange (default)
		o.queue, // routing key = queue
		false,   // mandatory
		false,   // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
	if err != nil {
		return fmt.Errorf("could not publish to RabbitMQ: %w", err)
	}

	log.Debug().Str("queue", o.queue).Str("messageId", record.MessageID).Msg("Published message to RabbitMQ")
	return nil
}

// Close tears down the channel and connection.
func (o *RabbitObserver) Close() {
	if o.channel != nil {
		o.channel.Close()
	}
	if o.conn != nil {
		o.conn.Close()
	}
}
