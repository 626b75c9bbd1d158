package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	aws_pkg "github.com/yashrajoria/marketplace-backend/pkg/aws"
)

const (
	EventOrderFulfilled        = "order.fulfilled"
	EventSubscriptionActivated = "subscription.activated"
)

// DomainEvent is published after a state change has committed.
type DomainEvent struct {
	Type       string    `json:"type"`
	Reference  string    `json:"reference"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// EventPublisher delivers domain events to downstream services.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Close() error
}

// SNSEventPublisher publishes to a single topic, tagging each message with
// its event type.
type SNSEventPublisher struct {
	client   aws_pkg.SNSPublisher
	topicArn string
}

func NewSNSEventPublisher(client aws_pkg.SNSPublisher, topicArn string) *SNSEventPublisher {
	return &SNSEventPublisher{client: client, topicArn: topicArn}
}

func (p *SNSEventPublisher) Publish(ctx context.Context, event DomainEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.topicArn, event.Type, body)
}

func (p *SNSEventPublisher) Close() error { return nil }

// kafkaWriter is the subset of *kafka.Writer used here.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventPublisher writes events keyed by payment reference so all events
// for one checkout land on the same partition.
type KafkaEventPublisher struct {
	writer kafkaWriter
}

func NewKafkaEventPublisher(brokers []string, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, event DomainEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Reference),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

func (p *KafkaEventPublisher) Close() error { return p.writer.Close() }

// NoopEventPublisher discards events.
type NoopEventPublisher struct{}

func (NoopEventPublisher) Publish(context.Context, DomainEvent) error { return nil }
func (NoopEventPublisher) Close() error                               { return nil }
