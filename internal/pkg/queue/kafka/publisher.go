// Package kafka publishes queue messages with segmentio/kafka-go. The writer
// is wrapped by otel-kafka-konsumer so the active trace context travels in the
// message headers.
package kafka

import (
	"context"
	"fmt"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jcmexdev/ecommerce-orders/internal/pkg/queue"
)

// Producer is the subset of the traced writer the publisher needs.
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

type Publisher struct {
	producer Producer
}

var _ queue.Publisher = (*Publisher)(nil)

type Config struct {
	Brokers      []string
	ClientID     string
	BatchTimeout time.Duration
}

// New builds a writer without a fixed topic; each message names its own.
// Topics are created on first write.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	base := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(otel.GetTracerProvider()),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes([]attribute.KeyValue{
			attribute.String("messaging.kafka.client_id", cfg.ClientID),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create traced writer: %w", err)
	}
	return NewWithProducer(writer), nil
}

func NewWithProducer(p Producer) *Publisher {
	return &Publisher{producer: p}
}

func (p *Publisher) Publish(ctx context.Context, topic, key string, payload any) error {
	msg, err := queue.Encode(topic, key, payload)
	if err != nil {
		return err
	}
	if err := p.producer.WriteMessage(ctx, toKafka(msg)); err != nil {
		return fmt.Errorf("kafka: write to %q: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}

func toKafka(msg queue.Message) kafka.Message {
	return kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Body,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
}
