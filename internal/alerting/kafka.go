package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"trade-alert-engine/internal/logging"
)

// KafkaOptions describes the event stream producer.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// MessageWriter is the subset of kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher appends payloads to one topic keyed by owner channel, so
// one owner's alerts stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaPublisher builds a synchronous hash-balanced writer.
func NewKafkaPublisher(opts KafkaOptions, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: opts.WriteTimeout,
		BatchTimeout: 10 * time.Millisecond,
	}
	return NewKafkaPublisherFromWriter(writer, opts.Topic, logger), nil
}

// NewKafkaPublisherFromWriter wraps an existing writer.
func NewKafkaPublisherFromWriter(writer MessageWriter, topic string, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		topic:  topic,
		logger: logging.Component(logger, "publish_kafka"),
	}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, channel string, payload Payload) error {
	body, err := payload.Encode()
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(channel),
		Value: body,
		Time:  payload.CreatedAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(payload.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	p.logger.Debug().Str("channel", channel).Str("event_id", payload.ID).Msg("alert appended")
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
