package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/noah-isme/gema-judge-api/internal/observability"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultDialTimeout  = 5 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes evaluation requests to the submissions topic.
type Producer struct {
	writer  messageWriter
	brokers []string
	topic   string
	dial    func(ctx context.Context, network, address string) (*kafka.Conn, error)
	now     func() time.Time
	logger  zerolog.Logger
}

// NewProducer builds a producer keyed by submission id so retries of one submission stay ordered.
func NewProducer(brokers []string, topic string, logger zerolog.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("queue: brokers are required")
	}
	if topic == "" {
		return nil, errors.New("queue: topic is required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           defaultWriteTimeout,
		AllowAutoTopicCreation: true,
	}

	return newProducer(writer, brokers, topic, logger), nil
}

func newProducer(writer messageWriter, brokers []string, topic string, logger zerolog.Logger) *Producer {
	dialer := &kafka.Dialer{Timeout: defaultDialTimeout, DualStack: true}
	return &Producer{
		writer:  writer,
		brokers: brokers,
		topic:   topic,
		dial:    dialer.DialContext,
		now:     time.Now,
		logger:  logger.With().Str("component", "queue_producer").Logger(),
	}
}

// Enqueue publishes a submission id for evaluation.
func (p *Producer) Enqueue(ctx context.Context, submissionID uuid.UUID) error {
	correlationID := observability.CorrelationID(ctx)
	payload, err := encodeMessage(Message{
		SubmissionID:  submissionID,
		EnqueuedAt:    p.now().UTC(),
		CorrelationID: correlationID,
	})
	if err != nil {
		return err
	}

	record := kafka.Message{
		Key:   []byte(submissionID.String()),
		Value: payload,
	}
	if correlationID != "" {
		record.Headers = []kafka.Header{{Key: correlationHeader, Value: []byte(correlationID)}}
	}

	err = p.writer.WriteMessages(ctx, record)
	if err != nil {
		observability.QueueMessages().WithLabelValues("produce", "failed").Inc()
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}

	observability.QueueMessages().WithLabelValues("produce", "ok").Inc()
	p.logger.Debug().Str("submission_id", submissionID.String()).Str("topic", p.topic).Msg("submission enqueued")
	return nil
}

// Ping dials the first reachable broker.
func (p *Producer) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := p.dial(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return fmt.Errorf("queue unreachable: %w", lastErr)
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}
