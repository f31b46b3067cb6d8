package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-judge-api/internal/observability"
)

const (
	fetchErrorPause   = time.Second
	correlationHeader = "correlation_id"
)

// Handler processes one evaluation request. Its error is logged and the message is committed either way.
type Handler func(ctx context.Context, msg Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig configures the consumer group.
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Concurrency int
}

// Consumer fans queue messages out to a fixed number of worker goroutines.
type Consumer struct {
	reader      messageReader
	handler     Handler
	concurrency int
	topic       string
	logger      zerolog.Logger
}

// NewConsumer constructs a consumer group reader for the submissions topic.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger zerolog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("queue: brokers are required")
	}
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("queue: topic and group id are required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})

	return newConsumer(reader, cfg.Topic, cfg.Concurrency, handler, logger), nil
}

func newConsumer(reader messageReader, topic string, concurrency int, handler Handler, logger zerolog.Logger) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Consumer{
		reader:      reader,
		handler:     handler,
		concurrency: concurrency,
		topic:       topic,
		logger:      logger.With().Str("component", "queue_consumer").Str("topic", topic).Logger(),
	}
}

// Run blocks until ctx is cancelled, then closes the reader.
// One loop fetches in partition order and workers handle messages concurrently.
// Offsets are committed only once every earlier message of the partition has been handled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Int("concurrency", c.concurrency).Msg("queue consumer started")

	offsets := newOffsetTracker()
	jobs := make(chan *inflight)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(jobs)
		c.fetch(groupCtx, offsets, jobs)
		return nil
	})
	for worker := 0; worker < c.concurrency; worker++ {
		worker := worker
		group.Go(func() error {
			c.work(groupCtx, worker, offsets, jobs)
			return nil
		})
	}

	err := group.Wait()
	if closeErr := c.reader.Close(); closeErr != nil {
		c.logger.Error().Err(closeErr).Msg("failed to close queue reader")
	}
	c.logger.Info().Msg("queue consumer stopped")
	return err
}

func (c *Consumer) fetch(ctx context.Context, offsets *offsetTracker, jobs chan<- *inflight) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("failed to fetch message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchErrorPause):
			}
			continue
		}

		entry := offsets.track(msg)
		select {
		case jobs <- entry:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(ctx context.Context, worker int, offsets *offsetTracker, jobs <-chan *inflight) {
	logger := c.logger.With().Int("worker", worker).Logger()

	for entry := range jobs {
		msg := entry.msg
		logger.Debug().Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("received message")
		c.handle(ctx, msg, logger)
		c.commit(ctx, offsets, entry, logger)
	}
}

// commit acknowledges the longest handled prefix of entry's partition, if entry completed one.
func (c *Consumer) commit(ctx context.Context, offsets *offsetTracker, entry *inflight, logger zerolog.Logger) {
	offsets.mu.Lock()
	defer offsets.mu.Unlock()

	msg, ok := offsets.completeLocked(entry)
	if !ok {
		return
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("failed to commit message")
	}
}

type inflight struct {
	msg  kafka.Message
	done bool
}

// offsetTracker keeps fetched messages per partition in fetch order until they can be committed.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int][]*inflight
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int][]*inflight)}
}

func (t *offsetTracker) track(msg kafka.Message) *inflight {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := &inflight{msg: msg}
	t.partitions[msg.Partition] = append(t.partitions[msg.Partition], entry)
	return entry
}

// completeLocked marks entry handled and pops the handled head of its partition.
// It returns the last popped message, which is the offset safe to commit.
func (t *offsetTracker) completeLocked(entry *inflight) (kafka.Message, bool) {
	entry.done = true

	queue := t.partitions[entry.msg.Partition]
	popped := 0
	for popped < len(queue) && queue[popped].done {
		popped++
	}
	if popped == 0 {
		return kafka.Message{}, false
	}

	last := queue[popped-1].msg
	if popped == len(queue) {
		delete(t.partitions, entry.msg.Partition)
	} else {
		t.partitions[entry.msg.Partition] = queue[popped:]
	}
	return last, true
}

func (c *Consumer) handle(ctx context.Context, raw kafka.Message, logger zerolog.Logger) {
	msg, err := decodeMessage(raw.Value)
	if err != nil {
		observability.QueueMessages().WithLabelValues("consume", "malformed").Inc()
		logger.Error().Err(err).Int64("offset", raw.Offset).Msg("dropping malformed message")
		return
	}

	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
		logger = logger.With().Str("correlation_id", msg.CorrelationID).Logger()
	}

	if err := c.handler(ctx, msg); err != nil {
		observability.QueueMessages().WithLabelValues("consume", "failed").Inc()
		logger.Error().Err(err).Str("submission_id", msg.SubmissionID.String()).Msg("evaluation handler failed")
		return
	}
	observability.QueueMessages().WithLabelValues("consume", "ok").Inc()
}
