package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds Kafka queue settings
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

// KafkaQueue implements Queue on a Kafka topic consumed through a consumer group.
// Offsets are committed once a message has been handed to the buffer.
type KafkaQueue struct {
	reader  kafkaReader
	writer  kafkaWriter
	maxWait time.Duration
	poller  *poller[string]
	logger  *zap.Logger
}

// NewKafkaQueue creates a reader and writer for cfg.Topic
func NewKafkaQueue(cfg KafkaConfig, logger *zap.Logger) *KafkaQueue {
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 500 * time.Millisecond
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        maxWait,
		CommitInterval: 0, // synchronous commits
	})
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return newKafkaQueue(reader, writer, maxWait, logger)
}

func newKafkaQueue(reader kafkaReader, writer kafkaWriter, maxWait time.Duration, logger *zap.Logger) *KafkaQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaQueue{
		reader:  reader,
		writer:  writer,
		maxWait: maxWait,
		poller:  newPoller[string](DefaultBufferSize, time.Second, logger),
		logger:  logger,
	}
}

// Name returns the backend name
func (q *KafkaQueue) Name() string {
	return "kafka"
}

// Push writes a message
func (q *KafkaQueue) Push(ctx context.Context, msg string) error {
	if msg == "" {
		return nil
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{Value: []byte(msg)}); err != nil {
		return fmt.Errorf("failed to write Kafka message: %w", err)
	}
	return nil
}

// Pull returns a buffered message. Without the polling loop it fetches one message,
// waiting at most MaxWait.
func (q *KafkaQueue) Pull(ctx context.Context) (string, error) {
	if msg, ok := q.poller.next(); ok {
		return msg, nil
	}
	if q.poller.running() {
		return "", nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, q.maxWait)
	defer cancel()
	msgs, err := q.fetch(fetchCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return msgs[0], nil
}

// StartPolling starts the fetch loop
func (q *KafkaQueue) StartPolling(ctx context.Context) error {
	q.poller.start(ctx, q.fetch)
	return nil
}

// StopPolling stops the fetch loop
func (q *KafkaQueue) StopPolling() error {
	q.poller.stop()
	return nil
}

// Close stops polling and closes the reader and writer
func (q *KafkaQueue) Close() error {
	q.poller.stop()
	var result error
	if err := q.reader.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close reader: %w", err))
	}
	if err := q.writer.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close writer: %w", err))
	}
	return result
}

func (q *KafkaQueue) fetch(ctx context.Context) ([]string, error) {
	m, err := q.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	if err := q.reader.CommitMessages(ctx, m); err != nil {
		q.logger.Warn("Failed to commit Kafka offset",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
	}
	return []string{string(m.Value)}, nil
}
