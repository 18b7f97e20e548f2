package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// sqsAPI is the subset of the SQS client used by SQSQueue
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSConfig holds SQS queue settings
type SQSConfig struct {
	QueueURL string
	Region   string
	Endpoint string // optional override, e.g. a local SQS emulator
	// WaitTimeSeconds is the long-poll wait used by the polling loop
	WaitTimeSeconds int32
}

// SQSQueue implements Queue on an Amazon SQS queue. A message is deleted from SQS when
// Pull hands it out; messages still buffered at StopPolling reappear after their
// visibility timeout.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
	wait     int32
	poller   *poller[sqsMessage]
	mu       sync.Mutex
	pending  []sqsMessage
	logger   *zap.Logger
}

type sqsMessage struct {
	id     string
	body   string
	handle *string
}

// NewSQSClient builds an SQS client from the default AWS credential chain
func NewSQSClient(ctx context.Context, cfg SQSConfig) (*sqs.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// NewSQSQueue creates a queue on queueURL using client
func NewSQSQueue(client sqsAPI, cfg SQSConfig, logger *zap.Logger) *SQSQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	wait := cfg.WaitTimeSeconds
	if wait <= 0 || wait > 20 {
		wait = 20
	}
	return &SQSQueue{
		client:   client,
		queueURL: cfg.QueueURL,
		wait:     wait,
		poller:   newPoller[sqsMessage](DefaultBufferSize, 5*time.Second, logger),
		logger:   logger,
	}
}

// Name returns the backend name
func (q *SQSQueue) Name() string {
	return "sqs"
}

// Push sends a message
func (q *SQSQueue) Push(ctx context.Context, msg string) error {
	if msg == "" {
		return nil
	}
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(msg),
	})
	if err != nil {
		return fmt.Errorf("failed to send SQS message: %w", err)
	}
	return nil
}

// Pull returns a buffered message and deletes it from SQS. When the polling loop is not
// running it performs one short receive call.
func (q *SQSQueue) Pull(ctx context.Context) (string, error) {
	if msg, ok := q.poller.next(); ok {
		q.ack(ctx, msg)
		return msg.body, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 && !q.poller.running() {
		msgs, err := q.receive(ctx, 0)
		if err != nil {
			return "", err
		}
		q.pending = msgs
	}
	if len(q.pending) == 0 {
		return "", nil
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	q.ack(ctx, msg)
	return msg.body, nil
}

// StartPolling starts the long-poll receive loop
func (q *SQSQueue) StartPolling(ctx context.Context) error {
	q.poller.start(ctx, func(ctx context.Context) ([]sqsMessage, error) {
		return q.receive(ctx, q.wait)
	})
	q.logger.Info("Started SQS polling", zap.String("queue_url", q.queueURL))
	return nil
}

// StopPolling stops the receive loop
func (q *SQSQueue) StopPolling() error {
	q.poller.stop()
	return nil
}

func (q *SQSQueue) receive(ctx context.Context, wait int32) ([]sqsMessage, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     wait,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive SQS messages: %w", err)
	}

	msgs := make([]sqsMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := sqsMessage{id: aws.ToString(m.MessageId), body: aws.ToString(m.Body), handle: m.ReceiptHandle}
		if msg.body == "" {
			q.ack(ctx, msg)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// ack deletes a handed out message. A failed delete only means SQS redelivers it.
func (q *SQSQueue) ack(ctx context.Context, msg sqsMessage) {
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: msg.handle,
	}); err != nil {
		q.logger.Warn("Failed to delete SQS message",
			zap.String("message_id", msg.id),
			zap.Error(err))
	}
}
