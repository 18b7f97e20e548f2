package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// natsConn is the subset of *nats.Conn used by NATSQueue
type natsConn interface {
	Publish(subj string, data []byte) error
	ChanSubscribe(subj string, ch chan *nats.Msg) (*nats.Subscription, error)
	ChanQueueSubscribe(subj, group string, ch chan *nats.Msg) (*nats.Subscription, error)
}

// NATSQueue implements Queue on a core NATS subject. Messages published while no
// subscription is active are not retained.
type NATSQueue struct {
	conn    natsConn
	subject string
	group   string
	msgs    chan *nats.Msg

	mu     sync.Mutex
	sub    *nats.Subscription
	active bool
	logger *zap.Logger
}

// ConnectNATS connects to a NATS server
func ConnectNATS(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// NewNATSQueue creates a queue on subject; a non-empty group load-balances between consumers
func NewNATSQueue(conn natsConn, subject, group string, bufferSize int, logger *zap.Logger) *NATSQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &NATSQueue{
		conn:    conn,
		subject: subject,
		group:   group,
		msgs:    make(chan *nats.Msg, bufferSize),
		logger:  logger,
	}
}

// Name returns the backend name
func (q *NATSQueue) Name() string {
	return "nats"
}

// Push publishes a message
func (q *NATSQueue) Push(ctx context.Context, msg string) error {
	if msg == "" {
		return nil
	}
	if err := q.conn.Publish(q.subject, []byte(msg)); err != nil {
		return fmt.Errorf("failed to publish NATS message: %w", err)
	}
	return nil
}

// Pull returns a received message or ""
func (q *NATSQueue) Pull(ctx context.Context) (string, error) {
	select {
	case m := <-q.msgs:
		return string(m.Data), nil
	default:
		return "", nil
	}
}

// StartPolling subscribes to the subject
func (q *NATSQueue) StartPolling(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active {
		return nil
	}

	var (
		sub *nats.Subscription
		err error
	)
	if q.group != "" {
		sub, err = q.conn.ChanQueueSubscribe(q.subject, q.group, q.msgs)
	} else {
		sub, err = q.conn.ChanSubscribe(q.subject, q.msgs)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", q.subject, err)
	}

	q.sub = sub
	q.active = true
	q.logger.Info("Subscribed to NATS subject",
		zap.String("subject", q.subject),
		zap.String("group", q.group))
	return nil
}

// StopPolling unsubscribes; buffered messages remain available to Pull
func (q *NATSQueue) StopPolling() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.active {
		return nil
	}
	q.active = false
	sub := q.sub
	q.sub = nil
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to unsubscribe from %s: %w", q.subject, err)
		}
	}
	return nil
}
