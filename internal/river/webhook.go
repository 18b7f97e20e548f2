package river

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/devrev/paracore/internal/metrics"
	"github.com/devrev/paracore/internal/model"
	"github.com/devrev/paracore/internal/util/workerpool"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Webhook message fields
const (
	FieldTargetURL = "targetUrl"
	FieldEvent     = "event"
	FieldPayload   = "payload"
)

// Delivery headers
const (
	HeaderSignature = "X-Paracore-Signature"
	HeaderDelivery  = "X-Paracore-Delivery"
	HeaderEvent     = "X-Paracore-Event"
)

// WebhookConfig holds HTTP dispatcher settings
type WebhookConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	// Secret signs every body with HMAC-SHA256; empty disables signing
	Secret string
}

// Delivery is the JSON body posted to a webhook target
type Delivery struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantid"`
	Event     string `json:"event,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload"`
}

// HTTPDispatcher posts webhook payloads to their target URL on a bounded worker pool
type HTTPDispatcher struct {
	client  *http.Client
	pool    *workerpool.Pool
	secret  []byte
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHTTPDispatcher creates a dispatcher and starts its workers
func NewHTTPDispatcher(cfg WebhookConfig, m *metrics.Metrics, logger *zap.Logger) *HTTPDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &HTTPDispatcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		secret:  []byte(cfg.Secret),
		now:     time.Now,
		metrics: m,
		logger:  logger,
	}
	d.pool = workerpool.New(workerpool.Config{
		Name:      "webhooks",
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Logger:    logger,
		OnDone: func(res workerpool.Result) {
			outcome := "delivered"
			if res.Err != nil {
				outcome = "failed"
			}
			m.WebhookDeliveries.WithLabelValues(outcome).Inc()
		},
	})
	return d
}

// Dispatch validates the message and queues its delivery. It fails when the message has
// no valid target or the delivery queue is full.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, msg model.Message) error {
	target, _ := msg[FieldTargetURL].(string)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook message has no valid %s: %q", FieldTargetURL, target)
	}

	delivery := Delivery{
		ID:        uuid.NewString(),
		TenantID:  msg.TenantID(),
		Timestamp: d.now().UnixMilli(),
	}
	delivery.Event, _ = msg[FieldEvent].(string)
	if payload, ok := msg[FieldPayload]; ok {
		delivery.Payload = payload
	} else {
		fields := msg.Fields()
		delete(fields, FieldTargetURL)
		delete(fields, FieldEvent)
		delivery.Payload = fields
	}

	body, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("failed to encode webhook delivery: %w", err)
	}

	err = d.pool.TrySubmit(workerpool.Task{
		ID: delivery.ID,
		Run: func(ctx context.Context) error {
			return d.post(ctx, target, delivery, body)
		},
	})
	if err != nil {
		d.metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return fmt.Errorf("failed to queue webhook delivery: %w", err)
	}
	return nil
}

func (d *HTTPDispatcher) post(ctx context.Context, target string, delivery Delivery, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDelivery, delivery.ID)
	if delivery.Event != "" {
		req.Header.Set(HeaderEvent, delivery.Event)
	}
	if len(d.secret) > 0 {
		req.Header.Set(HeaderSignature, "sha256="+Sign(d.secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery %s failed: %w", delivery.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery %s rejected with status %d", delivery.ID, resp.StatusCode)
	}

	d.logger.Debug("Webhook delivered",
		zap.String("delivery_id", delivery.ID),
		zap.String("tenant_id", delivery.TenantID),
		zap.Int("status", resp.StatusCode))
	return nil
}

// Close waits up to timeout for queued deliveries
func (d *HTTPDispatcher) Close(timeout time.Duration) error {
	return d.pool.Stop(timeout)
}

// Stats returns delivery pool counters
func (d *HTTPDispatcher) Stats() workerpool.Stats {
	return d.pool.Stats()
}

// Sign returns the hex HMAC-SHA256 of body
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
