package river

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/devrev/paracore/internal/metrics"
	"github.com/devrev/paracore/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captured struct {
	header http.Header
	body   []byte
}

func newTarget(t *testing.T, status int) (*httptest.Server, *[]captured, *sync.Mutex) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, captured{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs, &mu
}

func TestHTTPDispatcher_SignsAndDelivers(t *testing.T) {
	srv, reqs, mu := newTarget(t, http.StatusNoContent)
	m := metrics.NewNopMetrics()
	d := NewHTTPDispatcher(WebhookConfig{Workers: 1, Secret: "s3cret"}, m, zap.NewNop())
	d.now = func() time.Time { return time.UnixMilli(1700000000000) }

	err := d.Dispatch(context.Background(), model.Message{
		"tenantid":  "t1",
		"type":      model.TypeWebhookPayload,
		"targetUrl": srv.URL,
		"event":     "object.created",
		"payload":   map[string]any{"id": "o1"},
	})
	require.NoError(t, err)
	require.NoError(t, d.Close(time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *reqs, 1)
	req := (*reqs)[0]

	assert.Equal(t, "sha256="+Sign([]byte("s3cret"), req.body), req.header.Get(HeaderSignature))
	assert.Equal(t, "object.created", req.header.Get(HeaderEvent))
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))

	var delivery Delivery
	require.NoError(t, json.Unmarshal(req.body, &delivery))
	assert.Equal(t, req.header.Get(HeaderDelivery), delivery.ID)
	assert.NotEmpty(t, delivery.ID)
	assert.Equal(t, "t1", delivery.TenantID)
	assert.Equal(t, int64(1700000000000), delivery.Timestamp)
	assert.Equal(t, map[string]any{"id": "o1"}, delivery.Payload)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("delivered")))
}

func TestHTTPDispatcher_DefaultPayload(t *testing.T) {
	srv, reqs, mu := newTarget(t, http.StatusOK)
	d := NewHTTPDispatcher(WebhookConfig{}, nil, zap.NewNop())

	require.NoError(t, d.Dispatch(context.Background(), model.Message{
		"tenantid":  "t1",
		"type":      model.TypeWebhookPayload,
		"targetUrl": srv.URL,
		"name":      "n",
	}))
	require.NoError(t, d.Close(time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *reqs, 1)
	assert.Empty(t, (*reqs)[0].header.Get(HeaderSignature))

	var delivery Delivery
	require.NoError(t, json.Unmarshal((*reqs)[0].body, &delivery))
	payload, ok := delivery.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "n", payload["name"])
	assert.NotContains(t, payload, FieldTargetURL)
}

func TestHTTPDispatcher_FailedDelivery(t *testing.T) {
	srv, _, _ := newTarget(t, http.StatusInternalServerError)
	m := metrics.NewNopMetrics()
	d := NewHTTPDispatcher(WebhookConfig{}, m, zap.NewNop())

	require.NoError(t, d.Dispatch(context.Background(), model.Message{
		"tenantid":  "t1",
		"type":      model.TypeWebhookPayload,
		"targetUrl": srv.URL,
	}))
	require.NoError(t, d.Close(time.Second))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("failed")))
	assert.Equal(t, uint64(1), d.Stats().Failed)
}

func TestHTTPDispatcher_RejectsInvalidTarget(t *testing.T) {
	d := NewHTTPDispatcher(WebhookConfig{}, nil, zap.NewNop())
	defer d.Close(time.Second)

	for _, target := range []any{nil, "", "ftp://example.com", "http://", 42} {
		err := d.Dispatch(context.Background(), model.Message{
			"tenantid":  "t1",
			"type":      model.TypeWebhookPayload,
			"targetUrl": target,
		})
		assert.Error(t, err, "target %v", target)
	}
}

func TestHTTPDispatcher_RejectsAfterClose(t *testing.T) {
	m := metrics.NewNopMetrics()
	d := NewHTTPDispatcher(WebhookConfig{}, m, zap.NewNop())
	require.NoError(t, d.Close(time.Second))

	err := d.Dispatch(context.Background(), model.Message{
		"tenantid":  "t1",
		"type":      model.TypeWebhookPayload,
		"targetUrl": "http://example.com/hook",
	})
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("rejected")))
}
