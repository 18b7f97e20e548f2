package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devrev/paracore/internal/health"
	"github.com/devrev/paracore/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func newTestServer(t *testing.T, pingErr error) (*OpsServer, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	checker := health.NewChecker(zap.NewNop())
	checker.Register("store", pinger{err: pingErr})
	return NewOpsServer(":0", reg, checker, zap.NewNop()), m
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestOpsServer_Routes(t *testing.T) {
	s, m := newTestServer(t, nil)
	m.IDsIssuedTotal.Inc()

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/health", http.StatusOK, `"healthy"`},
		{"/ready", http.StatusOK, `"ready"`},
		{"/metrics", http.StatusOK, "paracore_"},
		{"/unknown", http.StatusNotFound, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, s.Handler(), tt.path)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
			assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
		})
	}
}

func TestOpsServer_NotReady(t *testing.T) {
	s, _ := newTestServer(t, errors.New("down"))

	w := get(t, s.Handler(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOpsServer_KeepsRequestID(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
}

func TestOpsServer_ServeAndShutdown(t *testing.T) {
	s, _ := newTestServer(t, nil)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
}

func TestRecovery(t *testing.T) {
	h := recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := get(t, h, "/")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
