package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveCycle("client", nil)
	m.ObserveCycle("client", errors.New("boom"))
	m.ObserveCycle("client", nil)
	m.AddResolveFailures(3)
	m.AddResolveFailures(0)
	m.ObserveRequest("hosts.txt")
	m.SetEntries("server", 38)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles.WithLabelValues("client", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("client", ResultFailure)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.resolveFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("hosts.txt")))
	assert.Equal(t, 38.0, testutil.ToFloat64(m.hostsEntries.WithLabelValues("server")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCycle("server", nil)
		m.AddResolveFailures(1)
		m.ObserveRequest("status")
		m.SetEntries("client", 1)
	})
	assert.Nil(t, m.Registry())
}

func TestRouter(t *testing.T) {
	m := New()
	m.ObserveCycle("server", nil)
	router := NewRouter(m, func() any { return map[string]string{"client": "Idle"} })

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/metrics", http.StatusOK, "fgh_cycles_total"},
		{"/api/status", http.StatusOK, `"client":"Idle"`},
		{"/missing", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestServeListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, ln, NewRouter(nil, nil)) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.HasPrefix(string(body), "ok"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("admin listener did not stop")
	}
}
