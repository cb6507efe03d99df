package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imobcloud/billing/pkg/httpserver"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRunAndShutdown(t *testing.T) {
	t.Parallel()
	addr := freeAddr(t)

	var stopped atomic.Bool
	srv := httpserver.New(
		httpserver.WithAddr(addr),
		httpserver.WithShutdownTimeout(200*time.Millisecond),
		httpserver.WithStopHook(func() { stopped.Store(true) }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))
	}()

	var resp *http.Response
	var err error
	for range 50 {
		resp, err = http.Get("http://" + addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "run did not finish")
	}
	assert.True(t, stopped.Load())
	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestRun_AddressInUse(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	srv := httpserver.New(httpserver.WithAddr(l.Addr().String()))
	err = srv.Run(context.Background(), nil)
	assert.ErrorIs(t, err, httpserver.ErrStart)
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()
	assert.NotNil(t, httpserver.NewFromConfig(httpserver.Config{Addr: ":0", ShutdownTimeout: time.Second}))
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	t.Run("liveness", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		httpserver.HealthHandler(nil, 0)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
	})

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		h := httpserver.HealthHandler(nil, time.Second,
			httpserver.Check{Name: "postgres", Fn: func(context.Context) error { return nil }},
		)
		h(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ready","checks":{"postgres":"ok"}}`, rec.Body.String())
	})

	t.Run("not ready", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		h := httpserver.HealthHandler(nil, time.Second,
			httpserver.Check{Name: "postgres", Fn: func(context.Context) error { return nil }},
			httpserver.Check{Name: "redis", Fn: func(context.Context) error { return errors.New("down") }},
		)
		h(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not_ready", body["status"])
		assert.Equal(t, map[string]any{"postgres": "ok", "redis": "fail"}, body["checks"])
	})
}
