package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/BookshelfGo/pkg/logger"
)

func TestCircuitBreaker_TripsOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultCircuitBreakerConfig("test-trip")
	cfg.MinRequests = 2
	cfg.Timeout = time.Minute
	cb := NewCircuitBreakerClient(New(fastConfig()), cfg, logger.Discard())

	for range 2 {
		req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
		_, err := cb.Do(context.Background(), req)
		require.Error(t, err)
		assert.True(t, IsUpstreamError(err))
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
	_, err := cb.Do(context.Background(), req)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := DefaultCircuitBreakerConfig("test-4xx")
	cfg.MinRequests = 1
	cb := NewCircuitBreakerClient(New(fastConfig()), cfg, logger.Discard())

	for range 3 {
		req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
		resp, err := cb.Do(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
