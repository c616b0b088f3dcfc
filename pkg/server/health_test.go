package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/go-localmodel/pkg/events"
	"github.com/go-localmodel/pkg/utils"
)

func fastPoller(sink events.Sink) *Poller {
	return NewPoller(PollerOptions{Interval: time.Millisecond, AttemptTimeout: time.Second}, sink, utils.NewNopLogger())
}

func TestPollHealthyOnFirstAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ServerRunning": true}`))
	}))
	defer srv.Close()

	rec := &events.Recorder{}
	p := fastPoller(rec)
	assert.Equal(t, HealthUnknown, p.State())
	assert.True(t, p.PollUntilHealthy(context.Background(), srv.URL+"/status", 5))
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, HealthHealthy, p.State())
	assert.Equal(t, []string{"Server is running!"}, rec.Messages())
}

func TestPollFailsAfterExactlyMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &events.Recorder{}
	p := fastPoller(rec)
	assert.False(t, p.PollUntilHealthy(context.Background(), srv.URL, 4))
	assert.Equal(t, int32(4), hits.Load())
	assert.Equal(t, HealthFailed, p.State())

	evs := rec.Events()
	if assert.Len(t, evs, 1) {
		assert.Equal(t, "Server failed to start or timed out!", evs[0].Message)
		assert.Equal(t, 1.0, evs[0].Fraction)
	}
}

func TestPollReadyFlagOnNon200Success(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		if hits.Add(1) < 3 {
			w.Write([]byte(`{"ServerRunning": false}`))
			return
		}
		w.Write([]byte(`{"ServerRunning": true}`))
	}))
	defer srv.Close()

	assert.True(t, fastPoller(nil).PollUntilHealthy(context.Background(), srv.URL, 10))
	assert.Equal(t, int32(3), hits.Load())
}

func TestPollTransportErrorsConsumeAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := fastPoller(nil)
	err := p.WaitHealthy(context.Background(), url, 2)
	assert.True(t, errors.Is(err, ErrHealthCheckTimeout), "got %v", err)
}

func TestPollStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(PollerOptions{Interval: time.Hour}, nil, utils.NewNopLogger())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := p.WaitHealthy(ctx, srv.URL, 100)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, err, ErrHealthCheckTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHealthStateString(t *testing.T) {
	assert.Equal(t, "unknown", HealthUnknown.String())
	assert.Equal(t, "polling", HealthPolling.String())
	assert.Equal(t, "healthy", HealthHealthy.String())
	assert.Equal(t, "failed", HealthFailed.String())
}
