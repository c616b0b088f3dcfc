package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-localmodel/pkg/events"
	"github.com/go-localmodel/pkg/utils"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "application/json; charset=utf-8", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Привет", body["Prompt"])

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"response": "Здравствуйте"}`))
	}))
	defer srv.Close()

	c := NewModelClient(srv.URL+"/", "generate", nil, utils.NewNopLogger())
	got, err := c.Generate(context.Background(), "Привет")
	require.NoError(t, err)
	assert.Equal(t, "Здравствуйте", got)
	assert.False(t, c.Busy())
}

func TestGenerateRejectsConcurrentRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"response": "done"}`))
	}))
	defer srv.Close()
	defer close(release)

	rec := &events.Recorder{}
	c := NewModelClient(srv.URL, "/generate", rec, utils.NewNopLogger())

	first := make(chan error, 1)
	go func() {
		_, err := c.Generate(context.Background(), "one")
		first <- err
	}()
	require.Eventually(t, c.Busy, 5*time.Second, time.Millisecond)

	_, err := c.Generate(context.Background(), "two")
	assert.ErrorIs(t, err, ErrRequestInFlight)
	assert.Equal(t, []string{InFlightMessage}, rec.Messages())

	release <- struct{}{}
	assert.NoError(t, <-first)
}

func TestGenerateErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "Empty prompt"}`))
	}))
	defer srv.Close()

	c := NewModelClient(srv.URL, "", nil, utils.NewNopLogger())
	_, err := c.Generate(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Empty prompt")
	assert.False(t, c.Busy(), "the in-flight flag is released after a failure")
}

func TestShutdown(t *testing.T) {
	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/shutdown", r.URL.Path)
		called.Store(true)
	}))
	defer srv.Close()

	c := NewModelClient(srv.URL, "", nil, utils.NewNopLogger())
	require.NoError(t, c.Shutdown(context.Background()))
	assert.True(t, called.Load())
}
