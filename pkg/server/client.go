package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-localmodel/pkg/events"
	"github.com/go-localmodel/pkg/utils"
)

// ErrRequestInFlight is returned when Generate is called while another call is outstanding
var ErrRequestInFlight = errors.New("the request is already being processed")

// InFlightMessage is emitted when a concurrent Generate is rejected
const InFlightMessage = "The request is already being processed"

const (
	jsonContentType = "application/json; charset=utf-8"
	shutdownTimeout = 5 * time.Second
)

type generateRequest struct {
	Prompt string `json:"Prompt"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// ModelClient talks to a running server. Only one Generate runs at a time.
type ModelClient struct {
	baseURL      string
	generatePath string
	client       *http.Client
	sink         events.Sink
	logger       *utils.Logger
	busy         atomic.Bool
}

// NewModelClient creates a client for the server at baseURL
func NewModelClient(baseURL, generatePath string, sink events.Sink, logger *utils.Logger) *ModelClient {
	if generatePath == "" {
		generatePath = "/generate"
	}
	if sink == nil {
		sink = events.Discard
	}
	return &ModelClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		generatePath: "/" + strings.TrimLeft(generatePath, "/"),
		client:       &http.Client{},
		sink:         sink,
		logger:       logger,
	}
}

// Generate sends a prompt and returns the model's answer. A second call while
// one is outstanding is rejected rather than queued.
func (c *ModelClient) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.busy.CompareAndSwap(false, true) {
		c.sink.Emit(events.Message(InFlightMessage))
		return "", ErrRequestInFlight
	}
	defer c.busy.Store(false)

	payload, err := json.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.generatePath, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", jsonContentType)

	c.logger.Debug("POST %s (%d bytes)", req.URL, len(payload))
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read generate response: %w", err)
	}

	var out generateResponse
	decodeErr := json.Unmarshal(body, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && out.Error != "" {
			return "", fmt.Errorf("generate returned status %d: %s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("generate returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode generate response: %w", decodeErr)
	}
	return out.Response, nil
}

// Busy reports whether a Generate call is outstanding
func (c *ModelClient) Busy() bool {
	return c.busy.Load()
}

// Shutdown asks the server to exit. The answer is not inspected.
func (c *ModelClient) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shutdown", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Shutdown request failed: %v", err)
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	c.logger.Debug("Shutdown request answered with status %d", resp.StatusCode)
	return nil
}
