package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-localmodel/pkg/events"
	"github.com/go-localmodel/pkg/metrics"
	"github.com/go-localmodel/pkg/utils"
)

// ErrHealthCheckTimeout is returned when every poll attempt failed
var ErrHealthCheckTimeout = errors.New("server did not become healthy")

// HealthState is driven only by a Poller
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthPolling
	HealthHealthy
	HealthFailed
)

func (s HealthState) String() string {
	switch s {
	case HealthPolling:
		return "polling"
	case HealthHealthy:
		return "healthy"
	case HealthFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PollerOptions configure a Poller
type PollerOptions struct {
	Interval       time.Duration
	AttemptTimeout time.Duration
	SuccessMessage string
	FailureMessage string
}

// DefaultPollerOptions poll once a second
func DefaultPollerOptions() PollerOptions {
	return PollerOptions{
		Interval:       time.Second,
		AttemptTimeout: 2 * time.Second,
		SuccessMessage: "Server is running!",
		FailureMessage: "Server failed to start or timed out!",
	}
}

type statusResponse struct {
	ServerRunning bool `json:"ServerRunning"`
}

// Poller waits for the server's status endpoint to report ready
type Poller struct {
	opts    PollerOptions
	client  *http.Client
	sink    events.Sink
	logger  *utils.Logger
	metrics metrics.Collector

	mu    sync.Mutex
	state HealthState
}

// NewPoller creates a poller with its own HTTP client
func NewPoller(opts PollerOptions, sink events.Sink, logger *utils.Logger) *Poller {
	d := DefaultPollerOptions()
	if opts.Interval <= 0 {
		opts.Interval = d.Interval
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = d.AttemptTimeout
	}
	if opts.SuccessMessage == "" {
		opts.SuccessMessage = d.SuccessMessage
	}
	if opts.FailureMessage == "" {
		opts.FailureMessage = d.FailureMessage
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Poller{
		opts:    opts,
		client:  &http.Client{},
		sink:    sink,
		logger:  logger,
		metrics: metrics.NewNoop(),
	}
}

// SetMetrics replaces the no-op collector
func (p *Poller) SetMetrics(c metrics.Collector) {
	if c != nil {
		p.metrics = c
	}
}

// State reports where polling stands
func (p *Poller) State() HealthState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) setState(s HealthState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// PollUntilHealthy issues up to maxAttempts GETs against url and returns true
// on the first healthy answer. Transport errors and not-ready answers each
// consume one attempt.
func (p *Poller) PollUntilHealthy(ctx context.Context, url string, maxAttempts int) bool {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	p.setState(HealthPolling)

	for i := 1; i <= maxAttempts; i++ {
		healthy, err := p.check(ctx, url)
		if healthy {
			p.setState(HealthHealthy)
			p.metrics.HealthPoll("healthy")
			p.logger.Info("✅ Server healthy after %d attempt(s)", i)
			p.sink.Emit(events.Progress(p.opts.SuccessMessage, 1))
			return true
		}
		p.metrics.HealthPoll("not_ready")
		if err != nil {
			p.logger.Debug("Health attempt %d/%d: %v", i, maxAttempts, err)
		} else {
			p.logger.Debug("Health attempt %d/%d: server not ready", i, maxAttempts)
		}

		if i == maxAttempts {
			break
		}
		if !sleepCtx(ctx, p.opts.Interval) {
			p.logger.Info("Health polling cancelled: %v", ctx.Err())
			break
		}
	}

	p.setState(HealthFailed)
	p.logger.Error("❌ Server did not become healthy at %s", url)
	p.sink.Emit(events.Progress(p.opts.FailureMessage, 1))
	return false
}

// WaitHealthy is PollUntilHealthy returning ErrHealthCheckTimeout on failure
func (p *Poller) WaitHealthy(ctx context.Context, url string, maxAttempts int) error {
	if p.PollUntilHealthy(ctx, url, maxAttempts) {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrHealthCheckTimeout, ctx.Err())
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrHealthCheckTimeout, url, maxAttempts)
}

// check is healthy on HTTP 200, or on any 2xx whose body reports ServerRunning
func (p *Poller) check(ctx context.Context, url string) (bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.opts.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return false, fmt.Errorf("decoding status: %w", err)
	}
	return status.ServerRunning, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
