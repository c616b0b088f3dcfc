package download

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-localmodel/pkg/archive"
	"github.com/go-localmodel/pkg/events"
	"github.com/go-localmodel/pkg/metrics"
	"github.com/go-localmodel/pkg/retry"
	"github.com/go-localmodel/pkg/utils"
)

const (
	// SizeUnknown marks a session whose total length could not be determined
	SizeUnknown int64 = -1

	DefaultChunkSize   = 8192
	DefaultMaxAttempts = 3

	// Anything this small is assumed to be an error page, not the artifact.
	minKnownSize = 100
	maxRedirects = 10
)

var (
	ErrTransport         = errors.New("transport error")
	ErrIntegrity         = errors.New("integrity error")
	ErrCancelled         = errors.New("download cancelled")
	ErrAttemptsExhausted = errors.New("download attempts exhausted")
	ErrTooManyRedirects  = errors.New("too many redirects")
	ErrFileSystem        = errors.New("file system error")
)

// StatusError is returned for HTTP responses the downloader cannot use
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download of %s failed with status: %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrTransport }

// Session describes one download pass. Bytes on disk always equal Offset+Transferred.
type Session struct {
	URL           string
	Dest          string
	ExpectedTotal int64
	Offset        int64
	Transferred   int64
	Resumed       bool
}

// Written is the number of bytes of the artifact currently on disk
func (s *Session) Written() int64 {
	return s.Offset + s.Transferred
}

// Options configures a Client
type Options struct {
	// Name labels metrics and log lines
	Name string
	// DownloadDir and FileName locate the verified artifact
	DownloadDir string
	FileName    string

	MaxAttempts  int
	ChunkSize    int
	ExpectedHash string
	// Validate decides whether a finished file is usable; defaults to archive.Validate
	Validate func(path string) error

	Headers      map[string]string
	AuthUser     string
	AuthPassword string
	UserAgent    string

	// Message shown with per-chunk progress
	ProgressLabel string
}

// Client handles resumable HTTP downloads
type Client struct {
	httpClient      *http.Client
	logger          *utils.Logger
	sink            events.Sink
	metrics         metrics.Collector
	opts            Options
	followRedirects bool
}

// NewClient creates a new download client
func NewClient(opts Options, sink events.Sink, logger *utils.Logger) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Validate == nil {
		opts.Validate = archive.Validate
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "go-localmodel/1.0"
	}
	if opts.ProgressLabel == "" {
		opts.ProgressLabel = "Downloads:"
	}
	if sink == nil {
		sink = events.Discard
	}

	client := &Client{
		httpClient: &http.Client{},
		logger:     logger,
		sink:       sink,
		metrics:    metrics.NewNoop(),
		opts:       opts,
	}
	client.SetFollowRedirects(false)
	return client
}

// SetMetrics swaps the metrics collector
func (c *Client) SetMetrics(m metrics.Collector) {
	if m != nil {
		c.metrics = m
	}
}

// SetFollowRedirects toggles net/http redirect following. When off, 3xx
// responses are followed by the downloader itself so every hop keeps the Range header.
func (c *Client) SetFollowRedirects(follow bool) {
	c.followRedirects = follow
	if follow {
		c.httpClient.CheckRedirect = nil
	} else {
		c.httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
}

// Destination is where DownloadWithVerification stores the artifact for rawURL
func (c *Client) Destination(rawURL string) string {
	name := c.opts.FileName
	if name == "" {
		if u, err := url.Parse(rawURL); err == nil {
			name = path.Base(u.Path)
		}
		if name == "" || name == "." || name == "/" {
			name = "download"
		}
	}
	return filepath.Join(c.opts.DownloadDir, name)
}

// ProbeSize asks the server for the artifact length with a HEAD request.
// Any failure, a missing length, or a length of 100 bytes or less yields SizeUnknown.
func (c *Client) ProbeSize(ctx context.Context, rawURL string) int64 {
	return c.probe(ctx, rawURL, 0)
}

func (c *Client) probe(ctx context.Context, rawURL string, hops int) int64 {
	req, err := c.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return SizeUnknown
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("HEAD %s failed: %v", rawURL, err)
		return SizeUnknown
	}
	resp.Body.Close()

	switch {
	case isRedirect(resp.StatusCode):
		next, err := redirectTarget(resp)
		if err != nil || hops >= maxRedirects {
			return SizeUnknown
		}
		return c.probe(ctx, next, hops+1)
	case resp.StatusCode == http.StatusOK:
		if resp.ContentLength <= minKnownSize {
			return SizeUnknown
		}
		return resp.ContentLength
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if resp.ContentLength < 0 {
			return SizeUnknown
		}
		return resp.ContentLength
	default:
		return SizeUnknown
	}
}

// Download fetches rawURL into dest, resuming from whatever dest already holds.
// Flushed bytes stay on disk on every error path so a later call can resume.
func (c *Client) Download(ctx context.Context, rawURL, dest string) (*Session, error) {
	if err := utils.EnsureDirForFile(dest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	total := c.ProbeSize(ctx, rawURL)
	c.logger.Debug("Expected size of %s: %d", rawURL, total)
	return c.download(ctx, rawURL, dest, total, 0)
}

func (c *Client) download(ctx context.Context, rawURL, dest string, total int64, hops int) (*Session, error) {
	existing := utils.FileSize(dest)
	session := &Session{URL: rawURL, Dest: dest, ExpectedTotal: total, Offset: existing}

	if existing > 0 && total != SizeUnknown {
		if existing == total {
			c.logger.Info("%s is already complete (%d bytes)", dest, existing)
			c.sink.Emit(events.Progress("Download complete", 1))
			return session, nil
		}
		if existing > total {
			c.logger.Info("Partial file %s is larger than expected, restarting", dest)
			if err := os.Truncate(dest, 0); err != nil {
				return session, fmt.Errorf("%w: %v", ErrFileSystem, err)
			}
			existing = 0
			session.Offset = 0
		}
	}

	req, err := c.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return session, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if existing > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existing))
		session.Resumed = true
		c.sink.Emit(events.Message(fmt.Sprintf("Attempting to continue loading from position %d.", existing)))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return session, c.cancelled()
		}
		return session, fmt.Errorf("%w: %s: %v", ErrTransport, rawURL, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("HTTP response status: %d", resp.StatusCode)
	c.logger.Verbose("HTTP response headers: %v", resp.Header)

	switch {
	case isRedirect(resp.StatusCode):
		next, err := redirectTarget(resp)
		if err != nil {
			return session, err
		}
		if hops >= maxRedirects {
			return session, fmt.Errorf("%w: gave up at %s", ErrTooManyRedirects, next)
		}
		c.logger.Debug("Redirect to %s", next)
		io.Copy(io.Discard, resp.Body)
		return c.download(ctx, next, dest, total, hops+1)

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && existing > 0:
		if n, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok && n == existing {
			c.logger.Info("%s is already complete (%d bytes, server reports nothing past it)", dest, existing)
			session.ExpectedTotal = n
			c.sink.Emit(events.Progress("Download complete", 1))
			return session, nil
		}
		c.logger.Info("Server rejected resume offset %d for %s, discarding partial file", existing, dest)
		if err := os.Truncate(dest, 0); err != nil {
			return session, fmt.Errorf("%w: %v", ErrFileSystem, err)
		}
		session.Offset = 0
		return session, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}

	case resp.StatusCode == http.StatusOK && existing > 0:
		c.sink.Emit(events.Message("The server does not support resuming. Restarting the download."))
		existing = 0
		session.Offset = 0
		session.Resumed = false

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return session, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	if session.ExpectedTotal == SizeUnknown {
		session.ExpectedTotal = totalFromResponse(resp, existing)
	}
	if session.ExpectedTotal != SizeUnknown {
		c.sink.Emit(events.Message(fmt.Sprintf("Total file size: %d bytes.", session.ExpectedTotal)))
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if existing > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(dest, flags, 0644)
	if err != nil {
		return session, fmt.Errorf("%w: failed to open %s: %v", ErrFileSystem, dest, err)
	}
	defer file.Close()

	if err := c.stream(ctx, resp.Body, file, session); err != nil {
		return session, err
	}

	c.logger.Debug("Downloaded %d bytes to %s", session.Transferred, dest)
	if session.ExpectedTotal != SizeUnknown {
		c.sink.Emit(events.Progress("Download complete", 1))
	} else {
		c.sink.Emit(events.Message("Download complete"))
	}
	return session, nil
}

// stream copies body into file chunk by chunk. A chunk is counted only after it has been written.
func (c *Client) stream(ctx context.Context, body io.Reader, file *os.File, session *Session) error {
	buf := make([]byte, c.opts.ChunkSize)
	for {
		if ctx.Err() != nil {
			return c.cancelled()
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: failed to write %s: %v", ErrFileSystem, session.Dest, err)
			}
			session.Transferred += int64(n)
			c.metrics.DownloadBytes(c.opts.Name, n)

			if session.ExpectedTotal != SizeUnknown {
				if session.Written() > session.ExpectedTotal {
					return fmt.Errorf("%w: received %d bytes, expected %d", ErrIntegrity, session.Written(), session.ExpectedTotal)
				}
				c.sink.Emit(events.Progress(c.opts.ProgressLabel, float64(session.Written())/float64(session.ExpectedTotal)))
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return c.cancelled()
			}
			return fmt.Errorf("%w: reading %s: %v", ErrTransport, session.URL, readErr)
		}
	}
}

// DownloadWithVerification downloads rawURL with at most MaxAttempts tries and
// returns the local path only once the file passes verification.
func (c *Client) DownloadWithVerification(ctx context.Context, rawURL string) (string, error) {
	dest := c.Destination(rawURL)
	attempt := retry.NewAttempt(c.opts.MaxAttempts)

	for attempt.Next() {
		c.logger.Info("Download attempt %s: %s -> %s", attempt, rawURL, dest)

		session, err := c.Download(ctx, rawURL, dest)
		if err != nil {
			if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
				c.metrics.DownloadAttempt(c.opts.Name, "cancelled")
				return "", err
			}
			attempt.Fail(err)
			c.metrics.DownloadAttempt(c.opts.Name, "failed")
			c.logger.Error("Download attempt %s failed: %v", attempt, err)
			if errors.Is(err, ErrIntegrity) {
				c.discard(dest)
			}
			continue
		}

		if err := c.verify(session); err != nil {
			attempt.Fail(err)
			c.metrics.DownloadAttempt(c.opts.Name, "invalid")
			c.logger.Error("Downloaded file %s failed verification: %v", dest, err)
			c.discard(dest)
			continue
		}

		c.metrics.DownloadAttempt(c.opts.Name, "verified")
		c.logger.Info("✅ Download verified: %s", dest)
		return dest, nil
	}

	c.logger.Error("❌ Failed to download %s after %d attempts: %v", rawURL, attempt.Max, attempt.LastError)
	return "", fmt.Errorf("%w: %s after %d attempts: %v", ErrAttemptsExhausted, rawURL, attempt.Max, attempt.LastError)
}

func (c *Client) verify(session *Session) error {
	size := utils.FileSize(session.Dest)
	if session.ExpectedTotal != SizeUnknown && size < session.ExpectedTotal {
		return fmt.Errorf("%w: file has %d bytes, expected %d", ErrIntegrity, size, session.ExpectedTotal)
	}
	if err := c.VerifyFileHash(session.Dest, c.opts.ExpectedHash); err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if err := c.opts.Validate(session.Dest); err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return nil
}

// VerifyFileHash checks if a file matches the expected SHA256 hash
func (c *Client) VerifyFileHash(filepath, expectedHash string) error {
	if expectedHash == "" {
		c.logger.Debug("No hash provided for %s, skipping verification", filepath)
		return nil
	}

	c.logger.Debug("Verifying hash for %s", filepath)
	c.logger.Verbose("Expected hash: %s", expectedHash)

	actualHash, err := HashFile(filepath)
	if err != nil {
		return err
	}
	c.logger.Verbose("Calculated hash: %s", actualHash)

	if !strings.EqualFold(actualHash, expectedHash) {
		return fmt.Errorf("hash mismatch: expected %s, got %s", expectedHash, actualHash)
	}

	c.logger.Info("Hash verification passed for %s", filepath)
	return nil
}

// HashFile returns the hex sha256 of a file
func HashFile(filepath string) (string, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hash verification: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to read file for hashing: %w", err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

func (c *Client) discard(dest string) {
	if err := utils.RemoveIfExists(dest); err != nil {
		c.logger.Error("Failed to discard %s: %v", dest, err)
	}
}

func (c *Client) cancelled() error {
	c.sink.Emit(events.Message("Download cancelled"))
	return ErrCancelled
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", rawURL, err)
	}

	if c.opts.AuthUser != "" && c.opts.AuthPassword != "" {
		req.SetBasicAuth(c.opts.AuthUser, c.opts.AuthPassword)
	}
	for key, value := range c.opts.Headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	safe := make(http.Header)
	for k, vals := range req.Header {
		if k == "Authorization" || k == "Proxy-Authorization" {
			safe[k] = []string{"***redacted***"}
		} else {
			safe[k] = vals
		}
	}
	c.logger.Verbose("HTTP %s %s headers: %v", method, rawURL, safe)
	return req, nil
}

func isRedirect(code int) bool {
	return code >= 300 && code < 400
}

func redirectTarget(resp *http.Response) (string, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("%w: redirect %d from %s without Location", ErrTransport, resp.StatusCode, resp.Request.URL)
	}
	next, err := resp.Request.URL.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("%w: bad redirect location %q: %v", ErrTransport, loc, err)
	}
	return next.String(), nil
}

// totalFromResponse falls back to the GET response when HEAD gave no usable size
func totalFromResponse(resp *http.Response, existing int64) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		if n, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok {
			return n
		}
		if resp.ContentLength >= 0 {
			return existing + resp.ContentLength
		}
		return SizeUnknown
	}
	if resp.ContentLength > 0 {
		return resp.ContentLength
	}
	return SizeUnknown
}

// contentRangeTotal reads the complete length from "bytes a-b/N" or "bytes */N"
func contentRangeTotal(header string) (int64, bool) {
	i := strings.LastIndex(header, "/")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(header[i+1:]), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
