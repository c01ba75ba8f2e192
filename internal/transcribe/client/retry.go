package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/logging"
)

// DefaultRetryCount is the default number of retry attempts.
const DefaultRetryCount = 3

// DefaultBaseDelay is the initial delay for exponential backoff.
const DefaultBaseDelay = 1 * time.Second

// RetryClient wraps a TranscriptionClient with retry logic and exponential backoff.
type RetryClient struct {
	client    TranscriptionClient
	maxRetry  int
	baseDelay time.Duration
	logger    logging.Logger
}

// RetryOption configures the RetryClient.
type RetryOption func(*RetryClient)

// WithRetryCount sets the maximum number of retry attempts.
func WithRetryCount(n int) RetryOption {
	return func(c *RetryClient) {
		c.maxRetry = n
	}
}

// WithBaseDelay sets the initial delay for exponential backoff.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(c *RetryClient) {
		c.baseDelay = d
	}
}

// WithLogger sets the logger used to report retry attempts.
func WithLogger(l logging.Logger) RetryOption {
	return func(c *RetryClient) {
		c.logger = l
	}
}

// NewRetryClient creates a new RetryClient wrapping the given TranscriptionClient.
func NewRetryClient(client TranscriptionClient, opts ...RetryOption) *RetryClient {
	c := &RetryClient{
		client:    client,
		maxRetry:  DefaultRetryCount,
		baseDelay: DefaultBaseDelay,
		logger:    logging.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Probe forwards to the wrapped client when it supports probing.
func (c *RetryClient) Probe(ctx context.Context) error {
	if p, ok := c.client.(Prober); ok {
		return p.Probe(ctx)
	}
	return nil
}

// Transcribe sends an audio file for transcription with retry logic.
// It retries on connection errors and 5xx responses, but not on 4xx client errors.
func (c *RetryClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions) (*TranscriptionResult, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetry; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * (1 << (attempt - 1)) // 1s, 2s, 4s, 8s...
			c.logger.Warn("retrying transcription",
				logging.Int("attempt", attempt),
				logging.Int("max", c.maxRetry),
				logging.Duration("delay", delay),
				logging.String("error", lastErr.Error()),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.client.Transcribe(ctx, audioPath, opts)
		if err == nil {
			return result, nil
		}

		if !isRetryable(err) {
			return nil, err
		}

		lastErr = err
	}

	return nil, fmt.Errorf("transcription failed after %d retries: %w", c.maxRetry, lastErr)
}

// isRetryable reports whether err is a connection problem or a 5xx
// response. 4xx responses and cancellation are final.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 && apiErr.StatusCode < 600
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	// *url.Error from the HTTP client and *net.OpError from dialing both
	// implement net.Error.
	var netErr net.Error
	return errors.As(err, &netErr)
}
