// Package stabilizer waits for newly detected audio files to finish writing.
package stabilizer

import (
	"context"
	"errors"
	"os"
	"time"
)

// ErrStabilizationTimeout is returned when the file does not stabilize within the timeout.
var ErrStabilizationTimeout = errors.New("stabilization timeout: file did not stabilize in time")

// Stabilizer waits for a file to finish writing.
type Stabilizer interface {
	WaitForStable(ctx context.Context, path string) error
}

// Delay is a fixed settle pause. It ends early only when ctx is done.
type Delay time.Duration

var _ Stabilizer = Delay(0)

// WaitForStable sleeps for the delay.
func (d Delay) WaitForStable(ctx context.Context, path string) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(d))
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PollStabilizer waits until the file size stops changing.
type PollStabilizer struct {
	// Interval is the duration between file size checks.
	Interval time.Duration

	// Checks is the number of consecutive stable checks required.
	Checks int

	// Timeout is the maximum duration to wait for stabilization.
	// If zero, no timeout is applied (relies on context).
	Timeout time.Duration
}

var _ Stabilizer = (*PollStabilizer)(nil)

// NewPollStabilizer creates a new polling-based stabilizer.
func NewPollStabilizer(interval time.Duration, checks int) *PollStabilizer {
	return &PollStabilizer{
		Interval: interval,
		Checks:   checks,
	}
}

// WaitForStable waits until the file size remains constant for the configured
// number of consecutive checks.
//
// If Timeout is set and the context has no deadline, ErrStabilizationTimeout
// is returned when it expires.
func (s *PollStabilizer) WaitForStable(ctx context.Context, path string) error {
	usingInternalTimeout := false
	if s.Timeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.Timeout)
			defer cancel()
			usingInternalTimeout = true
		}
	}

	var lastSize int64 = -1
	stableCount := 0

	for stableCount < s.Checks {
		select {
		case <-ctx.Done():
			if usingInternalTimeout && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrStabilizationTimeout
			}
			return ctx.Err()
		case <-time.After(s.Interval):
		}

		info, err := os.Stat(path)
		if err != nil {
			return err
		}

		currentSize := info.Size()
		if currentSize == lastSize {
			stableCount++
		} else {
			stableCount = 0
			lastSize = currentSize
		}
	}

	return nil
}

// Chain runs stabilizers in order and stops at the first error.
type Chain []Stabilizer

// WaitForStable waits on every stabilizer in turn.
func (c Chain) WaitForStable(ctx context.Context, path string) error {
	for _, s := range c {
		if err := s.WaitForStable(ctx, path); err != nil {
			return err
		}
	}
	return nil
}
