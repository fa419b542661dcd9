package transcription

import (
	"context"
	"time"
)

// RetryPolicy describes how the live session restarts the recognition
// capability after a recoverable fault: a fixed delay, retried without
// bound for as long as the session stays active. Expressed as a policy
// object so tests can control time.
type RetryPolicy struct {
	Delay time.Duration
}

// Wait blocks for the backoff delay or until the context is cancelled
func (p RetryPolicy) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		// Still yield to cancellation between attempts
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	timer := time.NewTimer(p.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
