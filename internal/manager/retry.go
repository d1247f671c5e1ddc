package manager

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sessiond/sessiond/internal/apperrors"
	"github.com/sessiond/sessiond/pkg/types"
)

// RetryOptions configures RetryResume's backoff. Delays follow
// baseDelayMs*2^attempt with no jitter — unlike internal/session/loop.go's
// retry use of cenkalti/backoff, this is a literal, deterministic
// base*2^attempt series (spec §4.8), so RandomizationFactor is forced to
// zero regardless of what's passed here.
type RetryOptions struct {
	MaxRetries  int
	BaseDelayMs int
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelayMs <= 0 {
		o.BaseDelayMs = 1000
	}
	return o
}

// RetryResume repeatedly attempts Resume for sid, backing off
// baseDelayMs*2^attempt between tries (no jitter), emitting an info event
// per attempt and an urgent event if every attempt is exhausted.
func (m *Manager) RetryResume(ctx context.Context, sid string, resumeOpts ResumeOptions, ownerID string, retryOpts RetryOptions) (types.Session, error) {
	retryOpts = retryOpts.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(retryOpts.BaseDelayMs) * time.Millisecond
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retryOpts.MaxRetries)), ctx)

	attempt := 0
	var result types.Session
	operation := func() error {
		attempt++
		m.eventBus.Publish(types.SessionEvent{
			Type:      types.EventReady,
			Severity:  types.SeverityInfo,
			Summary:   "resume attempt",
			SessionID: sid,
			Timestamp: nowMillis(),
			Detail:    map[string]any{"attempt": attempt},
		})

		sess, err := m.Resume(ctx, sid, resumeOpts, ownerID)
		if err != nil {
			return err
		}
		result = sess
		return nil
	}

	err := backoff.Retry(operation, bo)
	if err != nil {
		m.eventBus.Publish(types.SessionEvent{
			Type:      types.EventError,
			Severity:  types.SeverityUrgent,
			Summary:   "resume retries exhausted",
			SessionID: sid,
			Timestamp: nowMillis(),
			Detail:    map[string]any{"attempts": attempt},
		})
		return types.Session{}, apperrors.Wrap(apperrors.KindTransportError, "resume retries exhausted for session "+sid, err)
	}

	return result, nil
}
