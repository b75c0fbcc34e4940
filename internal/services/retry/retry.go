package retry

import (
	"context"
	"math"
	"time"

	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/i18n"
	"github.com/sirupsen/logrus"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy retries classified upstream failures with exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	Sleep   SleepFunc
	OnRetry func(source string, attempt int, kind Kind)
	logger  *logrus.Logger
}

// NewPolicy creates a policy from configuration, filling unset values with
// the 3 attempts / 1s / x2 schedule.
func NewPolicy(cfg config.RetryConfig, logger *logrus.Logger) *Policy {
	p := &Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		Multiplier:  cfg.Multiplier,
		MaxDelay:    cfg.MaxDelay,
		Sleep:       sleepContext,
		logger:      logger,
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Delay returns the wait after the given zero-based failed attempt.
func (p *Policy) Delay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, fails with a non-retryable kind, or the
// attempts are used up. Non-retryable and exhausted failures come back as a
// final *Error carrying a user message id; unclassified errors are returned
// unchanged.
func (p *Policy) Do(ctx context.Context, source string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := Classify(err)
		if !kind.Retryable() {
			return p.final(source, kind, attempt+1, err)
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Delay(attempt)
		if p.logger != nil {
			p.logger.WithFields(logrus.Fields{
				"upstream": source,
				"attempt":  attempt + 1,
				"kind":     kind.String(),
				"delay":    delay,
				"error":    err.Error(),
			}).Warn("Upstream request failed, retrying...")
		}
		if p.OnRetry != nil {
			p.OnRetry(source, attempt+1, kind)
		}

		if err := p.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	kind := Classify(lastErr)
	if kind == RateLimited {
		kind = Fatal
	}
	return &Error{
		Kind:      kind,
		Source:    source,
		MessageID: i18n.MsgQuotaExhausted,
		Attempts:  p.MaxAttempts,
		Err:       lastErr,
	}
}

func (p *Policy) final(source string, kind Kind, attempts int, err error) error {
	var id string
	switch kind {
	case AuthMissing:
		id = i18n.MsgConfigMissing
	case Offline:
		id = i18n.MsgOffline
	default:
		return err
	}
	return &Error{Kind: kind, Source: source, MessageID: id, Attempts: attempts, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
