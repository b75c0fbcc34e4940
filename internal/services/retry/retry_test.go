package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/i18n"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleep struct {
	delays []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestPolicy(t *testing.T) (*Policy, *recordedSleep) {
	t.Helper()
	log, _ := test.NewNullLogger()
	p := NewPolicy(config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 8 * time.Second}, log)
	rec := &recordedSleep{}
	p.Sleep = rec.sleep
	return p, rec
}

func TestDoRateLimitedExhaustsAttempts(t *testing.T) {
	p, rec := newTestPolicy(t)

	calls := 0
	err := p.Do(context.Background(), "quotes", func(ctx context.Context) error {
		calls++
		return FromStatus("quotes", http.StatusTooManyRequests, "too many requests")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)

	id, ok := MessageID(err)
	require.True(t, ok)
	assert.Equal(t, i18n.MsgQuotaExhausted, id)
	assert.Equal(t, Fatal, Classify(err))
	assert.Contains(t, err.Error(), i18n.DefaultText(i18n.MsgQuotaExhausted))
}

func TestDoAuthMissingDoesNotRetry(t *testing.T) {
	p, rec := newTestPolicy(t)

	calls := 0
	err := p.Do(context.Background(), "chat", func(ctx context.Context) error {
		calls++
		return MissingCredential("chat")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)

	id, ok := MessageID(err)
	require.True(t, ok)
	assert.Equal(t, i18n.MsgConfigMissing, id)
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestDoOfflineDoesNotRetry(t *testing.T) {
	p, rec := newTestPolicy(t)

	calls := 0
	err := p.Do(context.Background(), "news", func(ctx context.Context) error {
		calls++
		return FromTransport("news", errors.New("connection refused"), false)
	})

	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
	id, _ := MessageID(err)
	assert.Equal(t, i18n.MsgOffline, id)
	assert.Equal(t, Offline, Classify(err))
}

func TestDoFatalIsReturnedUnchanged(t *testing.T) {
	p, rec := newTestPolicy(t)
	boom := errors.New("boom")

	err := p.Do(context.Background(), "store", func(ctx context.Context) error {
		return boom
	})

	assert.Same(t, boom, err)
	assert.Empty(t, rec.delays)
}

func TestDoRecoversAfterTransientFailure(t *testing.T) {
	p, rec := newTestPolicy(t)

	var retried []Kind
	p.OnRetry = func(source string, attempt int, kind Kind) {
		retried = append(retried, kind)
	}

	calls := 0
	err := p.Do(context.Background(), "sectors", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return FromStatus("sectors", http.StatusServiceUnavailable, "")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)
	assert.Equal(t, []Kind{ServiceUnavailable}, retried)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := NewPolicy(config.RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour}, log)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, "quotes", func(ctx context.Context) error {
		calls++
		cancel()
		return FromStatus("quotes", http.StatusServiceUnavailable, "")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDelayIsCapped(t *testing.T) {
	p, _ := newTestPolicy(t)

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(10))
}

func TestNewPolicyDefaults(t *testing.T) {
	p := NewPolicy(config.RetryConfig{}, nil)

	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 2.0, p.Multiplier)
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   Kind
	}{
		{http.StatusTooManyRequests, "", RateLimited},
		{http.StatusOK, `{"error":"rate limit reached"}`, RateLimited},
		{http.StatusServiceUnavailable, "", ServiceUnavailable},
		{http.StatusServiceUnavailable, "quota exceeded", QuotaExhausted},
		{http.StatusBadRequest, `{"status":"RESOURCE_EXHAUSTED"}`, QuotaExhausted},
		{http.StatusUnauthorized, "", AuthMissing},
		{http.StatusForbidden, "", AuthMissing},
		{http.StatusInternalServerError, "oops", Fatal},
		{http.StatusNotFound, "", Fatal},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.status, tt.body), func(t *testing.T) {
			got := FromStatus("src", tt.status, tt.body)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.status, got.Status)
		})
	}
}

func TestFromTransport(t *testing.T) {
	assert.Equal(t, Offline, FromTransport("src", errors.New("x"), false).Kind)
	assert.Equal(t, ServiceUnavailable, FromTransport("src", context.DeadlineExceeded, true).Kind)
	assert.Equal(t, Offline, FromTransport("src", &net.DNSError{Err: "no such host", Name: "example"}, true).Kind)
	assert.Equal(t, Offline, FromTransport("src", &net.OpError{Op: "dial", Err: errors.New("refused")}, true).Kind)
	assert.Equal(t, Fatal, FromTransport("src", errors.New("tls: bad certificate"), true).Kind)
}

func TestClassifyWrapped(t *testing.T) {
	wrapped := fmt.Errorf("fetching: %w", New(QuotaExhausted, "chat", errors.New("quota")))
	assert.Equal(t, QuotaExhausted, Classify(wrapped))
	assert.Equal(t, Fatal, Classify(errors.New("plain")))
	assert.True(t, RateLimited.Retryable())
	assert.False(t, AuthMissing.Retryable())
}
