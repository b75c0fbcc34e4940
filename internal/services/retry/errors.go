package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ridou/marketsync/internal/i18n"
)

// Kind classifies an upstream failure.
type Kind int

const (
	Fatal Kind = iota
	RateLimited
	QuotaExhausted
	ServiceUnavailable
	AuthMissing
	Offline
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case QuotaExhausted:
		return "quota_exhausted"
	case ServiceUnavailable:
		return "service_unavailable"
	case AuthMissing:
		return "auth_missing"
	case Offline:
		return "offline"
	default:
		return "fatal"
	}
}

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	switch k {
	case RateLimited, QuotaExhausted, ServiceUnavailable:
		return true
	}
	return false
}

// Error is a classified upstream failure. Adapters build it at the transport
// boundary; Policy.Do turns it into a final error carrying MessageID.
type Error struct {
	Kind      Kind
	Source    string
	Status    int
	MessageID string
	Attempts  int
	Err       error
}

func (e *Error) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("%s: %s", e.Source, i18n.DefaultText(e.MessageID))
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Source, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with an explicit kind.
func New(kind Kind, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

// ErrMissingCredential is wrapped by adapters that were built without a key.
var ErrMissingCredential = errors.New("credential not configured")

// MissingCredential reports an unconfigured upstream.
func MissingCredential(source string) *Error {
	return New(AuthMissing, source, ErrMissingCredential)
}

// FromStatus classifies a non-2xx HTTP response.
func FromStatus(source string, status int, body string) *Error {
	e := &Error{Kind: Fatal, Source: source, Status: status, Err: fmt.Errorf("%s", truncate(body, 256))}
	lower := strings.ToLower(body)

	switch {
	case status == http.StatusTooManyRequests || strings.Contains(lower, "rate limit"):
		e.Kind = RateLimited
	case strings.Contains(lower, "quota") || strings.Contains(lower, "resource_exhausted"):
		e.Kind = QuotaExhausted
	case status == http.StatusServiceUnavailable:
		e.Kind = ServiceUnavailable
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = AuthMissing
	}
	return e
}

// FromTransport classifies an error raised before any response arrived.
// online is the current connectivity as reported by the monitor.
func FromTransport(source string, err error, online bool) *Error {
	if !online {
		return New(Offline, source, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return New(ServiceUnavailable, source, err)
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || (errors.As(err, &opErr) && opErr.Op == "dial") {
		return New(Offline, source, err)
	}

	return New(Fatal, source, err)
}

// Classify returns the kind of err. Errors that were never classified are
// Fatal.
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// MessageID returns the user-facing message id attached to err, if any.
func MessageID(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.MessageID != "" {
		return e.MessageID, true
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
