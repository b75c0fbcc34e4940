// Package upstream holds one adapter per external service. Each adapter call
// performs a single request, maps the vendor payload into internal/models and
// reports failures as *retry.Error. Adapters know nothing about caching.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ridou/marketsync/internal/middleware"
	"github.com/ridou/marketsync/internal/services/retry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Source names used in logs, metrics and errors.
const (
	SourceQuotes  = "quotes"
	SourceNews    = "news"
	SourceStock   = "stock"
	SourceHistory = "history"
	SourceSectors = "sectors"
	SourceChat    = "chat"
	SourceStore   = "store"
)

const userAgent = "marketsync/1.0"

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Logger  *logrus.Logger
	Metrics *middleware.Metrics
	// Online reports current connectivity. Nil means always online.
	Online func() bool
	// RequestsPerSecond throttles outgoing calls per adapter. Zero disables it.
	RequestsPerSecond float64
	Burst             int
}

func (d Deps) limiter() *rate.Limiter {
	if d.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := d.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(d.RequestsPerSecond), burst)
}

// endpoint is the resty client plus throttle for one upstream host.
type endpoint struct {
	source  string
	client  *resty.Client
	limiter *rate.Limiter
	online  func() bool
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

func newEndpoint(source, baseURL string, timeout time.Duration, deps Deps) *endpoint {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", userAgent)
	client.SetHeader("Accept", "application/json")

	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &endpoint{
		source:  source,
		client:  client,
		limiter: deps.limiter(),
		online:  deps.Online,
		metrics: deps.Metrics,
		logger:  logger,
	}
}

func (e *endpoint) isOnline() bool {
	return e.online == nil || e.online()
}

// do sends one request built by send and converts every failure into a
// classified *retry.Error.
func (e *endpoint) do(ctx context.Context, send func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	if !e.isOnline() {
		return nil, retry.New(retry.Offline, e.source, errors.New("connectivity monitor reports offline"))
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, retry.FromTransport(e.source, err, e.isOnline())
	}

	start := time.Now()
	resp, err := send(e.client.R().SetContext(ctx))
	duration := time.Since(start)

	if err != nil {
		e.record("error", duration)
		e.logger.WithFields(logrus.Fields{
			"upstream": e.source,
			"error":    err.Error(),
		}).Debug("Upstream request failed")
		return nil, retry.FromTransport(e.source, err, e.isOnline())
	}

	e.record(strconv.Itoa(resp.StatusCode()), duration)
	if resp.IsError() {
		return nil, retry.FromStatus(e.source, resp.StatusCode(), resp.String())
	}

	e.logger.WithFields(logrus.Fields{
		"upstream": e.source,
		"status":   resp.StatusCode(),
		"duration": duration,
	}).Debug("Upstream request succeeded")
	return resp, nil
}

func (e *endpoint) record(status string, duration time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordUpstream(e.source, status, duration)
	}
}

// decode parses a response body; a malformed body is Fatal.
func (e *endpoint) decode(resp *resty.Response, dst interface{}) error {
	if err := json.Unmarshal(resp.Body(), dst); err != nil {
		return retry.New(retry.Fatal, e.source, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

// scaled is an Eastmoney integer field carrying a value multiplied by 100.
// Suspended instruments report "-" instead of a number.
type scaled struct {
	Value decimal.Decimal
	Valid bool
}

func (s *scaled) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "-" || raw == "null" {
		*s = scaled{}
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = scaled{Value: decimal.New(n, -2), Valid: true}
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid scaled value %q: %w", raw, err)
	}
	*s = scaled{Value: d.Shift(-2), Valid: true}
	return nil
}
