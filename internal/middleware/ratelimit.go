package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/ridou/marketsync/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(clientID string) bool
	Reset(clientID string)
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter implements per-client rate limiting
type ClientRateLimiter struct {
	enabled         bool
	limiters        map[string]*clientLimiter
	mu              sync.Mutex
	rpm             int
	burst           int
	logger          *logrus.Logger
	metrics         *Metrics
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	done            chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.Config, logger *logrus.Logger, metrics *Metrics) *ClientRateLimiter {
	if !cfg.RateLimit.Enabled {
		return &ClientRateLimiter{enabled: false}
	}

	rl := &ClientRateLimiter{
		enabled:         true,
		limiters:        make(map[string]*clientLimiter),
		rpm:             cfg.RateLimit.RequestsPerMinute,
		burst:           cfg.RateLimit.Burst,
		logger:          logger,
		metrics:         metrics,
		idleTimeout:     10 * time.Minute,
		cleanupInterval: time.Minute,
		done:            make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// Allow checks if a client is allowed to make a request
func (r *ClientRateLimiter) Allow(clientID string) bool {
	if !r.enabled {
		return true
	}

	allowed := r.getLimiter(clientID).Allow()
	if !allowed {
		r.logger.WithFields(logrus.Fields{
			"client": clientID,
		}).Warn("Rate limit exceeded")
		if r.metrics != nil {
			r.metrics.RecordRateLimitExceeded()
		}
	}

	return allowed
}

// Reset resets the rate limiter for a client
func (r *ClientRateLimiter) Reset(clientID string) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, clientID)
	r.mu.Unlock()
}

// Stop ends the cleanup goroutine.
func (r *ClientRateLimiter) Stop() {
	if !r.enabled {
		return
	}
	r.stopOnce.Do(func() { close(r.done) })
}

// Middleware rejects requests over the limit with reject.
func (r *ClientRateLimiter) Middleware(reject http.HandlerFunc) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.Allow(ClientID(req)) {
				reject(w, req)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// ClientID identifies the caller: the first X-Forwarded-For hop, else the
// remote host.
func ClientID(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// getLimiter gets or creates a rate limiter for a client
func (r *ClientRateLimiter) getLimiter(clientID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cl, exists := r.limiters[clientID]; exists {
		cl.lastSeen = time.Now()
		return cl.limiter
	}

	// Rate per second = RPM / 60
	rps := float64(r.rpm) / 60.0
	cl := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(rps), r.burst),
		lastSeen: time.Now(),
	}
	r.limiters[clientID] = cl

	return cl.limiter
}

// cleanup removes limiters idle for longer than idleTimeout
func (r *ClientRateLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			for id, cl := range r.limiters {
				if now.Sub(cl.lastSeen) > r.idleTimeout {
					delete(r.limiters, id)
				}
			}
			r.mu.Unlock()
		}
	}
}

// SecurityMiddleware provides security checks
type SecurityMiddleware struct {
	logger   *logrus.Logger
	maxRunes int
}

// NewSecurityMiddleware creates security middleware
func NewSecurityMiddleware(logger *logrus.Logger) *SecurityMiddleware {
	return &SecurityMiddleware{
		logger:   logger,
		maxRunes: 4000,
	}
}

// ValidateInput performs input validation on free text sent by users
func (s *SecurityMiddleware) ValidateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message is empty")
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(text); n > s.maxRunes {
		s.logger.WithField("length", n).Warn("Rejected oversized message")
		return fmt.Errorf("message too long: %d characters", n)
	}
	return nil
}
