package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Monitor tracks whether the upstream network is reachable by probing a URL
// periodically. Any HTTP response counts as online; only transport failures
// count as offline.
type Monitor struct {
	client   *resty.Client
	probeURL string
	interval time.Duration

	online atomic.Bool

	mu          sync.Mutex
	subscribers []func(online bool)

	cancel context.CancelFunc
	done   chan struct{}

	logger  *logrus.Logger
	metrics *middleware.Metrics
}

// NewMonitor creates a monitor. It starts in the online state.
func NewMonitor(cfg *config.ConnectivityConfig, logger *logrus.Logger, metrics *middleware.Metrics) *Monitor {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	m := &Monitor{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "marketsync/1.0"),
		probeURL: cfg.ProbeURL,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
	m.online.Store(true)
	if metrics != nil {
		metrics.SetOnline(true)
	}
	return m
}

// Online reports the last known connectivity.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// OnChange registers fn to be called on every online/offline transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Set records the connectivity and notifies subscribers when it changed.
func (m *Monitor) Set(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	if m.metrics != nil {
		m.metrics.SetOnline(online)
	}
	if m.logger != nil {
		entry := m.logger.WithField("probe_url", m.probeURL)
		if online {
			entry.Info("Network connectivity restored")
		} else {
			entry.Warn("Network connectivity lost")
		}
	}

	m.mu.Lock()
	subscribers := make([]func(bool), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(online)
	}
}

// Probe performs one reachability check and records its outcome.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.probeURL == "" {
		return m.Online()
	}

	_, err := m.client.R().SetContext(ctx).Head(m.probeURL)
	if err != nil && ctx.Err() != nil {
		return m.Online()
	}
	if err != nil && m.logger != nil {
		m.logger.WithError(err).Debug("Connectivity probe failed")
	}

	up := err == nil
	m.Set(up)
	return up
}

// Start probes immediately and then every probe interval until Stop or ctx
// is cancelled. Without a probe URL the monitor stays online.
func (m *Monitor) Start(ctx context.Context) {
	if m.probeURL == "" || m.done != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.Probe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Probe(ctx)
			}
		}
	}()
}

// Stop ends the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}
