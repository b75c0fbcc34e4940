package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ridou/marketsync/internal/middleware"
	"github.com/ridou/marketsync/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// State of the scheduler.
type State int

const (
	Idle State = iota
	Polling
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrStopped       = errors.New("scheduler is stopped")
	ErrAlreadyActive = errors.New("scheduler already started")
	ErrCycleInFlight = errors.New("a poll cycle is already running")
)

// Snapshotter produces one poll cycle's data.
type Snapshotter interface {
	Snapshot(ctx context.Context) models.PollResult
}

// Connectivity reports network reachability and its transitions.
type Connectivity interface {
	Online() bool
	OnChange(fn func(online bool))
}

// UnreadCounter derives the unread news count.
type UnreadCounter interface {
	Observe(items []models.NewsItem) int
	MarkSeenID(id string)
	Count() int
}

// Scheduler re-runs Snapshot on a fixed interval while online and publishes
// every completed cycle as one DashboardState swap.
type Scheduler struct {
	source   Snapshotter
	conn     Connectivity
	unread   UnreadCounter
	interval time.Duration

	cron *cron.Cron
	ctx  context.Context

	mu         sync.Mutex
	state      State
	generation uint64

	inFlight  atomic.Bool
	dashboard atomic.Pointer[DashboardState]
	wg        sync.WaitGroup

	logger  *logrus.Logger
	metrics *middleware.Metrics
}

// New creates a scheduler in the Idle state. interval defaults to 30s.
func New(source Snapshotter, conn Connectivity, unread UnreadCounter, interval time.Duration, logger *logrus.Logger, metrics *middleware.Metrics) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s := &Scheduler{
		source:   source,
		conn:     conn,
		unread:   unread,
		interval: interval,
		cron:     cron.New(cron.WithLogger(cronLogger{logger: logger})),
		ctx:      context.Background(),
		logger:   logger,
		metrics:  metrics,
	}

	initial := EmptyState(conn.Online())
	s.dashboard.Store(&initial)
	conn.OnChange(s.onConnectivity)

	return s
}

// Start fires one cycle immediately, then one every interval. Starting while
// offline enters Paused until connectivity returns.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Stopped:
		s.mu.Unlock()
		return ErrStopped
	case Polling, Paused:
		s.mu.Unlock()
		return ErrAlreadyActive
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.tick); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to schedule poll cycle: %w", err)
	}

	s.ctx = ctx
	online := s.conn.Online()
	if online {
		s.state = Polling
	} else {
		s.state = Paused
	}
	s.mu.Unlock()

	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"interval": s.interval.String(),
		"state":    s.State().String(),
	}).Info("Poll scheduler started")

	if online {
		s.trigger()
	}
	return nil
}

// Stop clears the schedule. Cycles still running complete but their results
// are discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	wasActive := s.state != Idle
	s.state = Stopped
	s.generation++
	s.mu.Unlock()

	if wasActive {
		<-s.cron.Stop().Done()
	}
	s.logger.Info("Poll scheduler stopped")
}

// Wait blocks until background cycles have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// State returns the scheduler state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Online reports current connectivity.
func (s *Scheduler) Online() bool {
	return s.conn.Online()
}

// Dashboard returns the latest published state.
func (s *Scheduler) Dashboard() DashboardState {
	return *s.dashboard.Load()
}

// Unread returns the current unread news count.
func (s *Scheduler) Unread() int {
	return s.unread.Count()
}

// MarkSeen acknowledges the news up to id, or up to the current head when id
// is empty, and republishes the state.
func (s *Scheduler) MarkSeen(id string) {
	s.unread.MarkSeenID(id)
	s.update(func(st *DashboardState) {
		st.Unread = s.unread.Count()
	})
}

// RunOnce runs one cycle synchronously regardless of schedule and returns the
// published state.
func (s *Scheduler) RunOnce(ctx context.Context) (DashboardState, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.record("skipped", 0)
		return s.Dashboard(), ErrCycleInFlight
	}
	defer s.inFlight.Store(false)

	if !s.cycle(ctx, s.currentGeneration()) {
		return s.Dashboard(), ErrStopped
	}
	return s.Dashboard(), nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state != Polling {
		s.record(state.String(), 0)
		return
	}
	if !s.conn.Online() {
		s.onConnectivity(false)
		return
	}
	s.trigger()
}

// trigger starts a background cycle unless one is in flight.
func (s *Scheduler) trigger() {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("Previous poll cycle still running, skipping tick")
		s.record("skipped", 0)
		return
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	gen := s.currentGeneration()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.cycle(ctx, gen)
	}()
}

// cycle fetches one snapshot and publishes it unless the scheduler was
// stopped in the meantime.
func (s *Scheduler) cycle(ctx context.Context, gen uint64) bool {
	start := time.Now()
	result := s.source.Snapshot(ctx)

	s.mu.Lock()
	if s.generation != gen || s.state == Stopped {
		s.mu.Unlock()
		s.logger.Debug("Discarding poll result that finished after stop")
		s.record("discarded", time.Since(start))
		return false
	}

	current := s.dashboard.Load()
	next := ApplyPollResult(*current, result)
	next.Unread = s.unread.Observe(next.News)
	next.Online = s.conn.Online()
	s.dashboard.Store(&next)
	s.mu.Unlock()

	duration := time.Since(start)
	s.record("completed", duration)
	s.logger.WithFields(logrus.Fields{
		"news":     len(next.News),
		"indices":  len(next.Indices),
		"posts":    len(next.Posts),
		"sectors":  len(next.Sectors),
		"unread":   next.Unread,
		"duration": duration.String(),
	}).Debug("Poll cycle completed")
	return true
}

func (s *Scheduler) onConnectivity(online bool) {
	s.mu.Lock()
	resume := false
	switch {
	case !online && s.state == Polling:
		s.state = Paused
		s.logger.Warn("Network offline, pausing polling")
	case online && s.state == Paused:
		s.state = Polling
		resume = true
		s.logger.Info("Network restored, resuming polling")
	}
	s.mu.Unlock()

	s.update(func(st *DashboardState) {
		st.Online = online
	})

	if resume {
		s.trigger()
	}
}

func (s *Scheduler) update(fn func(st *DashboardState)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.dashboard.Load()
	fn(&next)
	s.dashboard.Store(&next)
}

func (s *Scheduler) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Scheduler) record(outcome string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordPollCycle(outcome, d)
	}
}

// cronLogger routes cron's own logging through logrus.
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
