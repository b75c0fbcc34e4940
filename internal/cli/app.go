package cli

import (
	"fmt"

	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/handlers"
	"github.com/ridou/marketsync/internal/i18n"
	"github.com/ridou/marketsync/internal/middleware"
	"github.com/ridou/marketsync/internal/services/aggregator"
	"github.com/ridou/marketsync/internal/services/cache"
	"github.com/ridou/marketsync/internal/services/chat"
	"github.com/ridou/marketsync/internal/services/connectivity"
	"github.com/ridou/marketsync/internal/services/poller"
	"github.com/ridou/marketsync/internal/services/retry"
	"github.com/ridou/marketsync/internal/services/unread"
	"github.com/ridou/marketsync/internal/services/upstream"
	"github.com/ridou/marketsync/pkg/logger"
	"github.com/sirupsen/logrus"
)

// App holds one instance of every service, shared by all commands.
type App struct {
	Config     *config.Config
	Logger     *logrus.Logger
	Metrics    *middleware.Metrics
	Localizer  *i18n.Localizer
	Cache      *cache.Cache
	Monitor    *connectivity.Monitor
	Aggregator *aggregator.Aggregator
	Chat       *chat.Service
	Scheduler  *poller.Scheduler
	Limiter    *middleware.ClientRateLimiter
}

// NewApp loads configuration and wires the services.
func NewApp(configPath string, logOutput string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logOutput != "" && cfg.Logging.Output != "file" {
		cfg.Logging.Output = logOutput
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize i18n: %w", err)
	}

	metrics := middleware.NewMetrics()

	cacheService, err := cache.NewCache(cfg, log, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	policy := retry.NewPolicy(cfg.Retry, log)
	policy.OnRetry = func(source string, attempt int, kind retry.Kind) {
		metrics.RecordRetry(source, kind.String())
	}

	monitor := connectivity.NewMonitor(&cfg.Connectivity, log, metrics)

	deps := upstream.Deps{
		Logger:            log,
		Metrics:           metrics,
		Online:            monitor.Online,
		RequestsPerSecond: cfg.Upstreams.RequestsPerSecond,
		Burst:             cfg.Upstreams.Burst,
	}

	generator, err := upstream.NewGenerator(&cfg.AI, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ai provider: %w", err)
	}

	agg := aggregator.New(cacheService, policy, aggregator.Sources{
		News:    upstream.NewNews(&cfg.Upstreams, deps),
		Indices: upstream.NewQuotes(&cfg.Upstreams, deps),
		Stocks:  upstream.NewStockDetail(&cfg.Upstreams, deps),
		Sectors: upstream.NewSectors(&cfg.Upstreams, deps),
		Store:   upstream.NewContentStore(&cfg.Store, deps),
	}, aggregator.Options{
		Indices:   cfg.Upstreams.Indices,
		Logger:    log,
		Metrics:   metrics,
		Localizer: localizer,
	})

	chatService := chat.NewService(&cfg.AI, generator, policy, localizer, log, metrics)
	tracker := unread.NewTracker(metrics)
	scheduler := poller.New(agg, monitor, tracker, cfg.Polling.Interval, log, metrics)

	warnMissingCredentials(cfg, log)

	return &App{
		Config:     cfg,
		Logger:     log,
		Metrics:    metrics,
		Localizer:  localizer,
		Cache:      cacheService,
		Monitor:    monitor,
		Aggregator: agg,
		Chat:       chatService,
		Scheduler:  scheduler,
		Limiter:    middleware.NewRateLimiter(cfg, log, metrics),
	}, nil
}

// API builds the HTTP handlers
func (a *App) API() *handlers.API {
	return handlers.NewAPI(a.Config, a.Aggregator, a.Chat, a.Scheduler, a.Limiter, a.Localizer, a.Logger, a.Metrics)
}

// Close releases background resources.
func (a *App) Close() {
	a.Scheduler.Stop()
	a.Monitor.Stop()
	a.Limiter.Stop()
	if err := a.Cache.Close(); err != nil {
		a.Logger.WithError(err).Warn("Failed to close cache")
	}
}

// warnMissingCredentials reports configuration gaps once at startup. Calls
// that need them fail as AuthMissing later.
func warnMissingCredentials(cfg *config.Config, log *logrus.Logger) {
	if cfg.AI.APIKey == "" {
		log.WithField("provider", cfg.AI.Provider).Warn("AI API key not configured, chat is unavailable")
	}
	if !cfg.StoreConfigured() {
		log.Warn("Content store not configured, posts fall back to built-in data")
	}
	if cfg.Server.AdminToken == "" {
		log.Warn("Admin token not configured, post management is disabled")
	}
}
