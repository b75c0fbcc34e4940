package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/i18n"
	"github.com/ridou/marketsync/internal/middleware"
	"github.com/ridou/marketsync/internal/models"
	"github.com/ridou/marketsync/internal/services/cache"
	"github.com/ridou/marketsync/internal/services/retry"
	"github.com/ridou/marketsync/internal/services/upstream"
	"github.com/ridou/marketsync/pkg/logger"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Cache keys
const (
	keyNews    = "news"
	keyIndices = "indices"
	keySectors = "sectors"
	keyPosts   = "posts"
	keyStock   = "stock:"
)

// ErrInvalidPost is returned by CreatePost for a post without title or body.
var ErrInvalidPost = errors.New("post requires a title and content")

// NewsSource is the news adapter.
type NewsSource interface {
	Latest(ctx context.Context) ([]models.NewsItem, error)
}

// IndexSource is the quote adapter used for headline indices.
type IndexSource interface {
	Index(ctx context.Context, symbol config.IndexSymbol) (models.MarketIndex, error)
}

// StockSource is the stock detail adapter.
type StockSource interface {
	Quote(ctx context.Context, symbol string) (*upstream.Quote, error)
	History(ctx context.Context, symbol string) ([]models.HistoryPoint, error)
}

// SectorSource is the sector ranking adapter.
type SectorSource interface {
	Top(ctx context.Context) ([]models.Sector, error)
}

// ContentStore is the row store for posts and applications.
type ContentStore interface {
	ListPosts(ctx context.Context) ([]models.Post, error)
	InsertPost(ctx context.Context, post models.Post) (*models.Post, error)
	DeletePost(ctx context.Context, id string) error
	InsertApplication(ctx context.Context, app models.Application) error
}

// Sources bundles the adapters the aggregator reads from.
type Sources struct {
	News    NewsSource
	Indices IndexSource
	Stocks  StockSource
	Sectors SectorSource
	Store   ContentStore
}

// Options carries the optional collaborators.
type Options struct {
	Indices      []config.IndexSymbol
	Logger       *logrus.Logger
	Metrics      *middleware.Metrics
	Localizer    *i18n.Localizer
	Now          func() time.Time
	NewReference func() string
}

// Aggregator serves the dashboard's reads and writes. Reads are cached,
// retried and never fail; they degrade to the last cached value and then to
// seed data.
type Aggregator struct {
	cache     cache.Service
	policy    *retry.Policy
	src       Sources
	indices   []config.IndexSymbol
	logger    *logrus.Logger
	metrics   *middleware.Metrics
	localizer *i18n.Localizer
	now       func() time.Time
	newRef    func() string

	// flight collapses concurrent cache misses on the same key into one
	// upstream call.
	flight singleflight.Group
}

// New creates the aggregator
func New(c cache.Service, policy *retry.Policy, src Sources, opts Options) *Aggregator {
	a := &Aggregator{
		cache:     c,
		policy:    policy,
		src:       src,
		indices:   opts.Indices,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		localizer: opts.Localizer,
		now:       opts.Now,
		newRef:    opts.NewReference,
	}
	if a.logger == nil {
		a.logger = logrus.StandardLogger()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.newRef == nil {
		a.newRef = func() string { return uuid.NewString() }
	}
	return a
}

// FetchNews returns the latest flash news, newest first.
func (a *Aggregator) FetchNews(ctx context.Context) []models.NewsItem {
	return read(ctx, a, keyNews, upstream.SourceNews, func(ctx context.Context) ([]models.NewsItem, error) {
		items, err := a.src.News.Latest(ctx)
		if err == nil && len(items) == 0 {
			err = errEmpty(upstream.SourceNews)
		}
		return items, err
	}, func() []models.NewsItem { return seedNews(a.now()) })
}

// FetchMarketIndices returns the configured headline indices. The set is
// replaced as a whole or not at all.
func (a *Aggregator) FetchMarketIndices(ctx context.Context) []models.MarketIndex {
	return read(ctx, a, keyIndices, upstream.SourceQuotes, a.fetchIndices, seedIndices)
}

func (a *Aggregator) fetchIndices(ctx context.Context) ([]models.MarketIndex, error) {
	results := make([]*models.MarketIndex, len(a.indices))

	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range a.indices {
		i, symbol := i, symbol
		g.Go(func() error {
			idx, err := a.src.Indices.Index(gctx, symbol)
			if errors.Is(err, upstream.ErrNoQuote) {
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = &idx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	indices := make([]models.MarketIndex, 0, len(results))
	for _, idx := range results {
		if idx != nil {
			indices = append(indices, *idx)
		}
	}
	if len(indices) == 0 {
		return nil, errEmpty(upstream.SourceQuotes)
	}
	return indices, nil
}

// FetchSectors returns the hot sector board.
func (a *Aggregator) FetchSectors(ctx context.Context) []models.Sector {
	return read(ctx, a, keySectors, upstream.SourceSectors, func(ctx context.Context) ([]models.Sector, error) {
		sectors, err := a.src.Sectors.Top(ctx)
		if err == nil && len(sectors) == 0 {
			err = errEmpty(upstream.SourceSectors)
		}
		return sectors, err
	}, seedSectors)
}

// FetchPosts returns published forum posts, newest first.
func (a *Aggregator) FetchPosts(ctx context.Context) []models.Post {
	return read(ctx, a, keyPosts, upstream.SourceStore, func(ctx context.Context) ([]models.Post, error) {
		posts, err := a.src.Store.ListPosts(ctx)
		if err == nil && len(posts) == 0 {
			err = errEmpty(upstream.SourceStore)
		}
		return posts, err
	}, seedPosts)
}

// FetchStockData returns the quote and intraday history for symbol. The
// boolean is false when no quote, fresh or stale, is available. Symbols are
// passed to the adapter as given; only the cache key is normalized.
func (a *Aggregator) FetchStockData(ctx context.Context, symbol string) (*models.StockSnapshot, bool) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, false
	}
	key := keyStock + upstream.SecID(symbol)

	var snap models.StockSnapshot
	if a.cache.Get(ctx, key, &snap) {
		return &snap, true
	}

	v, _, _ := a.flight.Do(key, func() (interface{}, error) {
		var cached models.StockSnapshot
		if a.cache.Get(ctx, key, &cached) {
			return &cached, nil
		}
		return a.loadStock(ctx, key, symbol), nil
	})
	loaded, _ := v.(*models.StockSnapshot)
	if loaded == nil {
		return nil, false
	}
	snap = *loaded
	return &snap, true
}

func (a *Aggregator) loadStock(ctx context.Context, key, symbol string) *models.StockSnapshot {
	var quote *upstream.Quote
	err := a.policy.Do(ctx, upstream.SourceStock, func(ctx context.Context) error {
		q, err := a.src.Stocks.Quote(ctx, symbol)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		a.logFailure(upstream.SourceStock, err)
		var stale models.StockSnapshot
		if a.cache.Stale(ctx, key, &stale) {
			a.recordFallback(key, "stale")
			return &stale
		}
		a.recordFallback(key, "none")
		return nil
	}

	snap := &models.StockSnapshot{
		Symbol:        symbol,
		Name:          quote.Name,
		Price:         quote.Price,
		ChangePercent: quote.ChangePercent,
		History:       []models.HistoryPoint{},
		HistorySource: models.HistoryUnavailable,
	}

	var history []models.HistoryPoint
	err = a.policy.Do(ctx, upstream.SourceHistory, func(ctx context.Context) error {
		h, err := a.src.Stocks.History(ctx, symbol)
		if err != nil {
			return err
		}
		history = h
		return nil
	})
	switch {
	case err != nil:
		a.logFailure(upstream.SourceHistory, err)
	case len(history) > 0:
		snap.History = history
		snap.HistorySource = models.HistoryIntraday
	}

	a.store(ctx, key, *snap, 0)
	return snap
}

// SubmitApplication stores a membership application. Persistence is best
// effort: a store failure still reports success with Warning set. Only an
// incomplete application is rejected.
func (a *Aggregator) SubmitApplication(ctx context.Context, app models.Application) models.SubmitResult {
	app.Name = strings.TrimSpace(app.Name)
	app.Phone = normalizePhone(app.Phone)
	if app.Name == "" || !validPhone(app.Phone) {
		return a.result(false, false, i18n.MsgApplicationRejected, "")
	}

	ref := a.newRef()
	log := a.logger.WithField("reference", ref)

	err := a.policy.Do(ctx, upstream.SourceStore, func(ctx context.Context) error {
		return a.src.Store.InsertApplication(ctx, app)
	})
	if err != nil {
		log.WithError(err).Warn("Application not persisted, reporting deferred success")
		return a.result(true, true, i18n.MsgApplicationDeferred, ref)
	}

	log.Info("Application stored")
	return a.result(true, false, i18n.MsgApplicationReceived, ref)
}

// CreatePost inserts a post. Errors are returned to the caller.
func (a *Aggregator) CreatePost(ctx context.Context, post models.Post) (*models.Post, error) {
	post.Title = strings.TrimSpace(post.Title)
	if post.Title == "" || strings.TrimSpace(post.Content) == "" {
		return nil, ErrInvalidPost
	}
	if post.Status == "" {
		post.Status = "published"
	}
	if post.Timestamp == "" {
		post.Timestamp = a.now().Format("2006-01-02")
	}
	if post.Tags == nil {
		post.Tags = []string{}
	}

	created, err := a.src.Store.InsertPost(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	a.invalidate(ctx, keyPosts)
	a.logger.WithField("post_id", created.ID).Info("Post created")
	return created, nil
}

// DeletePost removes a post. Errors are returned to the caller.
func (a *Aggregator) DeletePost(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return upstream.ErrNotFound
	}

	err := a.policy.Do(ctx, upstream.SourceStore, func(ctx context.Context) error {
		return a.src.Store.DeletePost(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete post %s: %w", id, err)
	}

	a.invalidate(ctx, keyPosts)
	a.logger.WithField("post_id", id).Info("Post deleted")
	return nil
}

// Snapshot runs one poll cycle: news, indices, posts and sectors are fetched
// concurrently and returned together once all of them settled.
func (a *Aggregator) Snapshot(ctx context.Context) models.PollResult {
	var result models.PollResult

	var g errgroup.Group
	g.Go(func() error {
		result.News = a.FetchNews(ctx)
		return nil
	})
	g.Go(func() error {
		result.Indices = a.FetchMarketIndices(ctx)
		return nil
	})
	g.Go(func() error {
		result.Posts = a.FetchPosts(ctx)
		return nil
	})
	g.Go(func() error {
		result.Sectors = a.FetchSectors(ctx)
		return nil
	})
	_ = g.Wait()

	result.FetchedAt = a.now()
	return result
}

// read is the shared cache → retry → stale → seed path. Concurrent misses on
// the same key share one load.
func read[T any](ctx context.Context, a *Aggregator, key, source string, fetch func(ctx context.Context) (T, error), seed func() T) T {
	var cached T
	if a.cache.Get(ctx, key, &cached) {
		return cached
	}

	v, _, _ := a.flight.Do(key, func() (interface{}, error) {
		// A load that finished between the miss above and joining the
		// flight has already filled the cache.
		var cached T
		if a.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
		return load(ctx, a, key, source, fetch, seed), nil
	})
	return v.(T)
}

func load[T any](ctx context.Context, a *Aggregator, key, source string, fetch func(ctx context.Context) (T, error), seed func() T) T {
	var fresh T
	err := a.policy.Do(ctx, source, func(ctx context.Context) error {
		v, err := fetch(ctx)
		if err != nil {
			return err
		}
		fresh = v
		return nil
	})
	if err == nil {
		a.store(ctx, key, fresh, 0)
		return fresh
	}
	a.logFailure(source, err)

	var stale T
	if a.cache.Stale(ctx, key, &stale) {
		a.recordFallback(key, "stale")
		return stale
	}

	a.recordFallback(key, "seed")
	v := seed()
	a.store(ctx, key, v, seedTTL)
	return v
}

func (a *Aggregator) store(ctx context.Context, key string, payload interface{}, ttl time.Duration) {
	if err := a.cache.Set(ctx, key, payload, ttl); err != nil {
		a.logger.WithError(err).WithField("key", key).Warn("Failed to cache result")
	}
}

func (a *Aggregator) invalidate(ctx context.Context, key string) {
	if err := a.cache.Delete(ctx, key); err != nil {
		a.logger.WithError(err).WithField("key", key).Warn("Failed to invalidate cache")
	}
}

func (a *Aggregator) logFailure(source string, err error) {
	entry := logger.WithUpstream(a.logger, source).WithFields(logrus.Fields{
		"kind":  retry.Classify(err).String(),
		"error": err.Error(),
	})
	// Missing credentials are reported once at startup.
	if retry.Classify(err) == retry.AuthMissing {
		entry.Debug("Upstream not configured, serving fallback")
		return
	}
	entry.Warn("Upstream read failed, serving fallback")
}

func (a *Aggregator) recordFallback(key, origin string) {
	if a.metrics != nil {
		dataset, _, _ := strings.Cut(key, ":")
		a.metrics.RecordFallback(dataset, origin)
	}
}

func (a *Aggregator) result(success, warning bool, messageID, ref string) models.SubmitResult {
	msg := i18n.DefaultText(messageID)
	if a.localizer != nil {
		msg = a.localizer.Default(messageID)
	}
	return models.SubmitResult{
		Success:   success,
		Message:   msg,
		Warning:   warning,
		Reference: ref,
		MessageID: messageID,
	}
}

func errEmpty(source string) error {
	return retry.New(retry.Fatal, source, errors.New("upstream returned no data"))
}

func normalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

func validPhone(phone string) bool {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
