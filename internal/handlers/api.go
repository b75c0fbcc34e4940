package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/i18n"
	"github.com/ridou/marketsync/internal/middleware"
	"github.com/ridou/marketsync/internal/models"
	"github.com/ridou/marketsync/internal/services/aggregator"
	"github.com/ridou/marketsync/internal/services/chat"
	"github.com/ridou/marketsync/internal/services/poller"
	"github.com/ridou/marketsync/internal/services/retry"
	"github.com/ridou/marketsync/internal/services/upstream"
	"github.com/sirupsen/logrus"
)

// DataService is the dashboard data layer.
type DataService interface {
	FetchNews(ctx context.Context) []models.NewsItem
	FetchMarketIndices(ctx context.Context) []models.MarketIndex
	FetchStockData(ctx context.Context, symbol string) (*models.StockSnapshot, bool)
	FetchSectors(ctx context.Context) []models.Sector
	FetchPosts(ctx context.Context) []models.Post
	SubmitApplication(ctx context.Context, app models.Application) models.SubmitResult
	CreatePost(ctx context.Context, post models.Post) (*models.Post, error)
	DeletePost(ctx context.Context, id string) error
}

// ChatService answers chat messages.
type ChatService interface {
	Chat(ctx context.Context, message string, history []models.ChatTurn) (*chat.Reply, error)
}

// Poller exposes the polled dashboard state.
type Poller interface {
	Dashboard() poller.DashboardState
	State() poller.State
	Online() bool
	Unread() int
	MarkSeen(id string)
}

// API serves the dashboard JSON endpoints.
type API struct {
	config      *config.Config
	data        DataService
	chat        ChatService
	poller      Poller
	rateLimiter *middleware.ClientRateLimiter
	security    *middleware.SecurityMiddleware
	localizer   *i18n.Localizer
	logger      *logrus.Logger
	metrics     *middleware.Metrics
}

// NewAPI creates the API handlers
func NewAPI(
	cfg *config.Config,
	data DataService,
	chatService ChatService,
	poll Poller,
	rateLimiter *middleware.ClientRateLimiter,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
	metrics *middleware.Metrics,
) *API {
	return &API{
		config:      cfg,
		data:        data,
		chat:        chatService,
		poller:      poll,
		rateLimiter: rateLimiter,
		security:    middleware.NewSecurityMiddleware(logger),
		localizer:   localizer,
		logger:      logger,
		metrics:     metrics,
	}
}

// Router builds the API routes.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.requestMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	if a.rateLimiter != nil {
		api.Use(a.rateLimiter.Middleware(a.rejectRateLimited))
	}

	api.HandleFunc("/dashboard", a.handleDashboard).Methods(http.MethodGet)
	api.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/news", a.handleNews).Methods(http.MethodGet)
	api.HandleFunc("/news/seen", a.handleNewsSeen).Methods(http.MethodPost)
	api.HandleFunc("/indices", a.handleIndices).Methods(http.MethodGet)
	api.HandleFunc("/stocks/{symbol}", a.handleStock).Methods(http.MethodGet)
	api.HandleFunc("/sectors", a.handleSectors).Methods(http.MethodGet)
	api.HandleFunc("/posts", a.handlePosts).Methods(http.MethodGet)
	api.HandleFunc("/posts", a.requireAdmin(a.handleCreatePost)).Methods(http.MethodPost)
	api.HandleFunc("/posts/{id}", a.requireAdmin(a.handleDeletePost)).Methods(http.MethodDelete)
	api.HandleFunc("/applications", a.handleApplication).Methods(http.MethodPost)
	api.HandleFunc("/chat", a.handleChat).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		a.writeError(w, req, http.StatusNotFound, i18n.MsgNotFound)
	})

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// requestMiddleware tags every request with an id, logs it and records
// its status per route template.
func (a *API) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()

		requestID := req.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		route := "unmatched"
		if current := mux.CurrentRoute(req); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if a.metrics != nil {
			a.metrics.RecordHTTPRequest(route, rec.status)
		}

		a.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     req.Method,
			"route":      route,
			"status":     rec.status,
			"client":     middleware.ClientID(req),
			"duration":   time.Since(start).String(),
		}).Debug("Handled request")
	})
}

func (a *API) rejectRateLimited(w http.ResponseWriter, req *http.Request) {
	a.logger.WithField("client", middleware.ClientID(req)).Warn("Rate limit exceeded")
	a.writeError(w, req, http.StatusTooManyRequests, i18n.MsgRateLimitExceeded)
}

// requireAdmin accepts "Authorization: Bearer <token>" or X-Admin-Token.
// Without a configured token every admin call is refused.
func (a *API) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		expected := a.config.Server.AdminToken
		token := req.Header.Get("X-Admin-Token")
		if bearer, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer "); ok {
			token = strings.TrimSpace(bearer)
		}

		if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			a.logger.WithField("client", middleware.ClientID(req)).Warn("Rejected admin request")
			a.writeError(w, req, http.StatusUnauthorized, i18n.MsgUnauthorized)
			return
		}
		next(w, req)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.WithError(err).Error("Failed to encode response")
	}
}

func (a *API) writeError(w http.ResponseWriter, req *http.Request, status int, messageID string) {
	a.writeJSON(w, status, errorResponse{
		Error:   messageID,
		Message: a.text(req, messageID),
	})
}

// writeFailure maps a service error to a status and localized message.
func (a *API) writeFailure(w http.ResponseWriter, req *http.Request, err error) {
	status, id := classify(err)
	if status >= http.StatusInternalServerError {
		a.logger.WithError(err).WithField("path", req.URL.Path).Error("Request failed")
	}
	a.writeError(w, req, status, id)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, aggregator.ErrInvalidPost), errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, i18n.MsgInvalidRequest
	case errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound, i18n.MsgNotFound
	case errors.Is(err, retry.ErrMissingCredential):
		return http.StatusServiceUnavailable, i18n.MsgConfigMissing
	}

	if id, ok := retry.MessageID(err); ok {
		return http.StatusServiceUnavailable, id
	}

	switch retry.Classify(err) {
	case retry.AuthMissing:
		return http.StatusServiceUnavailable, i18n.MsgConfigMissing
	case retry.Offline:
		return http.StatusServiceUnavailable, i18n.MsgOffline
	case retry.RateLimited, retry.QuotaExhausted:
		return http.StatusServiceUnavailable, i18n.MsgQuotaExhausted
	}
	return http.StatusBadGateway, i18n.MsgInternalError
}

func (a *API) text(req *http.Request, messageID string) string {
	if a.localizer == nil {
		return i18n.DefaultText(messageID)
	}
	return a.localizer.Get(req.Header.Get("Accept-Language"), messageID, nil)
}

func (a *API) decode(w http.ResponseWriter, req *http.Request, dst interface{}) bool {
	req.Body = http.MaxBytesReader(w, req.Body, 1<<20)
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		a.logger.WithError(err).Debug("Malformed request body")
		a.writeError(w, req, http.StatusBadRequest, i18n.MsgInvalidRequest)
		return false
	}
	return true
}
