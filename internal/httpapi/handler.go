package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"govqueue/internal/auth"
	"govqueue/internal/display"
	"govqueue/internal/metrics"
	"govqueue/internal/models"
	"govqueue/internal/queue"
	"govqueue/internal/store"
)

// QueueService is the token and counter surface the handlers drive.
type QueueService interface {
	GenerateToken(ctx context.Context, input queue.GenerateInput) (models.Token, error)
	UpdateTokenStatus(ctx context.Context, tokenID, status string, counterID *int64) (models.Token, error)
	CallNext(ctx context.Context, counterID int64) (models.Token, error)
	GetToken(ctx context.Context, tokenID string) (queue.TokenView, error)
	ListTokens(ctx context.Context, filter queue.ListFilter) ([]models.Token, error)
	Notifications(ctx context.Context, tokenID string) ([]models.Notification, error)
	Stats(ctx context.Context, asOf time.Time) (queue.StatsView, error)
	Board(ctx context.Context) (display.Board, error)
	DailyTokens(ctx context.Context, day time.Time) ([]models.Token, models.QueueStats, error)
	ListCounters(ctx context.Context, activeOnly bool) ([]models.Counter, error)
	CreateCounter(ctx context.Context, input queue.CounterInput) (models.Counter, error)
	UpdateCounter(ctx context.Context, counterID int64, update store.CounterUpdate) (models.Counter, error)
}

// AccountService covers registration, login and role management.
type AccountService interface {
	Register(ctx context.Context, input auth.RegisterInput) (models.Profile, error)
	Login(ctx context.Context, phone, password string) (auth.LoginResult, error)
	Me(ctx context.Context) (models.Profile, error)
	ListUsers(ctx context.Context) ([]models.Profile, error)
	SetRole(ctx context.Context, profileID, role string) (models.Profile, error)
}

type Handler struct {
	queue    QueueService
	accounts AccountService
	parser   TokenParser
	identity Identity
	limiter  *RateLimiter
	location *time.Location
	logger   *zap.Logger
}

type Options struct {
	RateLimit RateLimitConfig
	// Location is the queue's time zone; date query parameters name days in
	// it. Defaults to UTC.
	Location *time.Location
	// Identity, when set, re-resolves every authenticated caller.
	Identity Identity
	Logger   *zap.Logger
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(queue QueueService, accounts AccountService, parser TokenParser, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	location := options.Location
	if location == nil {
		location = time.UTC
	}
	return &Handler{
		queue:    queue,
		accounts: accounts,
		parser:   parser,
		identity: options.Identity,
		limiter:  NewRateLimiter(options.RateLimit),
		location: location,
		logger:   logger,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(metrics.Instrument)
	r.Use(LoggingMiddleware(h.logger))
	r.Use(h.limiter.Middleware)
	r.Use(MaxBodyBytes)
	r.Use(AuthMiddleware(h.parser, h.identity))

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/api/display", h.handleBoard)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
		r.With(requireRole()).Get("/me", h.handleMe)
	})

	r.Route("/api/tokens", func(r chi.Router) {
		r.With(requireRole(models.RoleCitizen, models.RoleAdmin)).Post("/", h.handleGenerateToken)
		r.With(requireRole()).Get("/", h.handleListTokens)
		r.With(requireRole()).Get("/{tokenID}", h.handleGetToken)
		r.With(requireRole(models.RoleOfficer, models.RoleAdmin)).Get("/{tokenID}/notifications", h.handleNotifications)
		r.With(requireRole(models.RoleOfficer, models.RoleAdmin)).Post("/{tokenID}/status", h.handleUpdateStatus)
	})

	r.Route("/api/counters", func(r chi.Router) {
		r.With(requireRole()).Get("/", h.handleListCounters)
		r.With(requireRole(models.RoleAdmin)).Post("/", h.handleCreateCounter)
		r.With(requireRole(models.RoleAdmin)).Patch("/{counterID}", h.handleUpdateCounter)
		r.With(requireRole(models.RoleOfficer, models.RoleAdmin)).Post("/{counterID}/call-next", h.handleCallNext)
	})

	r.With(requireRole()).Get("/api/stats", h.handleStats)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(requireRole(models.RoleAdmin))
		r.Get("/users", h.handleListUsers)
		r.Post("/users/{profileID}/role", h.handleSetRole)
	})

	r.With(requireRole(models.RoleAdmin)).Get("/api/reports/daily", h.handleDailyReport)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("request_id", requestIDFromContext(r.Context())), zap.Error(err))
	}
	writeError(w, requestIDFromContext(r.Context()), status, code, msg)
}

// decodeJSON rejects unknown fields and bodies that are not a single object.
func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromContext(r.Context()), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	value, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || value <= 0 {
		writeError(w, requestIDFromContext(r.Context()), http.StatusBadRequest, "invalid_request", name+" must be a positive integer")
		return 0, false
	}
	return value, true
}

// parseDay reads YYYY-MM-DD as noon of that day in loc. An empty value is the
// zero time.
func parseDay(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	day, err := time.ParseInLocation("2006-01-02", value, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, loc), nil
}

func splitList(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrUnauthenticated), errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized", "authentication required"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid phone or password"
	case errors.Is(err, queue.ErrValidation), errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrInvalidRole):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, queue.ErrForbidden):
		return http.StatusForbidden, "forbidden", "not permitted"
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, store.ErrProfileNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, queue.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", err.Error()
	case errors.Is(err, queue.ErrCounterUnavailable):
		return http.StatusConflict, "counter_unavailable", err.Error()
	case errors.Is(err, queue.ErrQueueEmpty):
		return http.StatusConflict, "queue_empty", "no waiting tokens"
	case errors.Is(err, store.ErrDuplicatePhone):
		return http.StatusConflict, "duplicate_phone", "phone already registered"
	case errors.Is(err, queue.ErrUpstream):
		return http.StatusInternalServerError, "upstream_error", "storage unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
