package httpapi

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"govqueue/internal/auth"
	"govqueue/internal/queue"
	"govqueue/internal/report"
	"govqueue/internal/store"
)

type registerRequest struct {
	FullName  string `json:"full_name"`
	Phone     string `json:"phone"`
	CitizenID string `json:"citizen_id"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type generateTokenRequest struct {
	CitizenID   string `json:"citizen_id"`
	ServiceType string `json:"service_type"`
	Priority    bool   `json:"priority"`
	Notes       string `json:"notes"`
}

type statusRequest struct {
	Status    string `json:"status"`
	CounterID *int64 `json:"counter_id"`
}

type createCounterRequest struct {
	Name        string   `json:"name"`
	IsActive    *bool    `json:"is_active"`
	OfficerID   string   `json:"officer_id"`
	OfficerName string   `json:"officer_name"`
	Services    []string `json:"services"`
}

type updateCounterRequest struct {
	Name        *string   `json:"name"`
	IsActive    *bool     `json:"is_active"`
	OfficerID   *string   `json:"officer_id"`
	OfficerName *string   `json:"officer_name"`
	Services    *[]string `json:"services"`
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	profile, err := h.accounts.Register(r.Context(), auth.RegisterInput{
		FullName:  strings.TrimSpace(req.FullName),
		Phone:     strings.TrimSpace(req.Phone),
		CitizenID: strings.TrimSpace(req.CitizenID),
		Password:  req.Password,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	if !h.limiter.AllowLogin(req.Phone) {
		writeError(w, requestIDFromContext(r.Context()), http.StatusTooManyRequests, "rate_limited", "too many login attempts")
		return
	}
	result, err := h.accounts.Login(r.Context(), req.Phone, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := h.accounts.Me(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	var req generateTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := h.queue.GenerateToken(r.Context(), queue.GenerateInput{
		CitizenID:   strings.TrimSpace(req.CitizenID),
		ServiceType: strings.TrimSpace(req.ServiceType),
		Priority:    req.Priority,
		Notes:       strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (h *Handler) handleListTokens(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := queue.ListFilter{
		Statuses:     splitList(query.Get("status")),
		ServiceTypes: splitList(query.Get("service_type")),
		CitizenID:    strings.TrimSpace(query.Get("citizen_id")),
		Search:       strings.TrimSpace(query.Get("q")),
	}
	requestID := requestIDFromContext(r.Context())
	if raw := strings.TrimSpace(query.Get("counter_id")); raw != "" {
		counterID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "counter_id must be an integer")
			return
		}
		filter.CounterID = &counterID
	}
	day, err := parseDay(query.Get("date"), h.location)
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	filter.Day = day
	if raw := strings.TrimSpace(query.Get("recent")); raw != "" {
		recent, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "recent must be a boolean")
			return
		}
		filter.Recent = recent
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}
		filter.Limit = limit
	}

	tokens, err := h.queue.ListTokens(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleGetToken(w http.ResponseWriter, r *http.Request) {
	view, err := h.queue.GetToken(r.Context(), chi.URLParam(r, "tokenID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.queue.Notifications(r.Context(), chi.URLParam(r, "tokenID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := h.queue.UpdateTokenStatus(r.Context(), chi.URLParam(r, "tokenID"), req.Status, req.CounterID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	counterID, ok := pathInt64(w, r, "counterID")
	if !ok {
		return
	}
	token, err := h.queue.CallNext(r.Context(), counterID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleListCounters(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, requestIDFromContext(r.Context()), http.StatusBadRequest, "invalid_request", "active must be a boolean")
			return
		}
		activeOnly = value
	}
	counters, err := h.queue.ListCounters(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

func (h *Handler) handleCreateCounter(w http.ResponseWriter, r *http.Request) {
	var req createCounterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	counter, err := h.queue.CreateCounter(r.Context(), queue.CounterInput{
		Name:        strings.TrimSpace(req.Name),
		IsActive:    active,
		OfficerID:   strings.TrimSpace(req.OfficerID),
		OfficerName: strings.TrimSpace(req.OfficerName),
		Services:    req.Services,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, counter)
}

func (h *Handler) handleUpdateCounter(w http.ResponseWriter, r *http.Request) {
	counterID, ok := pathInt64(w, r, "counterID")
	if !ok {
		return
	}
	var req updateCounterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	update := store.CounterUpdate{
		Name:        req.Name,
		IsActive:    req.IsActive,
		OfficerID:   req.OfficerID,
		OfficerName: req.OfficerName,
	}
	if req.Services != nil {
		update.Services = *req.Services
		if update.Services == nil {
			update.Services = []string{}
		}
	}
	counter, err := h.queue.UpdateCounter(r.Context(), counterID, update)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counter)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r.URL.Query().Get("date"), h.location)
	if err != nil {
		writeError(w, requestIDFromContext(r.Context()), http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	view, err := h.queue.Stats(r.Context(), day)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleBoard(w http.ResponseWriter, r *http.Request) {
	board, err := h.queue.Board(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.accounts.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	profile, err := h.accounts.SetRole(r.Context(), chi.URLParam(r, "profileID"), strings.TrimSpace(req.Role))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromContext(r.Context())
	day, err := parseDay(r.URL.Query().Get("date"), h.location)
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "format must be csv or xlsx")
		return
	}

	tokens, stats, err := h.queue.DailyTokens(r.Context(), day)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reportDay, err := time.Parse("2006-01-02", stats.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	daily := report.Daily{Date: reportDay, Stats: stats, Tokens: tokens}

	var body []byte
	contentType := "text/csv"
	if format == "xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		body, err = report.XLSX(daily)
	} else {
		var buf bytes.Buffer
		err = report.WriteCSV(&buf, daily)
		body = buf.Bytes()
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+daily.Filename(format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
