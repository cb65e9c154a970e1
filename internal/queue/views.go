package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"govqueue/internal/display"
	"govqueue/internal/models"
	"govqueue/internal/stats"
	"govqueue/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// TokenView is a token plus its place in line while waiting.
type TokenView struct {
	models.Token
	Position int `json:"position,omitempty"`
}

type ListFilter struct {
	Statuses     []string
	ServiceTypes []string
	CitizenID    string
	CounterID    *int64
	Day          time.Time
	Search       string
	Recent       bool
	Limit        int
}

type StatsView struct {
	models.QueueStats
	PeakQueueSize int `json:"peak_queue_size"`
}

type CounterInput struct {
	Name        string
	IsActive    bool
	OfficerID   string
	OfficerName string
	Services    []string
}

// GetToken returns a token with its waiting position. Citizens only see their
// own tokens.
func (e *Engine) GetToken(ctx context.Context, tokenID string) (TokenView, error) {
	user, err := e.authorize(ctx)
	if err != nil {
		return TokenView{}, err
	}
	token, err := e.store.GetToken(ctx, strings.TrimSpace(tokenID))
	if err != nil {
		return TokenView{}, mapStoreError(err)
	}
	if user.Role == models.RoleCitizen && token.CitizenID != user.ID {
		return TokenView{}, fmt.Errorf("%w: token belongs to another citizen", ErrForbidden)
	}
	view := TokenView{Token: token}
	if token.Status == models.StatusWaiting {
		waiting, err := e.store.ListTokens(ctx, store.TokenFilter{Statuses: []string{models.StatusWaiting}})
		if err != nil {
			return TokenView{}, fmt.Errorf("%w: list waiting tokens: %w", ErrUpstream, err)
		}
		view.Position = 1
		for _, other := range waiting {
			if other.Number < token.Number {
				view.Position++
			}
		}
	}
	return view, nil
}

// ListTokens searches tokens. Citizens are limited to their own.
func (e *Engine) ListTokens(ctx context.Context, filter ListFilter) ([]models.Token, error) {
	user, err := e.authorize(ctx)
	if err != nil {
		return nil, err
	}
	for _, status := range filter.Statuses {
		if !models.ValidStatus(status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
		}
	}
	for _, serviceType := range filter.ServiceTypes {
		if !models.ValidServiceType(serviceType) {
			return nil, fmt.Errorf("%w: unknown service type %q", ErrValidation, serviceType)
		}
	}
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrValidation)
	}
	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	query := store.TokenFilter{
		Statuses:     filter.Statuses,
		ServiceTypes: filter.ServiceTypes,
		CitizenID:    strings.TrimSpace(filter.CitizenID),
		CounterID:    filter.CounterID,
		Search:       strings.TrimSpace(filter.Search),
		Limit:        filter.Limit,
	}
	if user.Role == models.RoleCitizen {
		query.CitizenID = user.ID
	}
	if !filter.Day.IsZero() {
		query.CreatedFrom, query.CreatedTo = stats.DayWindow(filter.Day.In(e.schedule.location()))
	}
	if filter.Recent {
		query.Order = store.OrderRecentDesc
	}
	tokens, err := e.store.ListTokens(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list tokens: %w", ErrUpstream, err)
	}
	return tokens, nil
}

// Stats computes the stats of asOf's day. The zero time means today.
func (e *Engine) Stats(ctx context.Context, asOf time.Time) (StatsView, error) {
	if asOf.IsZero() {
		asOf = e.now()
	} else {
		asOf = asOf.In(e.schedule.location())
	}
	current, err := e.computeStats(ctx, asOf)
	if err != nil {
		return StatsView{}, err
	}
	view := StatsView{QueueStats: current, PeakQueueSize: current.Waiting}
	saved, err := e.store.GetDailyStats(ctx, asOf)
	switch {
	case err == nil:
		if saved.PeakQueueSize > view.PeakQueueSize {
			view.PeakQueueSize = saved.PeakQueueSize
		}
	case errors.Is(err, store.ErrStatsNotFound):
	default:
		return StatsView{}, fmt.Errorf("%w: daily stats: %w", ErrUpstream, err)
	}
	return view, nil
}

// Board is the public display. It needs no identity.
func (e *Engine) Board(ctx context.Context) (display.Board, error) {
	now := e.now()
	active, err := e.store.ListTokens(ctx, store.TokenFilter{Statuses: []string{models.StatusWaiting, models.StatusServing}})
	if err != nil {
		return display.Board{}, fmt.Errorf("%w: list tokens: %w", ErrUpstream, err)
	}
	counters, err := e.store.ListCounters(ctx, false)
	if err != nil {
		return display.Board{}, fmt.Errorf("%w: list counters: %w", ErrUpstream, err)
	}
	current, err := e.computeStats(ctx, now)
	if err != nil {
		return display.Board{}, err
	}
	return display.Build(e.display, active, counters, current, now), nil
}

// DailyTokens returns every token created on day with that day's stats.
func (e *Engine) DailyTokens(ctx context.Context, day time.Time) ([]models.Token, models.QueueStats, error) {
	if _, err := e.authorize(ctx, models.RoleAdmin); err != nil {
		return nil, models.QueueStats{}, err
	}
	if day.IsZero() {
		day = e.now()
	}
	day = day.In(e.schedule.location())
	from, to := stats.DayWindow(day)
	tokens, err := e.store.ListTokens(ctx, store.TokenFilter{CreatedFrom: from, CreatedTo: to})
	if err != nil {
		return nil, models.QueueStats{}, fmt.Errorf("%w: list tokens: %w", ErrUpstream, err)
	}
	return tokens, stats.Compute(tokens, day, e.defaultWait), nil
}

func (e *Engine) Notifications(ctx context.Context, tokenID string) ([]models.Notification, error) {
	if _, err := e.authorize(ctx, models.RoleOfficer, models.RoleAdmin); err != nil {
		return nil, err
	}
	if _, err := e.store.GetToken(ctx, tokenID); err != nil {
		return nil, mapStoreError(err)
	}
	notifications, err := e.store.ListNotifications(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: list notifications: %w", ErrUpstream, err)
	}
	return notifications, nil
}

func (e *Engine) ListCounters(ctx context.Context, activeOnly bool) ([]models.Counter, error) {
	if _, err := e.authorize(ctx); err != nil {
		return nil, err
	}
	counters, err := e.store.ListCounters(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: list counters: %w", ErrUpstream, err)
	}
	return counters, nil
}

func (e *Engine) CreateCounter(ctx context.Context, input CounterInput) (models.Counter, error) {
	if _, err := e.authorize(ctx, models.RoleAdmin); err != nil {
		return models.Counter{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return models.Counter{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	services, err := normalizeServices(input.Services)
	if err != nil {
		return models.Counter{}, err
	}
	counter := models.Counter{
		Name:        name,
		IsActive:    input.IsActive,
		OfficerName: strings.TrimSpace(input.OfficerName),
		Services:    services,
	}
	if officerID := strings.TrimSpace(input.OfficerID); officerID != "" {
		counter.OfficerID = &officerID
	}
	created, err := e.store.CreateCounter(ctx, counter)
	if err != nil {
		return models.Counter{}, fmt.Errorf("%w: create counter: %w", ErrUpstream, err)
	}
	return created, nil
}

func (e *Engine) UpdateCounter(ctx context.Context, counterID int64, update store.CounterUpdate) (models.Counter, error) {
	if _, err := e.authorize(ctx, models.RoleAdmin); err != nil {
		return models.Counter{}, err
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.Counter{}, fmt.Errorf("%w: name must not be empty", ErrValidation)
		}
		update.Name = &name
	}
	if update.Services != nil {
		services, err := normalizeServices(update.Services)
		if err != nil {
			return models.Counter{}, err
		}
		update.Services = services
		if update.Services == nil {
			update.Services = []string{}
		}
	}
	counter, err := e.store.UpdateCounter(ctx, counterID, update)
	if err != nil {
		return models.Counter{}, mapStoreError(err)
	}
	return counter, nil
}

func normalizeServices(services []string) ([]string, error) {
	var result []string
	seen := make(map[string]struct{}, len(services))
	for _, service := range services {
		service = strings.TrimSpace(service)
		if service == "" {
			continue
		}
		if !models.ValidServiceType(service) {
			return nil, fmt.Errorf("%w: unknown service type %q", ErrValidation, service)
		}
		if _, ok := seen[service]; ok {
			continue
		}
		seen[service] = struct{}{}
		result = append(result, service)
	}
	return result, nil
}
