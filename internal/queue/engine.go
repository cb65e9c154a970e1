// Package queue owns the token lifecycle: numbering, scheduling, status
// transitions and counter assignment.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"govqueue/internal/auth"
	"govqueue/internal/display"
	"govqueue/internal/metrics"
	"govqueue/internal/models"
	"govqueue/internal/stats"
	"govqueue/internal/store"
)

const maxNotesLength = 500

type Store interface {
	store.TokenStore
	store.CounterStore
	store.NotificationStore
	store.StatsStore
}

type Identity interface {
	CurrentUser(ctx context.Context) (auth.User, error)
}

// Notifier dispatches a notification job. It must not block and never
// reports failure to the caller.
type Notifier interface {
	Send(tokenID, event string)
}

type Options struct {
	Schedule               Schedule
	DefaultAverageWait     float64
	ReminderPositionsAhead int
	Display                display.Policy
	Now                    func() time.Time
	Logger                 *zap.Logger
}

type Engine struct {
	store         Store
	identity      Identity
	notifier      Notifier
	schedule      Schedule
	defaultWait   float64
	reminderAhead int
	display       display.Policy
	now           func() time.Time
	logger        *zap.Logger
}

func NewEngine(st Store, identity Identity, notifier Notifier, opts Options) *Engine {
	if opts.Schedule.SlotLength <= 0 {
		opts.Schedule = DefaultSchedule()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = discardNotifier{}
	}
	now := opts.Now
	if now == nil {
		loc := opts.Schedule.location()
		now = func() time.Time { return time.Now().In(loc) }
	}
	return &Engine{
		store:         st,
		identity:      identity,
		notifier:      notifier,
		schedule:      opts.Schedule,
		defaultWait:   opts.DefaultAverageWait,
		reminderAhead: opts.ReminderPositionsAhead,
		display:       opts.Display,
		now:           now,
		logger:        opts.Logger,
	}
}

type discardNotifier struct{}

func (discardNotifier) Send(string, string) {}

type GenerateInput struct {
	CitizenID   string
	ServiceType string
	Priority    bool
	Notes       string
}

// GenerateToken issues the next token for a citizen. Admins may issue on
// behalf of any citizen.
func (e *Engine) GenerateToken(ctx context.Context, input GenerateInput) (models.Token, error) {
	user, err := e.authorize(ctx, models.RoleCitizen, models.RoleAdmin)
	if err != nil {
		return models.Token{}, err
	}

	citizenID := strings.TrimSpace(input.CitizenID)
	if citizenID == "" {
		citizenID = user.ID
	}
	if citizenID == "" {
		return models.Token{}, fmt.Errorf("%w: citizen_id is required", ErrValidation)
	}
	if user.Role == models.RoleCitizen && citizenID != user.ID {
		return models.Token{}, fmt.Errorf("%w: citizens may only request their own tokens", ErrForbidden)
	}
	serviceType := strings.TrimSpace(input.ServiceType)
	if serviceType == "" {
		serviceType = models.ServiceGeneral
	}
	if !models.ValidServiceType(serviceType) {
		return models.Token{}, fmt.Errorf("%w: unknown service type %q", ErrValidation, serviceType)
	}
	notes := strings.TrimSpace(input.Notes)
	if len(notes) > maxNotesLength {
		return models.Token{}, fmt.Errorf("%w: notes must be at most %d characters", ErrValidation, maxNotesLength)
	}

	number, err := e.store.NextTokenNumber(ctx)
	if err != nil {
		return models.Token{}, fmt.Errorf("%w: next token number: %w", ErrUpstream, err)
	}
	serving, err := e.store.ListTokens(ctx, store.TokenFilter{Statuses: []string{models.StatusServing}})
	if err != nil {
		return models.Token{}, fmt.Errorf("%w: count serving tokens: %w", ErrUpstream, err)
	}

	now := e.now()
	slot := e.schedule.TimeSlot(number, now)
	token, err := e.store.CreateToken(ctx, models.Token{
		ID:            uuid.NewString(),
		Number:        number,
		CitizenID:     citizenID,
		ServiceType:   serviceType,
		TimeSlot:      slot,
		EstimatedTime: FormatEstimate(e.schedule.EstimatedWait(number, len(serving))),
		Status:        models.StatusWaiting,
		Priority:      input.Priority,
		QRPayload:     QRPayload(number, citizenID, slot),
		Notes:         notes,
		CreatedAt:     now,
	})
	if err != nil {
		return models.Token{}, fmt.Errorf("%w: create token: %w", ErrUpstream, err)
	}

	metrics.TokensGenerated.Inc()
	e.logger.Info("token generated",
		zap.String("token_id", token.ID),
		zap.Int64("token_number", token.Number),
		zap.String("service_type", token.ServiceType),
		zap.Bool("priority", token.Priority),
	)
	e.notifier.Send(token.ID, models.EventTokenCreated)
	e.refreshStats(ctx)
	return token, nil
}

// UpdateTokenStatus applies one state machine edge. Moving to serving claims
// counterID, which must be active and idle.
func (e *Engine) UpdateTokenStatus(ctx context.Context, tokenID, status string, counterID *int64) (models.Token, error) {
	if _, err := e.authorize(ctx, models.RoleOfficer, models.RoleAdmin); err != nil {
		return models.Token{}, err
	}
	tokenID = strings.TrimSpace(tokenID)
	status = strings.TrimSpace(strings.ToLower(status))
	if tokenID == "" {
		return models.Token{}, fmt.Errorf("%w: token id is required", ErrValidation)
	}
	if !models.ValidStatus(status) {
		return models.Token{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if status == models.StatusServing && counterID == nil {
		return models.Token{}, fmt.Errorf("%w: counter_id is required to serve a token", ErrValidation)
	}

	current, err := e.store.GetToken(ctx, tokenID)
	if err != nil {
		return models.Token{}, mapStoreError(err)
	}
	return e.apply(ctx, current, status, counterID)
}

// CallNext serves the lowest-numbered waiting token the counter handles.
// Tokens taken by another counter in the meantime are skipped.
func (e *Engine) CallNext(ctx context.Context, counterID int64) (models.Token, error) {
	if _, err := e.authorize(ctx, models.RoleOfficer, models.RoleAdmin); err != nil {
		return models.Token{}, err
	}
	counter, err := e.store.GetCounter(ctx, counterID)
	if err != nil {
		return models.Token{}, mapStoreError(err)
	}
	if !counter.IsActive || counter.Occupied() {
		return models.Token{}, fmt.Errorf("%w: counter %d", ErrCounterUnavailable, counterID)
	}

	candidates, err := e.store.ListTokens(ctx, store.TokenFilter{Statuses: []string{models.StatusWaiting}})
	if err != nil {
		return models.Token{}, fmt.Errorf("%w: list waiting tokens: %w", ErrUpstream, err)
	}
	for _, candidate := range display.FIFO(candidates) {
		if !counter.Handles(candidate.ServiceType) {
			continue
		}
		token, err := e.apply(ctx, candidate, models.StatusServing, &counterID)
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		return token, err
	}
	return models.Token{}, ErrQueueEmpty
}

func (e *Engine) apply(ctx context.Context, current models.Token, to string, counterID *int64) (models.Token, error) {
	var updated models.Token
	for attempt := 0; ; attempt++ {
		if !ValidTransition(current.Status, to) {
			return models.Token{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, to)
		}
		input := store.TransitionInput{
			TokenID:    current.ID,
			From:       current.Status,
			To:         to,
			OccurredAt: e.now(),
		}
		if to == models.StatusServing {
			input.CounterID = counterID
		}
		var err error
		updated, err = e.store.TransitionToken(ctx, input)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrStaleState) || attempt > 0 {
			return models.Token{}, mapStoreError(err)
		}
		// Another writer moved the token first; re-check against its new state.
		current, err = e.store.GetToken(ctx, current.ID)
		if err != nil {
			return models.Token{}, mapStoreError(err)
		}
	}

	metrics.Transitions.WithLabelValues(to).Inc()
	fields := []zap.Field{
		zap.String("token_id", updated.ID),
		zap.Int64("token_number", updated.Number),
		zap.String("from", current.Status),
		zap.String("to", to),
	}
	if updated.CounterID != nil {
		fields = append(fields, zap.Int64("counter_id", *updated.CounterID))
	}
	e.logger.Info("token status updated", fields...)

	switch to {
	case models.StatusServing:
		e.notifier.Send(updated.ID, models.EventTokenCalled)
		e.remind(ctx)
	case models.StatusCompleted:
		e.notifier.Send(updated.ID, models.EventTokenCompleted)
	}
	e.refreshStats(ctx)
	return updated, nil
}

// remind notifies the waiting token that is now reminderAhead places from
// the front.
func (e *Engine) remind(ctx context.Context) {
	if e.reminderAhead <= 0 {
		return
	}
	waiting, err := e.store.ListTokens(ctx, store.TokenFilter{Statuses: []string{models.StatusWaiting}})
	if err != nil {
		e.logger.Warn("reminder lookup failed", zap.Error(err))
		return
	}
	waiting = display.FIFO(waiting)
	if len(waiting) < e.reminderAhead {
		return
	}
	e.notifier.Send(waiting[e.reminderAhead-1].ID, models.EventReminder)
}

// refreshStats recomputes today's stats and persists the snapshot. Failures
// are logged only; the transition has already been applied.
func (e *Engine) refreshStats(ctx context.Context) {
	now := e.now()
	current, err := e.computeStats(ctx, now)
	if err != nil {
		e.logger.Warn("stats refresh failed", zap.Error(err))
		return
	}
	if err := e.store.SaveDailyStats(ctx, stats.Snapshot(current, now)); err != nil {
		e.logger.Warn("stats snapshot failed", zap.Error(err))
	}
	metrics.QueueTokens.WithLabelValues(models.StatusWaiting).Set(float64(current.Waiting))
	metrics.QueueTokens.WithLabelValues(models.StatusServing).Set(float64(current.CurrentlyServing))
	metrics.QueueTokens.WithLabelValues(models.StatusCompleted).Set(float64(current.CompletedToday))
	metrics.QueueTokens.WithLabelValues(models.StatusNoShow).Set(float64(current.NoShow))
	metrics.QueueTokens.WithLabelValues(models.StatusCancelled).Set(float64(current.Cancelled))
}

func (e *Engine) computeStats(ctx context.Context, asOf time.Time) (models.QueueStats, error) {
	from, to := stats.DayWindow(asOf)
	tokens, err := e.store.ListTokens(ctx, store.TokenFilter{CreatedFrom: from, CreatedTo: to})
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("%w: list tokens: %w", ErrUpstream, err)
	}
	return stats.Compute(tokens, asOf, e.defaultWait), nil
}

func (e *Engine) authorize(ctx context.Context, roles ...string) (auth.User, error) {
	if e.identity == nil {
		return auth.User{}, ErrUnauthenticated
	}
	user, err := e.identity.CurrentUser(ctx)
	if err != nil || user.ID == "" {
		return auth.User{}, ErrUnauthenticated
	}
	if len(roles) > 0 && !user.HasRole(roles...) {
		return auth.User{}, fmt.Errorf("%w: role %s may not perform this action", ErrForbidden, user.Role)
	}
	return user, nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrTokenNotFound), errors.Is(err, store.ErrCounterNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrCounterUnavailable):
		return fmt.Errorf("%w: %w", ErrCounterUnavailable, err)
	case errors.Is(err, store.ErrStaleState):
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	default:
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
}
