package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govqueue/internal/auth"
	"govqueue/internal/display"
	"govqueue/internal/models"
	"govqueue/internal/store"
	"govqueue/internal/store/memory"
)

type sentEvent struct {
	TokenID string
	Event   string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) Send(tokenID, event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{TokenID: tokenID, Event: event})
}

func (n *recordingNotifier) Events() []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEvent(nil), n.events...)
}

var testNow = time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

type fixture struct {
	engine   *Engine
	store    *memory.Store
	notifier *recordingNotifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memory.New()
	notifier := &recordingNotifier{}
	engine := NewEngine(st, auth.ContextIdentity{}, notifier, Options{
		Schedule:               DefaultSchedule(),
		DefaultAverageWait:     25,
		ReminderPositionsAhead: 3,
		Display:                display.Policy{WaitingLimit: 10, PriorityFirst: true},
		Now:                    func() time.Time { return testNow },
	})
	for i := 1; i <= 2; i++ {
		_, err := st.CreateCounter(context.Background(), models.Counter{Name: "Counter", IsActive: true})
		require.NoError(t, err)
	}
	return fixture{engine: engine, store: st, notifier: notifier}
}

func as(role, id string) context.Context {
	return auth.WithUser(context.Background(), auth.User{ID: id, Role: role})
}

var (
	officer = as(models.RoleOfficer, "officer-1")
	admin   = as(models.RoleAdmin, "admin-1")
)

func counterRef(id int64) *int64 { return &id }

func (f fixture) generate(t *testing.T, citizen string, serviceType string) models.Token {
	t.Helper()
	token, err := f.engine.GenerateToken(as(models.RoleCitizen, citizen), GenerateInput{ServiceType: serviceType})
	require.NoError(t, err)
	return token
}

func TestGenerateTokenComputesDerivedFields(t *testing.T) {
	f := newFixture(t)
	token := f.generate(t, "citizen-1", "")

	assert.Equal(t, int64(1), token.Number)
	assert.Equal(t, "citizen-1", token.CitizenID)
	assert.Equal(t, models.ServiceGeneral, token.ServiceType)
	assert.Equal(t, models.StatusWaiting, token.Status)
	assert.False(t, token.Priority)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), token.TimeSlot)
	assert.Equal(t, "10 mins", token.EstimatedTime)
	assert.Contains(t, token.QRPayload, `"tokenNumber":1`)
	assert.Nil(t, token.CounterID)
	assert.Equal(t, []sentEvent{{TokenID: token.ID, Event: models.EventTokenCreated}}, f.notifier.Events())
}

func TestGenerateTokenEstimateCountsServingTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := int64(1); i <= 14; i++ {
		status := models.StatusCompleted
		if i <= 3 {
			status = models.StatusServing
		}
		_, err := f.store.CreateToken(ctx, models.Token{ID: string(rune('a' + i)), Number: i, Status: status, CreatedAt: testNow})
		require.NoError(t, err)
	}

	token := f.generate(t, "citizen-1", models.ServiceNewLicense)
	assert.Equal(t, int64(15), token.Number)
	assert.Equal(t, "120 mins", token.EstimatedTime)
	assert.Equal(t, time.Date(2026, 3, 2, 11, 20, 0, 0, time.UTC), token.TimeSlot)
}

func TestGenerateTokenValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.GenerateToken(context.Background(), GenerateInput{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.engine.GenerateToken(officer, GenerateInput{})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.engine.GenerateToken(as(models.RoleCitizen, "c1"), GenerateInput{CitizenID: "c2"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.engine.GenerateToken(as(models.RoleCitizen, "c1"), GenerateInput{ServiceType: "passport"})
	assert.ErrorIs(t, err, ErrValidation)

	token, err := f.engine.GenerateToken(admin, GenerateInput{CitizenID: "c9", Priority: true})
	require.NoError(t, err)
	assert.Equal(t, "c9", token.CitizenID)
	assert.True(t, token.Priority)
}

func TestConcurrentGenerateTokenNumbersAreUnique(t *testing.T) {
	f := newFixture(t)
	const workers = 40

	var wg sync.WaitGroup
	numbers := make(chan int64, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := f.engine.GenerateToken(as(models.RoleCitizen, "citizen"), GenerateInput{})
			if err != nil {
				errs <- err
				return
			}
			numbers <- token.Number
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)
	for err := range errs {
		t.Fatalf("generate token: %v", err)
	}

	var got []int64
	for n := range numbers {
		got = append(got, n)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, workers)
	for i, n := range got {
		assert.Equal(t, int64(i+1), n)
	}
}

func TestServeCompleteLifecycle(t *testing.T) {
	f := newFixture(t)
	token := f.generate(t, "citizen-1", "")

	serving, err := f.engine.UpdateTokenStatus(officer, token.ID, models.StatusServing, counterRef(1))
	require.NoError(t, err)
	assert.Equal(t, models.StatusServing, serving.Status)
	require.NotNil(t, serving.CounterID)
	assert.Equal(t, int64(1), *serving.CounterID)
	assert.NotNil(t, serving.CalledAt)
	assert.NotNil(t, serving.ServedAt)

	counter, err := f.store.GetCounter(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, counter.CurrentTokenID)
	assert.Equal(t, token.ID, *counter.CurrentTokenID)

	completed, err := f.engine.UpdateTokenStatus(officer, token.ID, models.StatusCompleted, nil)
	require.NoError(t, err)
	assert.NotNil(t, completed.CompletedAt)
	require.NotNil(t, completed.CounterID)

	counter, err = f.store.GetCounter(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, counter.CurrentTokenID)

	events := f.notifier.Events()
	require.Len(t, events, 3)
	assert.Equal(t, models.EventTokenCalled, events[1].Event)
	assert.Equal(t, models.EventTokenCompleted, events[2].Event)
}

func TestCompleteFromWaitingIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	token := f.generate(t, "citizen-1", "")

	_, err := f.engine.UpdateTokenStatus(officer, token.ID, models.StatusCompleted, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.engine.UpdateTokenStatus(officer, token.ID, models.StatusNoShow, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.engine.UpdateTokenStatus(officer, token.ID, models.StatusWaiting, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateTokenStatusValidation(t *testing.T) {
	f := newFixture(t)
	token := f.generate(t, "citizen-1", "")

	_, err := f.engine.UpdateTokenStatus(officer, token.ID, models.StatusServing, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.engine.UpdateTokenStatus(officer, token.ID, "paused", nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.engine.UpdateTokenStatus(officer, "missing", models.StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.UpdateTokenStatus(officer, token.ID, models.StatusServing, counterRef(99))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.UpdateTokenStatus(as(models.RoleCitizen, "citizen-1"), token.ID, models.StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestServingOccupiedCounterFails(t *testing.T) {
	f := newFixture(t)
	first := f.generate(t, "c1", "")
	second := f.generate(t, "c2", "")

	_, err := f.engine.UpdateTokenStatus(officer, first.ID, models.StatusServing, counterRef(2))
	require.NoError(t, err)
	_, err = f.engine.UpdateTokenStatus(officer, second.ID, models.StatusServing, counterRef(2))
	assert.ErrorIs(t, err, ErrCounterUnavailable)

	got, err := f.store.GetToken(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status)
}

func TestServingInactiveCounterFails(t *testing.T) {
	f := newFixture(t)
	token := f.generate(t, "c1", "")
	inactive := false
	_, err := f.engine.UpdateCounter(admin, 1, store.CounterUpdate{IsActive: &inactive})
	require.NoError(t, err)

	_, err = f.engine.UpdateTokenStatus(officer, token.ID, models.StatusServing, counterRef(1))
	assert.ErrorIs(t, err, ErrCounterUnavailable)
}

func TestConcurrentCounterClaimHasOneWinner(t *testing.T) {
	f := newFixture(t)
	tokens := []models.Token{f.generate(t, "c1", ""), f.generate(t, "c2", "")}

	var wg sync.WaitGroup
	results := make([]error, len(tokens))
	for i, token := range tokens {
		wg.Add(1)
		go func(i int, tokenID string) {
			defer wg.Done()
			_, results[i] = f.engine.UpdateTokenStatus(officer, tokenID, models.StatusServing, counterRef(2))
		}(i, token.ID)
	}
	wg.Wait()

	successes, unavailable := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrCounterUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, unavailable)
}

func TestNoShowAndCancelReleaseCounter(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{models.StatusNoShow, models.StatusCancelled} {
		token := f.generate(t, "c1", "")
		_, err := f.engine.UpdateTokenStatus(officer, token.ID, models.StatusServing, counterRef(1))
		require.NoError(t, err)

		released, err := f.engine.UpdateTokenStatus(officer, token.ID, target, nil)
		require.NoError(t, err)
		assert.Equal(t, target, released.Status)
		assert.Nil(t, released.CounterID)

		counter, err := f.store.GetCounter(context.Background(), 1)
		require.NoError(t, err)
		assert.Nil(t, counter.CurrentTokenID, target)
	}

	waiting := f.generate(t, "c2", "")
	cancelled, err := f.engine.UpdateTokenStatus(admin, waiting.ID, models.StatusCancelled, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
}

func TestReminderGoesToTokenThreePlacesAhead(t *testing.T) {
	f := newFixture(t)
	var tokens []models.Token
	for i := 0; i < 5; i++ {
		tokens = append(tokens, f.generate(t, "c", ""))
	}

	_, err := f.engine.UpdateTokenStatus(officer, tokens[0].ID, models.StatusServing, counterRef(1))
	require.NoError(t, err)

	events := f.notifier.Events()
	last := events[len(events)-1]
	assert.Equal(t, sentEvent{TokenID: tokens[3].ID, Event: models.EventReminder}, last)
	assert.Equal(t, sentEvent{TokenID: tokens[0].ID, Event: models.EventTokenCalled}, events[len(events)-2])
}

func TestCallNextFollowsNumberOrderAndServices(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.UpdateCounter(admin, 2, store.CounterUpdate{Services: []string{models.ServiceVehicleRegistration}})
	require.NoError(t, err)

	general := f.generate(t, "c1", models.ServiceGeneral)
	priority, err := f.engine.GenerateToken(admin, GenerateInput{CitizenID: "c2", ServiceType: models.ServiceVehicleRegistration, Priority: true})
	require.NoError(t, err)

	// Counter 2 only handles vehicle registration and skips the older token.
	called, err := f.engine.CallNext(officer, 2)
	require.NoError(t, err)
	assert.Equal(t, priority.ID, called.ID)

	_, err = f.engine.CallNext(officer, 2)
	assert.ErrorIs(t, err, ErrCounterUnavailable)

	// Counter 1 takes the remaining token in number order.
	called, err = f.engine.CallNext(officer, 1)
	require.NoError(t, err)
	assert.Equal(t, general.ID, called.ID)

	_, err = f.engine.UpdateTokenStatus(officer, general.ID, models.StatusCompleted, nil)
	require.NoError(t, err)
	_, err = f.engine.CallNext(officer, 1)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestPriorityDoesNotChangeServiceOrder(t *testing.T) {
	f := newFixture(t)
	first := f.generate(t, "c1", "")
	_, err := f.engine.GenerateToken(admin, GenerateInput{CitizenID: "c2", Priority: true})
	require.NoError(t, err)

	called, err := f.engine.CallNext(officer, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, called.ID)
}

func TestGetTokenPositionAndOwnership(t *testing.T) {
	f := newFixture(t)
	first := f.generate(t, "c1", "")
	second := f.generate(t, "c2", "")
	third := f.generate(t, "c2", "")

	_, err := f.engine.UpdateTokenStatus(officer, first.ID, models.StatusServing, counterRef(1))
	require.NoError(t, err)

	view, err := f.engine.GetToken(as(models.RoleCitizen, "c2"), third.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Position)

	view, err = f.engine.GetToken(officer, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Position)

	view, err = f.engine.GetToken(officer, first.ID)
	require.NoError(t, err)
	assert.Zero(t, view.Position)

	_, err = f.engine.GetToken(as(models.RoleCitizen, "c2"), first.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListTokensScopesCitizens(t *testing.T) {
	f := newFixture(t)
	f.generate(t, "c1", "")
	f.generate(t, "c2", "")
	f.generate(t, "c2", models.ServiceNewLicense)

	own, err := f.engine.ListTokens(as(models.RoleCitizen, "c2"), ListFilter{CitizenID: "c1"})
	require.NoError(t, err)
	assert.Len(t, own, 2)

	all, err := f.engine.ListTokens(officer, ListFilter{ServiceTypes: []string{models.ServiceNewLicense}, Day: testNow})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.engine.ListTokens(officer, ListFilter{Statuses: []string{"paused"}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStatsAreRefreshedAfterTransitions(t *testing.T) {
	f := newFixture(t)
	first := f.generate(t, "c1", "")
	f.generate(t, "c2", "")
	f.generate(t, "c3", "")

	_, err := f.engine.UpdateTokenStatus(officer, first.ID, models.StatusServing, counterRef(1))
	require.NoError(t, err)

	view, err := f.engine.Stats(officer, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, view.TotalTokens)
	assert.Equal(t, 1, view.CurrentlyServing)
	assert.Equal(t, 2, view.Waiting)
	assert.Equal(t, 0.0, view.AverageWaitTime)
	assert.Equal(t, 3, view.PeakQueueSize)

	saved, err := f.store.GetDailyStats(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, saved.TotalTokens)
	assert.Equal(t, 3, saved.PeakQueueSize)
}

func TestBoardGroupsServingAndLimitsWaiting(t *testing.T) {
	f := newFixture(t)
	first := f.generate(t, "c1", "")
	for i := 0; i < 11; i++ {
		f.generate(t, "c", "")
	}
	_, err := f.engine.UpdateTokenStatus(officer, first.ID, models.StatusServing, counterRef(2))
	require.NoError(t, err)

	board, err := f.engine.Board(context.Background())
	require.NoError(t, err)
	assert.Len(t, board.Waiting, 10)
	assert.Equal(t, 11, board.WaitingTotal)
	require.Len(t, board.Serving, 2)
	assert.Empty(t, board.Serving[0].Tokens)
	require.Len(t, board.Serving[1].Tokens, 1)
	assert.Equal(t, first.ID, board.Serving[1].Tokens[0].ID)
	assert.Equal(t, 12, board.Stats.TotalTokens)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) CreateToken(context.Context, models.Token) (models.Token, error) {
	return models.Token{}, errors.New("connection reset")
}

func TestPersistenceFailureSurfacesAsUpstream(t *testing.T) {
	notifier := &recordingNotifier{}
	engine := NewEngine(failingStore{memory.New()}, auth.ContextIdentity{}, notifier, Options{})

	_, err := engine.GenerateToken(as(models.RoleCitizen, "c1"), GenerateInput{})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Empty(t, notifier.Events())
}

func TestCounterAdministration(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateCounter(officer, CounterInput{Name: "Counter 3"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.engine.CreateCounter(admin, CounterInput{Name: " "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.engine.CreateCounter(admin, CounterInput{Name: "Counter 3", Services: []string{"passport"}})
	assert.ErrorIs(t, err, ErrValidation)

	counter, err := f.engine.CreateCounter(admin, CounterInput{Name: "Counter 3", IsActive: true, OfficerID: "officer-1", Services: []string{models.ServiceNewLicense, models.ServiceNewLicense}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), counter.ID)
	assert.Equal(t, []string{models.ServiceNewLicense}, counter.Services)
	require.NotNil(t, counter.OfficerID)

	active, err := f.engine.ListCounters(officer, true)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	_, err = f.engine.UpdateCounter(admin, 42, store.CounterUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotificationsForToken(t *testing.T) {
	f := newFixture(t)
	token := f.generate(t, "c1", models.ServiceGeneral)
	other := f.generate(t, "c2", models.ServiceGeneral)
	ctx := context.Background()
	require.NoError(t, f.store.InsertNotification(ctx, models.Notification{ID: "n1", TokenID: token.ID, Type: models.EventTokenCreated, Status: models.NotificationSent}))
	require.NoError(t, f.store.InsertNotification(ctx, models.Notification{ID: "n2", TokenID: other.ID, Type: models.EventTokenCreated, Status: models.NotificationFailed}))

	_, err := f.engine.Notifications(as(models.RoleCitizen, "c1"), token.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.engine.Notifications(officer, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	log, err := f.engine.Notifications(officer, token.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "n1", log[0].ID)
}
