package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govqueue/internal/models"
	"govqueue/internal/store"
)

func seedCounter(t *testing.T, st *Store, active bool) models.Counter {
	t.Helper()
	counter, err := st.CreateCounter(context.Background(), models.Counter{Name: "Counter", IsActive: active})
	require.NoError(t, err)
	return counter
}

func seedToken(t *testing.T, st *Store, id string) models.Token {
	t.Helper()
	ctx := context.Background()
	number, err := st.NextTokenNumber(ctx)
	require.NoError(t, err)
	token, err := st.CreateToken(ctx, models.Token{ID: id, Number: number, CitizenID: "c-1", ServiceType: models.ServiceGeneral})
	require.NoError(t, err)
	return token
}

func TestNextTokenNumberUnique(t *testing.T) {
	st := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := st.NextTokenNumber(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestTransitionClaimsAndReleasesCounter(t *testing.T) {
	ctx := context.Background()
	st := New()
	counter := seedCounter(t, st, true)
	first := seedToken(t, st, "t-1")
	second := seedToken(t, st, "t-2")

	served, err := st.TransitionToken(ctx, store.TransitionInput{TokenID: first.ID, From: models.StatusWaiting, To: models.StatusServing, CounterID: &counter.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusServing, served.Status)
	assert.Equal(t, int64(2), served.Version)
	require.NotNil(t, served.ServedAt)

	_, err = st.TransitionToken(ctx, store.TransitionInput{TokenID: second.ID, From: models.StatusWaiting, To: models.StatusServing, CounterID: &counter.ID})
	assert.ErrorIs(t, err, store.ErrCounterUnavailable)

	_, err = st.TransitionToken(ctx, store.TransitionInput{TokenID: first.ID, From: models.StatusWaiting, To: models.StatusCompleted})
	assert.ErrorIs(t, err, store.ErrStaleState)

	done, err := st.TransitionToken(ctx, store.TransitionInput{TokenID: first.ID, From: models.StatusServing, To: models.StatusCompleted})
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	freed, err := st.GetCounter(ctx, counter.ID)
	require.NoError(t, err)
	assert.Nil(t, freed.CurrentTokenID)
}

func TestTransitionInactiveCounter(t *testing.T) {
	ctx := context.Background()
	st := New()
	counter := seedCounter(t, st, false)
	token := seedToken(t, st, "t-1")

	_, err := st.TransitionToken(ctx, store.TransitionInput{TokenID: token.ID, From: models.StatusWaiting, To: models.StatusServing, CounterID: &counter.ID})
	assert.ErrorIs(t, err, store.ErrCounterUnavailable)

	missing := int64(99)
	_, err = st.TransitionToken(ctx, store.TransitionInput{TokenID: token.ID, From: models.StatusWaiting, To: models.StatusServing, CounterID: &missing})
	assert.ErrorIs(t, err, store.ErrCounterNotFound)
}

func TestListTokensFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	st := New()
	for _, id := range []string{"aaa-1", "bbb-2", "ccc-3"} {
		seedToken(t, st, id)
	}
	_, err := st.CreateProfile(ctx, models.Profile{ID: "c-1", FullName: "Asha Rao", Phone: "+15550001", Role: models.RoleCitizen})
	require.NoError(t, err)

	all, err := st.ListTokens(ctx, store.TokenFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].Number, all[1].Number, all[2].Number})
	assert.Equal(t, "Asha Rao", all[0].CitizenName)

	found, err := st.ListTokens(ctx, store.TokenFilter{Search: "bbb"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "bbb-2", found[0].ID)

	byName, err := st.ListTokens(ctx, store.TokenFilter{Search: "asha", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, byName, 2)
}

func TestSubscribeFiltersByTable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := New()
	events, err := st.Subscribe(ctx, store.TableTokens)
	require.NoError(t, err)

	seedCounter(t, st, true)
	token := seedToken(t, st, "t-1")

	select {
	case event := <-events:
		assert.Equal(t, store.TableTokens, event.Table)
		assert.Equal(t, store.OpInsert, event.Op)
		assert.Equal(t, token.ID, event.Key)
		assert.Equal(t, int64(2), event.Seq)
	case <-time.After(time.Second):
		t.Fatal("expected token event")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestDailyStatsKeepsPeak(t *testing.T) {
	ctx := context.Background()
	st := New()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, st.SaveDailyStats(ctx, models.DailyStats{Date: day, TotalTokens: 3, PeakQueueSize: 5}))
	require.NoError(t, st.SaveDailyStats(ctx, models.DailyStats{Date: day, TotalTokens: 4, PeakQueueSize: 2}))

	got, err := st.GetDailyStats(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalTokens)
	assert.Equal(t, 5, got.PeakQueueSize)

	_, err = st.GetDailyStats(ctx, day.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, store.ErrStatsNotFound)
}

func TestDuplicatePhone(t *testing.T) {
	ctx := context.Background()
	st := New()
	_, err := st.CreateProfile(ctx, models.Profile{ID: "p-1", Phone: "+1"})
	require.NoError(t, err)
	_, err = st.CreateProfile(ctx, models.Profile{ID: "p-2", Phone: "+1"})
	assert.ErrorIs(t, err, store.ErrDuplicatePhone)
}
