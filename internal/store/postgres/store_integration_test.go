package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"govqueue/internal/models"
	"govqueue/internal/store"
)

func TestNextTokenNumberConcurrency(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	const workers = 20
	var wg sync.WaitGroup
	numbers := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := st.NextTokenNumber(ctx)
			if err != nil {
				t.Errorf("next token number: %v", err)
				return
			}
			numbers <- n
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int64]bool)
	for n := range numbers {
		if seen[n] {
			t.Fatalf("duplicate token number %d", n)
		}
		seen[n] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d numbers, got %d", workers, len(seen))
	}
}

func TestServeRaceOneWinner(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	counter := createCounter(t, ctx, st, "Counter 1")
	first := createToken(t, ctx, st, 1)
	second := createToken(t, ctx, st, 2)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, token := range []models.Token{first, second} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := st.TransitionToken(ctx, store.TransitionInput{
				TokenID:   id,
				From:      models.StatusWaiting,
				To:        models.StatusServing,
				CounterID: &counter.ID,
			})
			errs <- err
		}(token.ID)
	}
	wg.Wait()
	close(errs)

	var ok, unavailable int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrCounterUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || unavailable != 1 {
		t.Fatalf("expected one winner, got ok=%d unavailable=%d", ok, unavailable)
	}

	serving, err := st.ListTokens(ctx, store.TokenFilter{Statuses: []string{models.StatusServing}})
	if err != nil {
		t.Fatalf("list serving: %v", err)
	}
	if len(serving) != 1 {
		t.Fatalf("expected 1 serving token, got %d", len(serving))
	}
}

func TestTransitionLifecycle(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	counter := createCounter(t, ctx, st, "Counter 1")
	token := createToken(t, ctx, st, 1)

	if _, err := st.TransitionToken(ctx, store.TransitionInput{
		TokenID: token.ID, From: models.StatusServing, To: models.StatusCompleted,
	}); !errors.Is(err, store.ErrStaleState) {
		t.Fatalf("expected stale state, got %v", err)
	}

	served, err := st.TransitionToken(ctx, store.TransitionInput{
		TokenID: token.ID, From: models.StatusWaiting, To: models.StatusServing, CounterID: &counter.ID,
	})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if served.ServedAt == nil || served.CounterID == nil || *served.CounterID != counter.ID {
		t.Fatalf("expected served token on counter %d, got %+v", counter.ID, served)
	}

	busy, err := st.GetCounter(ctx, counter.ID)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if busy.CurrentTokenID == nil || *busy.CurrentTokenID != token.ID {
		t.Fatalf("expected counter to hold token %s", token.ID)
	}

	done, err := st.TransitionToken(ctx, store.TransitionInput{
		TokenID: token.ID, From: models.StatusServing, To: models.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt == nil || done.Version != 3 {
		t.Fatalf("unexpected completed token: %+v", done)
	}

	idle, err := st.GetCounter(ctx, counter.ID)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if idle.CurrentTokenID != nil {
		t.Fatalf("expected counter to be released")
	}

	if _, err := st.TransitionToken(ctx, store.TransitionInput{
		TokenID: uuid.NewString(), From: models.StatusWaiting, To: models.StatusCancelled,
	}); !errors.Is(err, store.ErrTokenNotFound) {
		t.Fatalf("expected token not found, got %v", err)
	}
}

func TestSubscribeDeliversCommittedChanges(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := st.Subscribe(subCtx, store.TableTokens)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = createCounter(t, ctx, st, "Counter 1")
	token := createToken(t, ctx, st, 1)

	select {
	case event := <-events:
		if event.Table != store.TableTokens || event.Key != token.ID || event.Op != store.OpInsert {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for change event")
	}

	cancel()
	for range events {
	}
}

func TestDailyStatsKeepsPeak(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := st.SaveDailyStats(ctx, models.DailyStats{Date: day, TotalTokens: 4, PeakQueueSize: 7}); err != nil {
		t.Fatalf("save stats: %v", err)
	}
	if err := st.SaveDailyStats(ctx, models.DailyStats{Date: day, TotalTokens: 5, PeakQueueSize: 2}); err != nil {
		t.Fatalf("save stats: %v", err)
	}
	saved, err := st.GetDailyStats(ctx, day)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if saved.TotalTokens != 5 || saved.PeakQueueSize != 7 {
		t.Fatalf("unexpected stats: %+v", saved)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool, Options{FeedPollInterval: 50 * time.Millisecond})
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func createCounter(t *testing.T, ctx context.Context, st *Store, name string) models.Counter {
	t.Helper()
	counter, err := st.CreateCounter(ctx, models.Counter{Name: name, IsActive: true})
	if err != nil {
		t.Fatalf("create counter: %v", err)
	}
	return counter
}

func createToken(t *testing.T, ctx context.Context, st *Store, number int64) models.Token {
	t.Helper()
	now := time.Now().UTC()
	token, err := st.CreateToken(ctx, models.Token{
		ID:          uuid.NewString(),
		Number:      number,
		CitizenID:   uuid.NewString(),
		ServiceType: "general",
		TimeSlot:    now,
		Status:      models.StatusWaiting,
		CreatedAt:   now,
	})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return token
}
