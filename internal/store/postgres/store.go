// Package postgres implements the stores on PostgreSQL via pgx. Every
// mutation writes its change_events row in the same transaction.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"govqueue/internal/ids"
)

const uniqueViolation = "23505"

type Options struct {
	FeedPollInterval time.Duration
	FeedBatchSize    int
	// FeedOverlap is how many sequence numbers below the highest seen one are
	// re-read on every poll, catching rows from transactions that committed late.
	FeedOverlap int64
	Logger      *zap.Logger
}

type Store struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
	batchSize    int
	overlap      int64
	logger       *zap.Logger
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	if options.FeedPollInterval <= 0 {
		options.FeedPollInterval = time.Second
	}
	if options.FeedBatchSize <= 0 {
		options.FeedBatchSize = 200
	}
	if options.FeedOverlap <= 0 {
		options.FeedOverlap = 100
	}
	if int64(options.FeedBatchSize) <= options.FeedOverlap {
		// a full batch must reach past the re-read window
		options.FeedBatchSize = int(options.FeedOverlap) * 2
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	return &Store{
		pool:         pool,
		pollInterval: options.FeedPollInterval,
		batchSize:    options.FeedBatchSize,
		overlap:      options.FeedOverlap,
		logger:       options.Logger,
	}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertChangeEvent(ctx context.Context, tx pgx.Tx, table, op, key string, row interface{}) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO change_events (event_id, table_name, op, row_key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ids.New(), table, op, key, payload, time.Now().UTC())
	return err
}

func validUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func nullInt64Ptr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	v := value.Int64
	return &v
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
