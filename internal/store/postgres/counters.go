package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"govqueue/internal/models"
	"govqueue/internal/store"
)

const counterColumns = `id, name, is_active, officer_id::text, officer_name, services, current_token_id::text, version, created_at, updated_at`

func (s *Store) GetCounter(ctx context.Context, counterID int64) (models.Counter, error) {
	counter, err := scanCounter(s.pool.QueryRow(ctx, `SELECT `+counterColumns+` FROM counters WHERE id = $1`, counterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrCounterNotFound
		}
		return models.Counter{}, err
	}
	return counter, nil
}

func (s *Store) ListCounters(ctx context.Context, activeOnly bool) ([]models.Counter, error) {
	query := `SELECT ` + counterColumns + ` FROM counters`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []models.Counter
	for rows.Next() {
		counter, err := scanCounter(rows)
		if err != nil {
			return nil, err
		}
		counters = append(counters, counter)
	}
	return counters, rows.Err()
}

func (s *Store) CreateCounter(ctx context.Context, counter models.Counter) (created models.Counter, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Counter{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	services := counter.Services
	if services == nil {
		services = []string{}
	}
	now := time.Now().UTC()
	created, err = scanCounter(tx.QueryRow(ctx, `
		INSERT INTO counters (name, is_active, officer_id, officer_name, services, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		RETURNING `+counterColumns,
		counter.Name, counter.IsActive, optionalUUID(counter.OfficerID), counter.OfficerName, services, now))
	if err != nil {
		return models.Counter{}, err
	}
	if err = insertChangeEvent(ctx, tx, store.TableCounters, store.OpInsert, strconv.FormatInt(created.ID, 10), created); err != nil {
		return models.Counter{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Counter{}, err
	}
	return created, nil
}

// UpdateCounter applies only the fields set in update. An empty OfficerID
// clears the assignment.
func (s *Store) UpdateCounter(ctx context.Context, counterID int64, update store.CounterUpdate) (updated models.Counter, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Counter{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var officerSet bool
	var officerID interface{}
	if update.OfficerID != nil {
		officerSet = true
		officerID = optionalUUID(update.OfficerID)
	}
	var services interface{}
	if update.Services != nil {
		services = update.Services
	}

	updated, err = scanCounter(tx.QueryRow(ctx, `
		UPDATE counters
		SET name = COALESCE($2, name),
			is_active = COALESCE($3, is_active),
			officer_id = CASE WHEN $4::boolean THEN $5::uuid ELSE officer_id END,
			officer_name = COALESCE($6, officer_name),
			services = COALESCE($7::text[], services),
			version = version + 1,
			updated_at = $8
		WHERE id = $1
		RETURNING `+counterColumns,
		counterID, update.Name, update.IsActive, officerSet, officerID, update.OfficerName, services, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrCounterNotFound
		}
		return models.Counter{}, err
	}
	if err = insertChangeEvent(ctx, tx, store.TableCounters, store.OpUpdate, strconv.FormatInt(updated.ID, 10), updated); err != nil {
		return models.Counter{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Counter{}, err
	}
	return updated, nil
}

func scanCounter(row pgx.Row) (models.Counter, error) {
	var counter models.Counter
	var officerIDNull, currentTokenNull sql.NullString
	err := row.Scan(
		&counter.ID, &counter.Name, &counter.IsActive, &officerIDNull, &counter.OfficerName,
		&counter.Services, &currentTokenNull, &counter.Version, &counter.CreatedAt, &counter.UpdatedAt,
	)
	if err != nil {
		return models.Counter{}, err
	}
	counter.OfficerID = nullStringPtr(officerIDNull)
	counter.CurrentTokenID = nullStringPtr(currentTokenNull)
	return counter, nil
}

func optionalUUID(value *string) interface{} {
	if value == nil {
		return nil
	}
	return nullIfEmpty(*value)
}
