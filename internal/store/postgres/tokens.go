package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"govqueue/internal/models"
	"govqueue/internal/store"
)

const tokenColumns = `
	t.id::text, t.token_number, t.citizen_id, COALESCE(p.full_name, ''), COALESCE(p.phone, ''),
	t.service_type, t.time_slot, t.estimated_time, t.status, t.priority, t.counter_id,
	t.qr_payload, t.notes, t.called_at, t.served_at, t.completed_at, t.version, t.created_at, t.updated_at`

const tokenFrom = `
	FROM tokens t
	LEFT JOIN profiles p ON p.id::text = t.citizen_id`

func (s *Store) NextTokenNumber(ctx context.Context) (int64, error) {
	var next int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('token_number_seq')`).Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) CreateToken(ctx context.Context, token models.Token) (created models.Token, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	createdAt := token.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if token.Status == "" {
		token.Status = models.StatusWaiting
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO tokens (
			id, token_number, citizen_id, service_type, time_slot, estimated_time,
			status, priority, qr_payload, notes, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1,$11,$11)
	`, token.ID, token.Number, token.CitizenID, token.ServiceType, token.TimeSlot, token.EstimatedTime,
		token.Status, token.Priority, token.QRPayload, token.Notes, createdAt)
	if err != nil {
		return models.Token{}, err
	}

	created, err = getToken(ctx, tx, token.ID)
	if err != nil {
		return models.Token{}, err
	}
	if err = insertChangeEvent(ctx, tx, store.TableTokens, store.OpInsert, created.ID, created); err != nil {
		return models.Token{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, err
	}
	return created, nil
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (models.Token, error) {
	return getToken(ctx, s.pool, tokenID)
}

func (s *Store) ListTokens(ctx context.Context, filter store.TokenFilter) ([]models.Token, error) {
	query := `SELECT ` + tokenColumns + tokenFrom + ` WHERE 1=1`
	var args []interface{}
	arg := func(value interface{}) string {
		args = append(args, value)
		return "$" + strconv.Itoa(len(args))
	}

	if len(filter.Statuses) > 0 {
		query += " AND t.status = ANY(" + arg(filter.Statuses) + ")"
	}
	if len(filter.ServiceTypes) > 0 {
		query += " AND t.service_type = ANY(" + arg(filter.ServiceTypes) + ")"
	}
	if filter.CitizenID != "" {
		query += " AND t.citizen_id = " + arg(filter.CitizenID)
	}
	if filter.CounterID != nil {
		query += " AND t.counter_id = " + arg(*filter.CounterID)
	}
	if !filter.CreatedFrom.IsZero() {
		query += " AND t.created_at >= " + arg(filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		query += " AND t.created_at < " + arg(filter.CreatedTo)
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		like := arg("%" + term + "%")
		query += fmt.Sprintf(
			" AND (p.full_name ILIKE %s OR t.citizen_id ILIKE %s OR t.id::text ILIKE %s OR t.token_number::text = %s)",
			like, like, arg(term+"%"), arg(term),
		)
	}
	if filter.Order == store.OrderRecentDesc {
		query += " ORDER BY t.updated_at DESC, t.token_number DESC"
	} else {
		query += " ORDER BY t.token_number ASC"
	}
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// TransitionToken locks the token row, checks it is still in input.From and
// applies the move. A serving move claims the counter with a conditional
// update, so of two racing claims exactly one succeeds.
func (s *Store) TransitionToken(ctx context.Context, input store.TransitionInput) (token models.Token, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if !validUUID(input.TokenID) {
		return models.Token{}, store.ErrTokenNotFound
	}
	var status string
	var counterIDNull sql.NullInt64
	err = tx.QueryRow(ctx, `SELECT status, counter_id FROM tokens WHERE id = $1 FOR UPDATE`, input.TokenID).Scan(&status, &counterIDNull)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, store.ErrTokenNotFound
		}
		return models.Token{}, err
	}
	if status != input.From {
		return models.Token{}, store.ErrStaleState
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	switch input.To {
	case models.StatusServing:
		if input.CounterID == nil {
			return models.Token{}, store.ErrCounterNotFound
		}
		if err = claimCounter(ctx, tx, *input.CounterID, input.TokenID, occurredAt); err != nil {
			return models.Token{}, err
		}
		_, err = tx.Exec(ctx, `
			UPDATE tokens
			SET status = $2, counter_id = $3, called_at = $4, served_at = $4, version = version + 1, updated_at = $4
			WHERE id = $1
		`, input.TokenID, input.To, *input.CounterID, occurredAt)
	case models.StatusCompleted:
		if err = releaseCounter(ctx, tx, counterIDNull, input.TokenID, occurredAt); err != nil {
			return models.Token{}, err
		}
		_, err = tx.Exec(ctx, `
			UPDATE tokens
			SET status = $2, completed_at = $3, version = version + 1, updated_at = $3
			WHERE id = $1
		`, input.TokenID, input.To, occurredAt)
	case models.StatusNoShow, models.StatusCancelled:
		if err = releaseCounter(ctx, tx, counterIDNull, input.TokenID, occurredAt); err != nil {
			return models.Token{}, err
		}
		_, err = tx.Exec(ctx, `
			UPDATE tokens
			SET status = $2, counter_id = NULL, version = version + 1, updated_at = $3
			WHERE id = $1
		`, input.TokenID, input.To, occurredAt)
	default:
		_, err = tx.Exec(ctx, `
			UPDATE tokens SET status = $2, version = version + 1, updated_at = $3 WHERE id = $1
		`, input.TokenID, input.To, occurredAt)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return models.Token{}, store.ErrCounterUnavailable
		}
		return models.Token{}, err
	}

	token, err = getToken(ctx, tx, input.TokenID)
	if err != nil {
		return models.Token{}, err
	}
	if err = insertChangeEvent(ctx, tx, store.TableTokens, store.OpUpdate, token.ID, token); err != nil {
		return models.Token{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return models.Token{}, store.ErrCounterUnavailable
		}
		return models.Token{}, err
	}
	return token, nil
}

func claimCounter(ctx context.Context, tx pgx.Tx, counterID int64, tokenID string, at time.Time) error {
	counter, err := scanCounter(tx.QueryRow(ctx, `
		UPDATE counters
		SET current_token_id = $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND is_active AND current_token_id IS NULL
		RETURNING `+counterColumns, counterID, tokenID, at))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			if isUniqueViolation(err) {
				return store.ErrCounterUnavailable
			}
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM counters WHERE id = $1)`, counterID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrCounterNotFound
		}
		return store.ErrCounterUnavailable
	}
	return insertChangeEvent(ctx, tx, store.TableCounters, store.OpUpdate, strconv.FormatInt(counter.ID, 10), counter)
}

func releaseCounter(ctx context.Context, tx pgx.Tx, counterID sql.NullInt64, tokenID string, at time.Time) error {
	if !counterID.Valid {
		return nil
	}
	counter, err := scanCounter(tx.QueryRow(ctx, `
		UPDATE counters
		SET current_token_id = NULL, version = version + 1, updated_at = $3
		WHERE id = $1 AND current_token_id = $2
		RETURNING `+counterColumns, counterID.Int64, tokenID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	return insertChangeEvent(ctx, tx, store.TableCounters, store.OpUpdate, strconv.FormatInt(counter.ID, 10), counter)
}

func getToken(ctx context.Context, q querier, tokenID string) (models.Token, error) {
	if !validUUID(tokenID) {
		return models.Token{}, store.ErrTokenNotFound
	}
	token, err := scanToken(q.QueryRow(ctx, `SELECT `+tokenColumns+tokenFrom+` WHERE t.id = $1`, tokenID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, store.ErrTokenNotFound
		}
		return models.Token{}, err
	}
	return token, nil
}

func scanToken(row pgx.Row) (models.Token, error) {
	var token models.Token
	var counterIDNull sql.NullInt64
	var calledAtNull, servedAtNull, completedAtNull sql.NullTime
	err := row.Scan(
		&token.ID, &token.Number, &token.CitizenID, &token.CitizenName, &token.CitizenPhone,
		&token.ServiceType, &token.TimeSlot, &token.EstimatedTime, &token.Status, &token.Priority, &counterIDNull,
		&token.QRPayload, &token.Notes, &calledAtNull, &servedAtNull, &completedAtNull, &token.Version, &token.CreatedAt, &token.UpdatedAt,
	)
	if err != nil {
		return models.Token{}, err
	}
	token.CounterID = nullInt64Ptr(counterIDNull)
	token.CalledAt = nullTimePtr(calledAtNull)
	token.ServedAt = nullTimePtr(servedAtNull)
	token.CompletedAt = nullTimePtr(completedAtNull)
	return token, nil
}
