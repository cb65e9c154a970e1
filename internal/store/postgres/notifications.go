package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"govqueue/internal/models"
	"govqueue/internal/store"
)

func (s *Store) InsertNotification(ctx context.Context, notification models.Notification) error {
	createdAt := notification.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, token_id, type, channel, recipient, status, message, error, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, notification.ID, notification.TokenID, notification.Type, notification.Channel, notification.Recipient,
		notification.Status, notification.Message, notification.Error, notification.SentAt, createdAt)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, tokenID string) ([]models.Notification, error) {
	query := `
		SELECT id, token_id::text, type, channel, recipient, status, message, error, sent_at, created_at
		FROM notifications`
	var args []interface{}
	if tokenID != "" {
		if !validUUID(tokenID) {
			return nil, nil
		}
		query += ` WHERE token_id = $1`
		args = append(args, tokenID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		var sentAtNull sql.NullTime
		if err := rows.Scan(&n.ID, &n.TokenID, &n.Type, &n.Channel, &n.Recipient, &n.Status, &n.Message, &n.Error, &sentAtNull, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.SentAt = nullTimePtr(sentAtNull)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// SaveDailyStats upserts the snapshot for stats.Date. The peak queue size
// only ever grows within a day.
func (s *Store) SaveDailyStats(ctx context.Context, stats models.DailyStats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_stats (date, total_tokens, completed_tokens, avg_wait_time_minutes, avg_service_time_minutes, peak_queue_size, updated_at)
		VALUES ($1::date, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (date) DO UPDATE SET
			total_tokens = EXCLUDED.total_tokens,
			completed_tokens = EXCLUDED.completed_tokens,
			avg_wait_time_minutes = EXCLUDED.avg_wait_time_minutes,
			avg_service_time_minutes = EXCLUDED.avg_service_time_minutes,
			peak_queue_size = GREATEST(queue_stats.peak_queue_size, EXCLUDED.peak_queue_size),
			updated_at = EXCLUDED.updated_at
	`, stats.Date.Format("2006-01-02"), stats.TotalTokens, stats.CompletedTokens, stats.AvgWaitTimeMinutes,
		stats.AvgServiceTimeMinutes, stats.PeakQueueSize, time.Now().UTC())
	return err
}

func (s *Store) GetDailyStats(ctx context.Context, day time.Time) (models.DailyStats, error) {
	var stats models.DailyStats
	err := s.pool.QueryRow(ctx, `
		SELECT date, total_tokens, completed_tokens, avg_wait_time_minutes, avg_service_time_minutes, peak_queue_size, updated_at
		FROM queue_stats WHERE date = $1::date
	`, day.Format("2006-01-02")).Scan(
		&stats.Date, &stats.TotalTokens, &stats.CompletedTokens, &stats.AvgWaitTimeMinutes,
		&stats.AvgServiceTimeMinutes, &stats.PeakQueueSize, &stats.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DailyStats{}, store.ErrStatsNotFound
		}
		return models.DailyStats{}, err
	}
	return stats, nil
}
