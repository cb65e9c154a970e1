package postgres

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"govqueue/internal/store"
)

// Subscribe polls change_events from the current end of the log. Each poll
// re-reads the last overlap sequence numbers so rows from transactions that
// committed after a higher seq became visible are still delivered once.
func (s *Store) Subscribe(ctx context.Context, table string) (<-chan store.ChangeEvent, error) {
	var high int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM change_events`).Scan(&high); err != nil {
		return nil, err
	}

	out := make(chan store.ChangeEvent, s.batchSize)
	go func() {
		defer close(out)
		seen := make(map[int64]struct{})
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			events, err := s.readChanges(ctx, table, high-s.overlap)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("change feed poll failed", zap.String("table", table), zap.Error(err))
			}
			fresh := 0
			for _, event := range events {
				if _, dup := seen[event.Seq]; dup {
					continue
				}
				seen[event.Seq] = struct{}{}
				fresh++
				if event.Seq > high {
					high = event.Seq
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
			for seq := range seen {
				if seq <= high-s.overlap {
					delete(seen, seq)
				}
			}
			if fresh > 0 && len(events) == s.batchSize {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

func (s *Store) readChanges(ctx context.Context, table string, after int64) ([]store.ChangeEvent, error) {
	query := `
		SELECT seq, event_id, table_name, op, row_key, payload, created_at
		FROM change_events
		WHERE seq > $1`
	args := []interface{}{after}
	if table != "" {
		query += ` AND table_name = $2`
		args = append(args, table)
	}
	query += ` ORDER BY seq LIMIT ` + strconv.Itoa(s.batchSize)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.ChangeEvent
	for rows.Next() {
		var event store.ChangeEvent
		var payload []byte
		if err := rows.Scan(&event.Seq, &event.ID, &event.Table, &event.Op, &event.Key, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Row = payload
		events = append(events, event)
	}
	return events, rows.Err()
}
