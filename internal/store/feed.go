package store

import (
	"context"
	"encoding/json"
	"time"
)

const (
	TableTokens   = "tokens"
	TableCounters = "counters"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
)

// ChangeEvent carries the authoritative row after a write. Delivery is
// at-least-once and may be out of order; consumers apply by Key and Version.
type ChangeEvent struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	Op        string          `json:"op"`
	Key       string          `json:"key"`
	Row       json.RawMessage `json:"row"`
	CreatedAt time.Time       `json:"created_at"`
}

// ChangeFeed streams change events for table. An empty table subscribes to
// every table. The channel is closed when ctx ends.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table string) (<-chan ChangeEvent, error)
}

func ValidTable(table string) bool {
	return table == "" || table == TableTokens || table == TableCounters
}
