package display

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"govqueue/internal/models"
	"govqueue/internal/stats"
	"govqueue/internal/store"
)

// Cache is a local replica of tokens and counters fed by change events.
// Events are applied by primary key and only when they carry a newer version,
// so duplicates and reordering leave it unchanged.
type Cache struct {
	mu       sync.RWMutex
	tokens   map[string]models.Token
	counters map[int64]models.Counter
}

func NewCache() *Cache {
	return &Cache{
		tokens:   make(map[string]models.Token),
		counters: make(map[int64]models.Counter),
	}
}

// Load seeds the cache from a full read. Rows already held at a newer version
// are kept.
func (c *Cache) Load(tokens []models.Token, counters []models.Counter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, token := range tokens {
		c.putToken(token)
	}
	for _, counter := range counters {
		c.putCounter(counter)
	}
}

// Apply merges one change event and reports whether the cache changed.
func (c *Cache) Apply(event store.ChangeEvent) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch event.Table {
	case store.TableTokens:
		var token models.Token
		if err := json.Unmarshal(event.Row, &token); err != nil {
			return false, fmt.Errorf("decode token row %s: %w", event.Key, err)
		}
		if token.ID == "" {
			token.ID = event.Key
		}
		return c.putToken(token), nil
	case store.TableCounters:
		var counter models.Counter
		if err := json.Unmarshal(event.Row, &counter); err != nil {
			return false, fmt.Errorf("decode counter row %s: %w", event.Key, err)
		}
		if counter.ID == 0 {
			id, err := strconv.ParseInt(event.Key, 10, 64)
			if err != nil {
				return false, fmt.Errorf("counter key %q: %w", event.Key, err)
			}
			counter.ID = id
		}
		return c.putCounter(counter), nil
	default:
		return false, fmt.Errorf("unknown table %q", event.Table)
	}
}

func (c *Cache) putToken(token models.Token) bool {
	if existing, ok := c.tokens[token.ID]; ok && existing.Version >= token.Version {
		return false
	}
	c.tokens[token.ID] = token
	return true
}

func (c *Cache) putCounter(counter models.Counter) bool {
	if existing, ok := c.counters[counter.ID]; ok && existing.Version >= counter.Version {
		return false
	}
	c.counters[counter.ID] = counter
	return true
}

// Prune drops finished tokens last touched before cutoff.
func (c *Cache) Prune(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, token := range c.tokens {
		if models.Terminal(token.Status) && token.UpdatedAt.Before(cutoff) {
			delete(c.tokens, id)
			removed++
		}
	}
	return removed
}

func (c *Cache) Token(id string) (models.Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	token, ok := c.tokens[id]
	return token, ok
}

func (c *Cache) Snapshot() ([]models.Token, []models.Counter) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tokens := make([]models.Token, 0, len(c.tokens))
	for _, token := range c.tokens {
		tokens = append(tokens, token)
	}
	counters := make([]models.Counter, 0, len(c.counters))
	for _, counter := range c.counters {
		counters = append(counters, counter)
	}
	return tokens, counters
}

// Board renders the cached state.
func (c *Cache) Board(policy Policy, asOf time.Time, defaultWait float64) Board {
	tokens, counters := c.Snapshot()
	return Build(policy, tokens, counters, stats.Compute(tokens, asOf, defaultWait), asOf)
}
