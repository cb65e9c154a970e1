// Package display builds the public board: the waiting look-ahead, serving
// tokens per counter and the day's stats.
package display

import (
	"sort"
	"time"

	"govqueue/internal/models"
)

// Policy controls the waiting look-ahead. Priority tokens are only moved to
// the front inside the window; the service order stays FIFO.
type Policy struct {
	WaitingLimit  int
	PriorityFirst bool
}

type CounterSlot struct {
	CounterID   int64          `json:"counter_id"`
	CounterName string         `json:"counter_name"`
	IsActive    bool           `json:"is_active"`
	OfficerName string         `json:"officer_name,omitempty"`
	Tokens      []models.Token `json:"tokens"`
}

type Board struct {
	Waiting      []models.Token    `json:"waiting"`
	WaitingTotal int               `json:"waiting_total"`
	Serving      []CounterSlot     `json:"serving"`
	Stats        models.QueueStats `json:"stats"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

// FIFO returns the waiting tokens in ascending number order.
func FIFO(tokens []models.Token) []models.Token {
	waiting := make([]models.Token, 0, len(tokens))
	for _, token := range tokens {
		if token.Status == models.StatusWaiting {
			waiting = append(waiting, token)
		}
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].Number < waiting[j].Number })
	return waiting
}

// WaitingQueue is the look-ahead shown on the board.
func (p Policy) WaitingQueue(tokens []models.Token) []models.Token {
	window := FIFO(tokens)
	if p.WaitingLimit > 0 && len(window) > p.WaitingLimit {
		window = window[:p.WaitingLimit]
	}
	if p.PriorityFirst {
		sort.SliceStable(window, func(i, j int) bool { return window[i].Priority && !window[j].Priority })
	}
	return window
}

// ServingByCounter groups serving tokens by counter. Every active counter is
// listed, idle ones with no tokens.
func ServingByCounter(tokens []models.Token, counters []models.Counter) []CounterSlot {
	slots := make(map[int64]*CounterSlot)
	var order []int64
	for _, counter := range counters {
		if !counter.IsActive {
			continue
		}
		slots[counter.ID] = &CounterSlot{
			CounterID:   counter.ID,
			CounterName: counter.Name,
			IsActive:    true,
			OfficerName: counter.OfficerName,
			Tokens:      []models.Token{},
		}
		order = append(order, counter.ID)
	}
	for _, counter := range counters {
		if counter.IsActive {
			continue
		}
		// Inactive counters still show up while a token is being served there.
		slots[counter.ID] = &CounterSlot{CounterID: counter.ID, CounterName: counter.Name, Tokens: []models.Token{}}
	}

	for _, token := range FIFOServing(tokens) {
		if token.CounterID == nil {
			continue
		}
		slot, ok := slots[*token.CounterID]
		if !ok {
			slot = &CounterSlot{CounterID: *token.CounterID, Tokens: []models.Token{}}
			slots[*token.CounterID] = slot
		}
		if len(slot.Tokens) == 0 && !slot.IsActive {
			order = append(order, slot.CounterID)
		}
		slot.Tokens = append(slot.Tokens, token)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	result := make([]CounterSlot, 0, len(order))
	for _, id := range order {
		result = append(result, *slots[id])
	}
	return result
}

// FIFOServing returns serving tokens ordered by number.
func FIFOServing(tokens []models.Token) []models.Token {
	var serving []models.Token
	for _, token := range tokens {
		if token.Status == models.StatusServing {
			serving = append(serving, token)
		}
	}
	sort.Slice(serving, func(i, j int) bool { return serving[i].Number < serving[j].Number })
	return serving
}

// Build assembles a board from the current token and counter sets.
func Build(policy Policy, tokens []models.Token, counters []models.Counter, stats models.QueueStats, now time.Time) Board {
	return Board{
		Waiting:      policy.WaitingQueue(tokens),
		WaitingTotal: len(FIFO(tokens)),
		Serving:      ServingByCounter(tokens, counters),
		Stats:        stats,
		GeneratedAt:  now,
	}
}
