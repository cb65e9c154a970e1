package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"govqueue/internal/display"
	"govqueue/internal/models"
	"govqueue/internal/stats"
	"govqueue/internal/store"
)

// Source is the read side the display replica is seeded from.
type Source interface {
	store.ChangeFeed
	ListTokens(ctx context.Context, filter store.TokenFilter) ([]models.Token, error)
	ListCounters(ctx context.Context, activeOnly bool) ([]models.Counter, error)
}

type Options struct {
	Policy      display.Policy
	DefaultWait float64
	// Location decides where the queue day starts. Defaults to UTC.
	Location *time.Location
	Now      func() time.Time
	Logger   *zap.Logger
}

// Envelope is what SockJS clients receive.
type Envelope struct {
	Type      string          `json:"type"`
	Table     string          `json:"table,omitempty"`
	Op        string          `json:"op,omitempty"`
	Key       string          `json:"key,omitempty"`
	Row       json.RawMessage `json:"row,omitempty"`
	Board     *display.Board  `json:"board,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Server keeps a display cache in sync with the change feed and pushes
// updates to SockJS clients and SSE subscribers.
type Server struct {
	source Source
	cache  *display.Cache
	hub    *Hub
	policy display.Policy
	wait   float64
	now    func() time.Time
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[int]chan display.Board
	next int
}

func NewServer(source Source, hub *Hub, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		loc := opts.Location
		opts.Now = func() time.Time { return time.Now().In(loc) }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		source: source,
		cache:  display.NewCache(),
		hub:    hub,
		policy: opts.Policy,
		wait:   opts.DefaultWait,
		now:    opts.Now,
		logger: opts.Logger,
		subs:   make(map[int]chan display.Board),
	}
}

// Run subscribes to the feed before the initial read so nothing committed in
// between is lost, then applies events until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	events, err := s.source.Subscribe(ctx, "")
	if err != nil {
		return err
	}
	if err := s.Reload(ctx); err != nil {
		return err
	}

	prune := time.NewTicker(time.Hour)
	defer prune.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-prune.C:
			start, _ := stats.DayWindow(s.now())
			if removed := s.cache.Prune(start); removed > 0 {
				s.logger.Info("pruned display cache", zap.Int("removed", removed))
			}
		case event, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("change feed closed")
			}
			s.Handle(event)
		}
	}
}

// Reload seeds the cache with today's tokens, every open token and all
// counters.
func (s *Server) Reload(ctx context.Context) error {
	start, end := stats.DayWindow(s.now())
	today, err := s.source.ListTokens(ctx, store.TokenFilter{CreatedFrom: start, CreatedTo: end})
	if err != nil {
		return err
	}
	open, err := s.source.ListTokens(ctx, store.TokenFilter{Statuses: []string{models.StatusWaiting, models.StatusServing}})
	if err != nil {
		return err
	}
	counters, err := s.source.ListCounters(ctx, false)
	if err != nil {
		return err
	}
	s.cache.Load(append(today, open...), counters)
	s.publishBoard()
	return nil
}

// Handle applies one change event. Stale or duplicate events change nothing
// and are not forwarded.
func (s *Server) Handle(event store.ChangeEvent) {
	applied, err := s.cache.Apply(event)
	if err != nil {
		s.logger.Warn("discard change event", zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	if !applied {
		return
	}
	payload, err := json.Marshal(Envelope{
		Type:      "change",
		Table:     event.Table,
		Op:        event.Op,
		Key:       event.Key,
		Row:       event.Row,
		CreatedAt: event.CreatedAt,
	})
	if err == nil {
		s.hub.Broadcast(payload, event.Table)
	}
	s.publishBoard()
}

func (s *Server) Board() display.Board {
	return s.cache.Board(s.policy, s.now(), s.wait)
}

// Subscribe returns a channel of board snapshots, closed when ctx ends.
func (s *Server) Subscribe(ctx context.Context) <-chan display.Board {
	ch := make(chan display.Board, 4)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

func (s *Server) publishBoard() {
	board := s.Board()
	payload, err := json.Marshal(Envelope{Type: TopicBoard, Board: &board, CreatedAt: board.GeneratedAt})
	if err == nil {
		s.hub.Broadcast(payload, TopicBoard)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- board:
		default:
		}
	}
}
