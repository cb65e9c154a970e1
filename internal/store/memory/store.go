// Package memory is a single-process Store. All writes go through one mutex,
// which gives the same atomic sequence and counter-claim guarantees the
// PostgreSQL store gets from nextval and row locks.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"govqueue/internal/ids"
	"govqueue/internal/models"
	"govqueue/internal/store"
)

const subscriberBuffer = 256

type subscriber struct {
	table string
	ch    chan store.ChangeEvent
}

type Store struct {
	mu            sync.Mutex
	tokenSeq      int64
	tokens        map[string]models.Token
	counters      map[int64]models.Counter
	nextCounterID int64
	profiles      map[string]models.Profile
	phones        map[string]string
	notifications []models.Notification
	stats         map[string]models.DailyStats
	feedSeq       int64
	subs          map[int]subscriber
	nextSub       int
	now           func() time.Time
}

func New() *Store {
	return &Store{
		tokens:   make(map[string]models.Token),
		counters: make(map[int64]models.Counter),
		profiles: make(map[string]models.Profile),
		phones:   make(map[string]string),
		stats:    make(map[string]models.DailyStats),
		subs:     make(map[int]subscriber),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) NextTokenNumber(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenSeq++
	return s.tokenSeq, nil
}

func (s *Store) CreateToken(ctx context.Context, token models.Token) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = token.CreatedAt
	token.Version = 1
	if token.Status == "" {
		token.Status = models.StatusWaiting
	}
	if token.Number > s.tokenSeq {
		s.tokenSeq = token.Number
	}
	s.tokens[token.ID] = token
	token = s.decorate(token)
	s.publish(store.TableTokens, store.OpInsert, token.ID, token)
	return token, nil
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	return s.decorate(token), nil
}

func (s *Store) ListTokens(ctx context.Context, filter store.TokenFilter) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.Token
	for _, token := range s.tokens {
		token = s.decorate(token)
		if matchesFilter(token, filter) {
			result = append(result, token)
		}
	}
	if filter.Order == store.OrderRecentDesc {
		sort.Slice(result, func(i, j int) bool {
			if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
				return result[i].Number > result[j].Number
			}
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		})
	} else {
		sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) TransitionToken(ctx context.Context, input store.TransitionInput) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[input.TokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	if token.Status != input.From {
		return models.Token{}, store.ErrStaleState
	}
	at := input.OccurredAt
	if at.IsZero() {
		at = s.now()
	}

	switch input.To {
	case models.StatusServing:
		if input.CounterID == nil {
			return models.Token{}, store.ErrCounterNotFound
		}
		counter, ok := s.counters[*input.CounterID]
		if !ok {
			return models.Token{}, store.ErrCounterNotFound
		}
		if !counter.IsActive || counter.Occupied() {
			return models.Token{}, store.ErrCounterUnavailable
		}
		tokenID := token.ID
		counter.CurrentTokenID = &tokenID
		counter.Version++
		counter.UpdatedAt = at
		s.counters[counter.ID] = counter
		s.publish(store.TableCounters, store.OpUpdate, strconv.FormatInt(counter.ID, 10), counter)

		counterID := counter.ID
		token.CounterID = &counterID
		token.CalledAt = &at
		token.ServedAt = &at
	case models.StatusCompleted:
		s.releaseCounter(token, at)
		token.CompletedAt = &at
	case models.StatusNoShow, models.StatusCancelled:
		s.releaseCounter(token, at)
		token.CounterID = nil
	}

	token.Status = input.To
	token.Version++
	token.UpdatedAt = at
	s.tokens[token.ID] = token
	token = s.decorate(token)
	s.publish(store.TableTokens, store.OpUpdate, token.ID, token)
	return token, nil
}

func (s *Store) releaseCounter(token models.Token, at time.Time) {
	if token.CounterID == nil {
		return
	}
	counter, ok := s.counters[*token.CounterID]
	if !ok || counter.CurrentTokenID == nil || *counter.CurrentTokenID != token.ID {
		return
	}
	counter.CurrentTokenID = nil
	counter.Version++
	counter.UpdatedAt = at
	s.counters[counter.ID] = counter
	s.publish(store.TableCounters, store.OpUpdate, strconv.FormatInt(counter.ID, 10), counter)
}

func (s *Store) GetCounter(ctx context.Context, counterID int64) (models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.counters[counterID]
	if !ok {
		return models.Counter{}, store.ErrCounterNotFound
	}
	return copyCounter(counter), nil
}

func (s *Store) ListCounters(ctx context.Context, activeOnly bool) ([]models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Counter
	for _, counter := range s.counters {
		if activeOnly && !counter.IsActive {
			continue
		}
		result = append(result, copyCounter(counter))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CreateCounter(ctx context.Context, counter models.Counter) (models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if counter.ID == 0 {
		s.nextCounterID++
		counter.ID = s.nextCounterID
	} else if counter.ID > s.nextCounterID {
		s.nextCounterID = counter.ID
	}
	now := s.now()
	counter.CurrentTokenID = nil
	counter.Version = 1
	counter.CreatedAt = now
	counter.UpdatedAt = now
	counter = copyCounter(counter)
	s.counters[counter.ID] = counter
	s.publish(store.TableCounters, store.OpInsert, strconv.FormatInt(counter.ID, 10), counter)
	return copyCounter(counter), nil
}

func (s *Store) UpdateCounter(ctx context.Context, counterID int64, update store.CounterUpdate) (models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.counters[counterID]
	if !ok {
		return models.Counter{}, store.ErrCounterNotFound
	}
	if update.Name != nil {
		counter.Name = *update.Name
	}
	if update.IsActive != nil {
		counter.IsActive = *update.IsActive
	}
	if update.OfficerID != nil {
		officerID := *update.OfficerID
		if officerID == "" {
			counter.OfficerID = nil
		} else {
			counter.OfficerID = &officerID
		}
	}
	if update.OfficerName != nil {
		counter.OfficerName = *update.OfficerName
	}
	if update.Services != nil {
		counter.Services = append([]string(nil), update.Services...)
	}
	counter.Version++
	counter.UpdatedAt = s.now()
	s.counters[counterID] = counter
	s.publish(store.TableCounters, store.OpUpdate, strconv.FormatInt(counterID, 10), counter)
	return copyCounter(counter), nil
}

func (s *Store) CreateProfile(ctx context.Context, profile models.Profile) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.phones[profile.Phone]; taken {
		return models.Profile{}, store.ErrDuplicatePhone
	}
	now := s.now()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	s.profiles[profile.ID] = profile
	s.phones[profile.Phone] = profile.ID
	return profile, nil
}

func (s *Store) GetProfile(ctx context.Context, profileID string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[profileID]
	if !ok {
		return models.Profile{}, store.ErrProfileNotFound
	}
	return profile, nil
}

func (s *Store) GetProfileByPhone(ctx context.Context, phone string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.phones[phone]
	if !ok {
		return models.Profile{}, store.ErrProfileNotFound
	}
	return s.profiles[id], nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.Profile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		result = append(result, profile)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) UpdateRole(ctx context.Context, profileID, role string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[profileID]
	if !ok {
		return models.Profile{}, store.ErrProfileNotFound
	}
	profile.Role = role
	profile.UpdatedAt = s.now()
	s.profiles[profileID] = profile
	return profile, nil
}

func (s *Store) InsertNotification(ctx context.Context, notification models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = s.now()
	}
	s.notifications = append(s.notifications, notification)
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, tokenID string) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Notification
	for _, n := range s.notifications {
		if tokenID == "" || n.TokenID == tokenID {
			result = append(result, n)
		}
	}
	return result, nil
}

func (s *Store) SaveDailyStats(ctx context.Context, stats models.DailyStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stats.Date.Format("2006-01-02")
	if existing, ok := s.stats[key]; ok && existing.PeakQueueSize > stats.PeakQueueSize {
		stats.PeakQueueSize = existing.PeakQueueSize
	}
	stats.UpdatedAt = s.now()
	s.stats[key] = stats
	return nil
}

func (s *Store) GetDailyStats(ctx context.Context, day time.Time) (models.DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.stats[day.Format("2006-01-02")]
	if !ok {
		return models.DailyStats{}, store.ErrStatsNotFound
	}
	return stats, nil
}

func (s *Store) Subscribe(ctx context.Context, table string) (<-chan store.ChangeEvent, error) {
	ch := make(chan store.ChangeEvent, subscriberBuffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = subscriber{table: table, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

// publish must be called with s.mu held. Slow subscribers lose events rather
// than stall writers.
func (s *Store) publish(table, op, key string, row interface{}) {
	if len(s.subs) == 0 {
		return
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return
	}
	s.feedSeq++
	event := store.ChangeEvent{
		Seq:       s.feedSeq,
		ID:        ids.New(),
		Table:     table,
		Op:        op,
		Key:       key,
		Row:       payload,
		CreatedAt: s.now(),
	}
	for _, sub := range s.subs {
		if sub.table != "" && sub.table != table {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

func (s *Store) decorate(token models.Token) models.Token {
	if profile, ok := s.profiles[token.CitizenID]; ok {
		token.CitizenName = profile.FullName
		token.CitizenPhone = profile.Phone
	}
	return token
}

func copyCounter(counter models.Counter) models.Counter {
	if counter.Services != nil {
		counter.Services = append([]string(nil), counter.Services...)
	}
	return counter
}

func matchesFilter(token models.Token, filter store.TokenFilter) bool {
	if len(filter.Statuses) > 0 && !contains(filter.Statuses, token.Status) {
		return false
	}
	if len(filter.ServiceTypes) > 0 && !contains(filter.ServiceTypes, token.ServiceType) {
		return false
	}
	if filter.CitizenID != "" && token.CitizenID != filter.CitizenID {
		return false
	}
	if filter.CounterID != nil && (token.CounterID == nil || *token.CounterID != *filter.CounterID) {
		return false
	}
	if !filter.CreatedFrom.IsZero() && token.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && !token.CreatedAt.Before(filter.CreatedTo) {
		return false
	}
	if filter.Search != "" && !matchesSearch(token, filter.Search) {
		return false
	}
	return true
}

func matchesSearch(token models.Token, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(token.CitizenName), term) ||
		strings.Contains(strings.ToLower(token.CitizenID), term) ||
		strings.HasPrefix(strings.ToLower(token.ID), term) ||
		strconv.FormatInt(token.Number, 10) == term
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}
