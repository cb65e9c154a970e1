package store

import (
	"context"
	"time"

	"govqueue/internal/models"
)

const (
	OrderNumberAsc  = ""
	OrderRecentDesc = "recent"
)

type TokenFilter struct {
	Statuses     []string
	ServiceTypes []string
	CitizenID    string
	CounterID    *int64
	CreatedFrom  time.Time
	CreatedTo    time.Time
	Search       string
	Order        string
	Limit        int
}

// TransitionInput moves a token from From to To. The store applies it only
// while the token is still in From.
type TransitionInput struct {
	TokenID    string
	From       string
	To         string
	CounterID  *int64
	OccurredAt time.Time
}

type CounterUpdate struct {
	Name        *string
	IsActive    *bool
	OfficerID   *string
	OfficerName *string
	Services    []string
}

type TokenStore interface {
	NextTokenNumber(ctx context.Context) (int64, error)
	CreateToken(ctx context.Context, token models.Token) (models.Token, error)
	GetToken(ctx context.Context, tokenID string) (models.Token, error)
	ListTokens(ctx context.Context, filter TokenFilter) ([]models.Token, error)
	TransitionToken(ctx context.Context, input TransitionInput) (models.Token, error)
}

type CounterStore interface {
	GetCounter(ctx context.Context, counterID int64) (models.Counter, error)
	ListCounters(ctx context.Context, activeOnly bool) ([]models.Counter, error)
	CreateCounter(ctx context.Context, counter models.Counter) (models.Counter, error)
	UpdateCounter(ctx context.Context, counterID int64, update CounterUpdate) (models.Counter, error)
}

type ProfileStore interface {
	CreateProfile(ctx context.Context, profile models.Profile) (models.Profile, error)
	GetProfile(ctx context.Context, profileID string) (models.Profile, error)
	GetProfileByPhone(ctx context.Context, phone string) (models.Profile, error)
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	UpdateRole(ctx context.Context, profileID, role string) (models.Profile, error)
}

type NotificationStore interface {
	InsertNotification(ctx context.Context, notification models.Notification) error
	ListNotifications(ctx context.Context, tokenID string) ([]models.Notification, error)
}

type StatsStore interface {
	SaveDailyStats(ctx context.Context, stats models.DailyStats) error
	GetDailyStats(ctx context.Context, day time.Time) (models.DailyStats, error)
}

type Store interface {
	TokenStore
	CounterStore
	ProfileStore
	NotificationStore
	StatsStore
	ChangeFeed
}
