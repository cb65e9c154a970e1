package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"govqueue/internal/ids"
	"govqueue/internal/metrics"
	"govqueue/internal/models"
	"govqueue/internal/store"
)

const channelSMS = "sms"

// Job asks for one notification about a token.
type Job struct {
	TokenID  string    `json:"token_id"`
	Event    string    `json:"event"`
	QueuedAt time.Time `json:"queued_at"`
}

// Handler processes one job.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type Store interface {
	GetToken(ctx context.Context, tokenID string) (models.Token, error)
	GetCounter(ctx context.Context, counterID int64) (models.Counter, error)
	InsertNotification(ctx context.Context, notification models.Notification) error
}

type SenderConfig struct {
	Agency         string
	MaxAttempts    int
	Timeout        time.Duration
	InitialBackoff time.Duration
}

// Sender renders the message for a job, delivers it with bounded retries and
// records the outcome.
type Sender struct {
	store          Store
	provider       Provider
	agency         string
	maxAttempts    int
	timeout        time.Duration
	initialBackoff time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

func NewSender(st Store, provider Provider, cfg SenderConfig, logger *zap.Logger) *Sender {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		store:          st,
		provider:       provider,
		agency:         cfg.Agency,
		maxAttempts:    cfg.MaxAttempts,
		timeout:        cfg.Timeout,
		initialBackoff: cfg.InitialBackoff,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Handle returns an error only when the job could not be evaluated. A failed
// delivery is recorded and logged, not returned.
func (s *Sender) Handle(ctx context.Context, job Job) error {
	if !models.ValidEvent(job.Event) {
		s.logger.Warn("dropping notification with unknown event", zap.String("event", job.Event), zap.String("token_id", job.TokenID))
		return nil
	}
	token, err := s.store.GetToken(ctx, job.TokenID)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			s.logger.Warn("dropping notification for unknown token", zap.String("token_id", job.TokenID))
			return nil
		}
		return fmt.Errorf("load token %s: %w", job.TokenID, err)
	}

	data := TemplateData{
		Name:          token.CitizenName,
		Number:        token.Number,
		EstimatedTime: token.EstimatedTime,
		Agency:        s.agency,
		Counter:       s.counterName(ctx, token),
	}
	message, err := Render(job.Event, data)
	if err != nil {
		return err
	}

	notification := models.Notification{
		ID:        ids.New(),
		TokenID:   token.ID,
		Type:      job.Event,
		Channel:   channelSMS,
		Recipient: token.CitizenPhone,
		Message:   message,
		CreatedAt: s.now(),
	}
	if token.CitizenPhone == "" {
		notification.Status = models.NotificationFailed
		notification.Error = "citizen has no phone number"
	} else if err := s.deliver(ctx, message, token.CitizenPhone); err != nil {
		notification.Status = models.NotificationFailed
		notification.Error = err.Error()
	} else {
		sentAt := s.now()
		notification.Status = models.NotificationSent
		notification.SentAt = &sentAt
	}

	metrics.Notifications.WithLabelValues(job.Event, notification.Status).Inc()
	if notification.Status == models.NotificationFailed {
		s.logger.Warn("notification failed",
			zap.String("token_id", token.ID),
			zap.String("event", job.Event),
			zap.String("error", notification.Error),
		)
	} else {
		s.logger.Info("notification sent", zap.String("token_id", token.ID), zap.String("event", job.Event))
	}
	if err := s.store.InsertNotification(ctx, notification); err != nil {
		s.logger.Error("notification log write failed", zap.String("token_id", token.ID), zap.Error(err))
	}
	return nil
}

func (s *Sender) deliver(ctx context.Context, message, recipient string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialBackoff
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return struct{}{}, s.provider.Send(attemptCtx, message, recipient)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(s.maxAttempts)))
	return err
}

func (s *Sender) counterName(ctx context.Context, token models.Token) string {
	if token.CounterID == nil {
		return "the counter"
	}
	counter, err := s.store.GetCounter(ctx, *token.CounterID)
	if err != nil || counter.Name == "" {
		return fmt.Sprintf("Counter %d", *token.CounterID)
	}
	return counter.Name
}
