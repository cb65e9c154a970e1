package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"govqueue/internal/metrics"
)

// Dispatcher queues jobs in memory and hands them to a Handler from a fixed
// pool of workers. Send never blocks; jobs are dropped when the queue is full.
type Dispatcher struct {
	jobs    chan Job
	handler Handler
	workers int
	logger  *zap.Logger
	now     func() time.Time
}

func NewDispatcher(handler Handler, workers, queueSize int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		jobs:    make(chan Job, queueSize),
		handler: handler,
		workers: workers,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) Send(tokenID, event string) {
	job := Job{TokenID: tokenID, Event: event, QueuedAt: d.now()}
	select {
	case d.jobs <- job:
	default:
		metrics.NotificationJobsDropped.Inc()
		d.logger.Warn("notification queue full, dropping job", zap.String("token_id", tokenID), zap.String("event", event))
	}
}

// Run processes jobs until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.jobs:
					if err := d.handler.Handle(ctx, job); err != nil {
						d.logger.Error("notification job failed",
							zap.String("token_id", job.TokenID),
							zap.String("event", job.Event),
							zap.Error(err),
						)
					}
				}
			}
		}()
	}
	wg.Wait()
}
