package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamPublisher is a Handler that appends jobs to a Redis stream for the
// notification service.
type StreamPublisher struct {
	client *redis.Client
	stream string
}

func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream}
}

func (p *StreamPublisher) Handle(ctx context.Context, job Job) error {
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now().UTC()
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"token_id":  job.TokenID,
			"event":     job.Event,
			"queued_at": job.QueuedAt.Format(time.RFC3339Nano),
		},
	}).Err()
}

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	Block    time.Duration
}

// StreamConsumer reads jobs through a consumer group and acknowledges each
// one after its handler returns. Jobs whose handler fails stay pending and
// are retried from the pending list on the next start.
type StreamConsumer struct {
	client  *redis.Client
	cfg     ConsumerConfig
	handler Handler
	logger  *zap.Logger
}

func NewStreamConsumer(client *redis.Client, cfg ConsumerConfig, handler Handler, logger *zap.Logger) *StreamConsumer {
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamConsumer{client: client, cfg: cfg, handler: handler, logger: logger}
}

// EnsureGroup creates the stream and consumer group when missing.
func (c *StreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Run drains this consumer's pending jobs, then reads new ones until ctx is
// cancelled.
func (c *StreamConsumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	if err := c.drainPending(ctx); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("notification stream read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// drainPending walks this consumer's pending list once, oldest first.
func (c *StreamConsumer) drainPending(ctx context.Context) error {
	start := "0"
	for {
		last, n, err := c.read(ctx, start)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		start = last
	}
}

// Poll reads and handles one batch of new jobs and returns how many were read.
func (c *StreamConsumer) Poll(ctx context.Context) (int, error) {
	_, n, err := c.read(ctx, ">")
	return n, err
}

func (c *StreamConsumer) read(ctx context.Context, id string) (string, int, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, id},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}
	if id != ">" {
		// Pending entries are returned immediately.
		args.Block = -1
	}
	streams, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return id, 0, nil
		}
		return id, 0, err
	}

	last, read := id, 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			last = msg.ID
			read++
			job, err := decodeJob(msg.Values)
			if err != nil {
				c.logger.Warn("discarding malformed notification job", zap.String("id", msg.ID), zap.Error(err))
				c.ack(ctx, msg.ID)
				continue
			}
			if err := c.handler.Handle(ctx, job); err != nil {
				c.logger.Error("notification job failed", zap.String("id", msg.ID), zap.String("token_id", job.TokenID), zap.Error(err))
				continue
			}
			c.ack(ctx, msg.ID)
		}
	}
	return last, read, nil
}

func (c *StreamConsumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.logger.Warn("notification ack failed", zap.String("id", id), zap.Error(err))
	}
}

func decodeJob(values map[string]interface{}) (Job, error) {
	tokenID, _ := values["token_id"].(string)
	event, _ := values["event"].(string)
	if tokenID == "" || event == "" {
		return Job{}, errors.New("token_id and event are required")
	}
	job := Job{TokenID: tokenID, Event: event}
	if raw, ok := values["queued_at"].(string); ok {
		if queuedAt, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			job.QueuedAt = queuedAt
		}
	}
	return job, nil
}
