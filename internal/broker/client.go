// Package broker wraps Redis Streams as the orchestrator's message broker,
// grounded on the teacher's realtime/bus.redisBus (construct from REDIS_ADDR,
// ping on startup, wrap one *redis.Client) but generalized from a single
// pub/sub fan-out channel to named, consumer-group-backed topics so that a
// webhook, a workflow advance, or a validation response published while no
// worker is listening is not lost the way Redis pub/sub would lose it.
package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/boardflow/orchestrator/internal/platform/logger"
)

const (
	TopicWebhooks   = "boardflow:webhooks"
	TopicWorkflows  = "boardflow:workflows"
	TopicValidation = "boardflow:validations"
	TopicDeadLetter = "boardflow:dead-letter"
)

type Client struct {
	rdb *redis.Client
	log *logger.Logger
}

func New(addr, password string, db int, lg *logger.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Client{rdb: rdb, log: lg.With("service", "broker.Client")}, nil
}

func (c *Client) Raw() *redis.Client { return c.rdb }

func (c *Client) Close() error { return c.rdb.Close() }

// EnsureGroup creates the consumer group for topic if it doesn't already
// exist, starting from the beginning of the stream ("0").
func (c *Client) EnsureGroup(ctx context.Context, topic, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("ensure group %s/%s: %w", topic, group, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}
