package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one envelope flowing through a topic stream.
type Message struct {
	ID      string
	Kind    string
	Payload json.RawMessage
}

// Publish appends a message to topic, tagging it with kind so consumers can
// dispatch without unmarshaling the whole payload first.
func (c *Client) Publish(ctx context.Context, topic, kind string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"kind":    kind,
			"payload": raw,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Consume reads up to count messages on topic that have not yet been
// delivered to group (XREADGROUP with ">"), blocking up to block when none
// are available. Entries already delivered but not yet acknowledged are not
// read again.
func (c *Client) Consume(ctx context.Context, topic, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{topic, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("consume %s: %w", topic, err)
	}
	var out []Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			out = append(out, toMessage(entry))
		}
	}
	return out, nil
}

func toMessage(entry redis.XMessage) Message {
	m := Message{ID: entry.ID}
	if kind, ok := entry.Values["kind"].(string); ok {
		m.Kind = kind
	}
	if payload, ok := entry.Values["payload"].(string); ok {
		m.Payload = json.RawMessage(payload)
	}
	return m
}

// Ack acknowledges successful processing, removing the message from the
// group's pending entries list.
func (c *Client) Ack(ctx context.Context, topic, group, id string) error {
	return c.rdb.XAck(ctx, topic, group, id).Err()
}

// DeadLetter republishes a message to the dead-letter topic after exhausting
// retries, carrying the original topic/kind and the failure reason.
func (c *Client) DeadLetter(ctx context.Context, originalTopic, kind string, payload json.RawMessage, reason string) error {
	_, err := c.Publish(ctx, TopicDeadLetter, kind, map[string]interface{}{
		"original_topic": originalTopic,
		"payload":        payload,
		"reason":         reason,
		"failed_at":      time.Now().UTC(),
	})
	return err
}
