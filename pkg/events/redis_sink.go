package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/plenum-labs/plenum/pkg/contracts"
)

// RedisSink publishes transition events to a Redis channel as JSON.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink creates a sink publishing to the given channel.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// NewRedisSinkFromURL parses a Redis URL and creates a sink.
func NewRedisSinkFromURL(url, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis sink: parse url: %w", err)
	}
	return NewRedisSink(redis.NewClient(opts), channel), nil
}

// Emit implements Sink.
func (s *RedisSink) Emit(ctx context.Context, event *contracts.TransitionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis sink: marshal event %s: %w", event.EventID, err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis sink: publish %s: %w", event.EventID, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
