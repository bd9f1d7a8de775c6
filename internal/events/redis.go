package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes execution events to a Redis pub/sub channel so external
// consumers (editor sessions, usage accounting) can follow executions without
// touching the daemon.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects to addr and publishes on channel.
func NewRedisSink(addr, password, channel string) *RedisSink {
	return &RedisSink{
		client:  redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		channel: channel,
	}
}

func (s *RedisSink) Emit(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("events: marshaling %s event: %v", ev.Type, err)
		return
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		// Dropped, not fatal: the sink must never stall an execution.
		log.Printf("events: publishing to %s: %v", s.channel, err)
	}
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
