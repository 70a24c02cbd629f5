package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TextSender posts plain text. *telegram.Sender satisfies it.
type TextSender interface {
	SendText(ctx context.Context, text string) error
}

// TelegramChannel renders messages with Text and posts them to a chat.
type TelegramChannel struct {
	sender TextSender
}

func NewTelegramChannel(sender TextSender) *TelegramChannel {
	return &TelegramChannel{sender: sender}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Deliver(ctx context.Context, m Message) error {
	return c.sender.SendText(ctx, Text(m))
}

// RedisChannel publishes each message as JSON on a pub/sub channel and
// keeps daily per-event counters.
type RedisChannel struct {
	client    *redis.Client
	channel   string
	retention time.Duration
}

const DefaultRedisChannel = "ticketd:events"

func NewRedisChannel(client *redis.Client, channel string) *RedisChannel {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisChannel{client: client, channel: channel, retention: 30 * 24 * time.Hour}
}

func (c *RedisChannel) Name() string { return "redis" }

func (c *RedisChannel) Deliver(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Event, err)
	}
	key := counterKey(c.channel, m.Event, m.Time)

	pipe := c.client.Pipeline()
	pipe.Publish(ctx, c.channel, body)
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, c.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func counterKey(channel, event string, t time.Time) string {
	return fmt.Sprintf("%s:count:%s:%s", channel, event, t.UTC().Format("20060102"))
}
