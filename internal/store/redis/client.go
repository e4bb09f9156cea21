// Package redis caches best-effort unread counters so that message fan-out
// does not recompute counts from Postgres per recipient. Counters carry a TTL:
// an evicted key is simply a cache miss and gets recomputed.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	counterTTL = 24 * time.Hour
	scanBatch  = 200
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func key(conversationID, viewerID string) string {
	return "unread:" + conversationID + ":" + viewerID
}

// Incr increments the cached counter if it exists. hit=false means the caller
// must recompute the authoritative value and Set it.
func (c *Client) Incr(ctx context.Context, conversationID, viewerID string) (int, bool, error) {
	k := key(conversationID, viewerID)
	exists, err := c.cli.Exists(ctx, k).Result()
	if err != nil {
		return 0, false, err
	}
	if exists == 0 {
		return 0, false, nil
	}
	n, err := c.cli.Incr(ctx, k).Result()
	if err != nil {
		return 0, false, err
	}
	c.cli.Expire(ctx, k, counterTTL)
	return int(n), true, nil
}

func (c *Client) Set(ctx context.Context, conversationID, viewerID string, n int) error {
	return c.cli.Set(ctx, key(conversationID, viewerID), n, counterTTL).Err()
}

func (c *Client) Reset(ctx context.Context, conversationID, viewerID string) error {
	return c.cli.Set(ctx, key(conversationID, viewerID), 0, counterTTL).Err()
}

// Invalidate drops every viewer's counter for a conversation (assignment
// handoff). SCAN keeps this non-blocking on large keyspaces.
func (c *Client) Invalidate(ctx context.Context, conversationID string) error {
	var cursor uint64
	pattern := "unread:" + conversationID + ":*"
	for {
		keys, next, err := c.cli.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.cli.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
