package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// UserChannel is the pubsub channel carrying events for one user.
func UserChannel(userID string) string {
	return fmt.Sprintf("events:%s", userID)
}

// PresenceKey counts the instances holding at least one session of a user.
func PresenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}
