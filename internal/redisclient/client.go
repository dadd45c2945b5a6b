package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/unlock.lua
var unlockScript string

type Client struct {
	rdb    *redis.Client
	unlock *redis.Script
}

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:    rdb,
		unlock: redis.NewScript(unlockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireSlotLock takes a short advisory lock on a resource so that
// concurrent payment initiations for the same charger serialize before
// the availability check. Returns a holder token on success, empty
// string if another initiation holds the lock.
func (c *Client) AcquireSlotLock(ctx context.Context, resourceID string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, slotLockKey(resourceID), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("slot lock acquire failed: %w", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseSlotLock releases a slot lock only if token still holds it.
// A lock that expired and was re-acquired by another initiation is left
// untouched.
func (c *Client) ReleaseSlotLock(ctx context.Context, resourceID, token string) error {
	_, err := c.unlock.Run(ctx, c.rdb, []string{slotLockKey(resourceID)}, token).Result()
	if err != nil {
		return fmt.Errorf("slot lock release failed: %w", err)
	}
	return nil
}

func slotLockKey(resourceID string) string {
	return fmt.Sprintf("lock:slot:%s", resourceID)
}
