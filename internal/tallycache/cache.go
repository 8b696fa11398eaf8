package tallycache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"campusvote/internal/election"
)

// Cache keeps the latest tally of each election in Redis under
// tally:<election id>. Entries expire after ttl.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a cache. A zero ttl keeps entries until overwritten.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Key returns the Redis key for an election's tally.
func Key(electionID string) string {
	return "tally:" + electionID
}

// Get returns the cached tally; ok is false on a miss.
func (c *Cache) Get(ctx context.Context, electionID string) (t election.Tally, ok bool, err error) {
	raw, err := c.client.Get(ctx, Key(electionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return election.Tally{}, false, nil
	}
	if err != nil {
		return election.Tally{}, false, err
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return election.Tally{}, false, err
	}
	return t, true, nil
}

// Put stores t, replacing any older snapshot.
func (c *Cache) Put(ctx context.Context, t election.Tally) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, Key(t.ElectionID), raw, c.ttl).Err()
}

// Drop removes the cached tally.
func (c *Cache) Drop(ctx context.Context, electionID string) error {
	return c.client.Del(ctx, Key(electionID)).Err()
}
