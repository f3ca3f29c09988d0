package errorqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKey = "approvalflow:errors"

// RedisQueue stores error entries in a Redis hash keyed by entry ID, so a
// crashed process never loses the backlog.
type RedisQueue struct {
	client redis.UniversalClient
}

func NewRedisQueue(ctx context.Context, addr, password string, db int) (*RedisQueue, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisQueue{client: client}, nil
}

func (q *RedisQueue) Push(ctx context.Context, entry *Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal error entry: %w", err)
	}

	return q.client.HSet(ctx, redisKey, entry.ID, payload).Err()
}

func (q *RedisQueue) List(ctx context.Context) ([]*Entry, error) {
	raw, err := q.client.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list error entries: %w", err)
	}

	entries := make([]*Entry, 0, len(raw))

	for _, payload := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error entry: %w", err)
		}

		entries = append(entries, &entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})

	return entries, nil
}

func (q *RedisQueue) Remove(ctx context.Context, id string) error {
	return q.client.HDel(ctx, redisKey, id).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
