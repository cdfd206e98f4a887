package followup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisGateway reads the bot's follow-up list from Redis. The connection
// is established lazily by the client; a store that is down at startup
// is logged and retried on every call rather than treated as fatal.
type RedisGateway struct {
	client *redis.Client
	key    string
}

func NewRedisGateway(address, key string) *RedisGateway {
	client := redis.NewClient(&redis.Options{Addr: address})
	return &RedisGateway{client: client, key: key}
}

func (g *RedisGateway) Available(ctx context.Context) bool {
	if err := g.client.Ping(ctx).Err(); err != nil {
		slog.Warn("follow-up store unreachable", "address", g.client.Options().Addr, "error", err)
		return false
	}
	return true
}

func (g *RedisGateway) Count(ctx context.Context) (int64, error) {
	length, err := g.client.LLen(ctx, g.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return length, nil
}

func (g *RedisGateway) List(ctx context.Context) ([]Entry, error) {
	values, err := g.client.LRange(ctx, g.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	entries := make([]Entry, 0, len(values))
	for i, value := range values {
		var entry Entry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			slog.Warn("skipping malformed follow-up entry", "index", i, "error", err)
			continue
		}
		entry.Index = i
		entries = append(entries, entry)
	}
	return entries, nil
}

// RemoveAt dismisses one entry by position. Redis lists only remove by
// value, so the entry is first overwritten with a process-unique
// sentinel and the sentinel is then removed. Duplicated entries are
// therefore dismissed at the targeted position, not at their first
// occurrence. The two steps are not atomic; with the single admin
// consumer the window is harmless.
func (g *RedisGateway) RemoveAt(ctx context.Context, index int64) error {
	length, err := g.Count(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= length {
		return fmt.Errorf("%w: index %d, queue length %d", ErrNotFound, index, length)
	}

	sentinel := "dismissed-" + uuid.NewString()
	if err := g.client.LSet(ctx, g.key, index, sentinel).Err(); err != nil {
		// The queue may have shrunk between the length check and here.
		if strings.Contains(err.Error(), "index out of range") {
			return fmt.Errorf("%w: index %d", ErrNotFound, index)
		}
		return fmt.Errorf("failed to mark entry %d: %w", index, err)
	}
	if err := g.client.LRem(ctx, g.key, 1, sentinel).Err(); err != nil {
		return fmt.Errorf("failed to remove entry %d: %w", index, err)
	}
	slog.Info("follow-up entry dismissed", "index", index)
	return nil
}

func (g *RedisGateway) Close() error {
	return g.client.Close()
}
