package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BlocksPrefix is the Redis key prefix for per-user block sets:
//
//	Key:     blocks:<user_id>
//	Members: blocked user IDs
const BlocksPrefix = "blocks:"

// RedisBlockStore reads block sets from Redis. The block service owns the
// writes; the core only ever reads.
type RedisBlockStore struct {
	client *redis.Client
}

// NewRedisBlockStore connects to Redis and verifies the connection.
func NewRedisBlockStore(addr string) (*RedisBlockStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("collab: redis connection failed: %w", err)
	}

	return &RedisBlockStore{client: client}, nil
}

// BlockedBy returns the user IDs blocked by userID. Errors are returned so
// the enqueue path can apply its fail-open policy (enqueue without filter,
// log a warning).
func (s *RedisBlockStore) BlockedBy(ctx context.Context, userID string) (map[string]struct{}, error) {
	members, err := s.client.SMembers(ctx, BlocksPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("collab: blocked-by %s: %w", userID, err)
	}

	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return set, nil
}

// Close closes the Redis connection.
func (s *RedisBlockStore) Close() error {
	return s.client.Close()
}
