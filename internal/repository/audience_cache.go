package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
)

// emptyAudience marks a cached audience without members. User ids start at 1.
const emptyAudience = "0"

// AudienceCache keeps resolved recipient id sets in Redis. A nil client behaves
// as an always-empty cache.
type AudienceCache struct {
	client *redis.Client
	prefix string
}

// NewAudienceCache constructs the cache. prefix namespaces every key.
func NewAudienceCache(client *redis.Client, prefix string) *AudienceCache {
	return &AudienceCache{client: client, prefix: prefix}
}

// Members returns the cached ids in ascending order, or appErrors.ErrCacheMiss.
func (c *AudienceCache) Members(ctx context.Context, key string) ([]int64, error) {
	if c.client == nil {
		return nil, appErrors.ErrCacheMiss
	}
	raw, err := c.client.SMembers(ctx, c.prefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil, appErrors.ErrCacheMiss
	}
	return parseMembers(raw)
}

// Store replaces the set under key atomically and sets its expiry.
func (c *AudienceCache) Store(ctx context.Context, key string, ids []int64, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}
	full := c.prefix + key
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, full)
		pipe.SAdd(ctx, full, formatMembers(ids)...)
		pipe.Expire(ctx, full, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store audience %s: %w", key, err)
	}
	return nil
}

func formatMembers(ids []int64) []interface{} {
	if len(ids) == 0 {
		return []interface{}{emptyAudience}
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = strconv.FormatInt(id, 10)
	}
	return members
}

func parseMembers(raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, member := range raw {
		if member == emptyAudience {
			continue
		}
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt audience member %q: %w", member, err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
