package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// KEYS[1] counter, KEYS[2] dimension index. ARGV: amount, limit, dimension.
const incrementWithCeilingScript = `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

if limit >= 0 and amount > limit - current then
  return {current, 0}
end

current = redis.call("INCRBY", KEYS[1], amount)
redis.call("SADD", KEYS[2], ARGV[3])
return {current, 1}
`

// KEYS[1] dimension index. ARGV[1] key prefix for the tenant.
const resetScript = `
local dims = redis.call("SMEMBERS", KEYS[1])
for _, dim in ipairs(dims) do
  redis.call("DEL", ARGV[1] .. dim)
end
redis.call("DEL", KEYS[1])
return #dims
`

// RedisStore keeps counters in Redis so several instances share them.
// Keys for one tenant share a hash tag and land on the same cluster slot.
type RedisStore struct {
	client    *redis.Client
	increment *redis.Script
	reset     *redis.Script
	prefix    string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:    client,
		increment: redis.NewScript(incrementWithCeilingScript),
		reset:     redis.NewScript(resetScript),
		prefix:    "entitlements:usage:",
	}
}

func (s *RedisStore) tenantPrefix(tenantID snowflake.ID) string {
	return fmt.Sprintf("%s{%s}:", s.prefix, tenantID.String())
}

func (s *RedisStore) counterKey(tenantID snowflake.ID, dimension string) string {
	return s.tenantPrefix(tenantID) + "c:" + dimension
}

func (s *RedisStore) indexKey(tenantID snowflake.ID) string {
	return s.tenantPrefix(tenantID) + "dims"
}

func (s *RedisStore) IncrementWithCeiling(ctx context.Context, tenantID snowflake.ID, dimension string, amount, limit int64) (int64, bool, error) {
	res, err := s.increment.Run(ctx, s.client,
		[]string{s.counterKey(tenantID, dimension), s.indexKey(tenantID)},
		amount, limit, dimension,
	).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, errors.New("unexpected counter script reply")
	}
	return res[0], res[1] == 1, nil
}

func (s *RedisStore) Counters(ctx context.Context, tenantID snowflake.ID) (map[string]int64, error) {
	dims, err := s.client.SMembers(ctx, s.indexKey(tenantID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(dims))
	if len(dims) == 0 {
		return out, nil
	}

	keys := make([]string, len(dims))
	for i, dim := range dims {
		keys[i] = s.counterKey(tenantID, dim)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		count, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", dims[i], err)
		}
		out[dims[i]] = count
	}
	return out, nil
}

func (s *RedisStore) Reset(ctx context.Context, _ *gorm.DB, tenantID snowflake.ID) error {
	return s.reset.Run(ctx, s.client,
		[]string{s.indexKey(tenantID)},
		s.tenantPrefix(tenantID)+"c:",
	).Err()
}
