package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/assistant-relay/internal/common"
)

// slidingWindow keeps one sorted-set member per admitted request scored by its time in ms.
// KEYS[1] bucket; ARGV now_ms, window_ms, max, member.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= limit then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

type RedisLimiter struct {
	client redis.Scripter
	policy Policy
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter, policy Policy) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		policy: policy.normalized(),
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

func (l *RedisLimiter) Admit(ctx context.Context, userID, endpoint string) (bool, error) {
	key := fmt.Sprintf("%s%s:%s", l.prefix, endpoint, userID)
	member, err := common.NewULID()
	if err != nil {
		return false, err
	}
	res, err := slidingWindow.Run(ctx, l.client, []string{key},
		l.now().UnixMilli(),
		l.policy.Window.Milliseconds(),
		l.policy.Max,
		member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis: %w", err)
	}
	return res == 1, nil
}
