package signalbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"support-calls/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "signals:"

// RedisStore keeps one list per recipient. The list key expires ttl after the
// last push; per-entry expiry is enforced by Service.Drain.
type RedisStore struct {
	rdb redis.Scripter
	ttl time.Duration
}

func NewRedisStore(rdb redis.Scripter, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (r *RedisStore) Append(ctx context.Context, sig Signal) error {
	b, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return utils.PushWithTTL(ctx, r.rdb, redisKeyPrefix+sig.To, string(b), r.ttl)
}

// Claim skips entries that do not decode; they can never become valid.
func (r *RedisStore) Claim(ctx context.Context, identity string) ([]Signal, error) {
	items, err := utils.ClaimList(ctx, r.rdb, redisKeyPrefix+identity)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", identity, err)
	}
	out := make([]Signal, 0, len(items))
	for _, item := range items {
		var sig Signal
		if err := json.Unmarshal([]byte(item), &sig); err != nil {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}
