package syncstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"chaindir/pkg/domain"
)

var lastAppliedDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "chaindir_sync_last_applied_duration_ms",
	Help:    "Latency of last-applied timestamp reads in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const syncKeyPrefix = "sync:last:"

// advanceScript keeps the register monotone even if two replicas of this
// domain share one Redis, writing only when the candidate is greater.
var advanceScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local ts = tonumber(ARGV[1])
if ts > cur then
  redis.call('SET', KEYS[1], ARGV[1])
end
return 0
`)

// Redis is the Redis-backed State, for deployments where the replica process
// is restartable and the merge guard must survive restarts.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

var _ State = (*Redis)(nil)

func (s *Redis) LastApplied(ctx context.Context, id domain.IdentityID) (domain.Timestamp, error) {
	start := time.Now()
	defer func() {
		lastAppliedDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	raw, err := s.client.Get(ctx, syncKeyPrefix+id.String()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read last applied: %w", err)
	}
	ts, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse last applied: %w", err)
	}
	return domain.Timestamp(ts), nil
}

func (s *Redis) Advance(ctx context.Context, id domain.IdentityID, ts domain.Timestamp) error {
	key := syncKeyPrefix + id.String()
	if err := advanceScript.Run(ctx, s.client, []string{key}, uint64(ts)).Err(); err != nil {
		return fmt.Errorf("advance last applied: %w", err)
	}
	return nil
}
