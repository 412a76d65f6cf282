//go:build integration

package syncstate_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"chaindir/internal/replication/syncstate"
	"chaindir/pkg/domain"
	"chaindir/pkg/testutil/containers"
)

type RedisStateSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	state *syncstate.Redis
}

func TestRedisStateSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStateSuite))
}

func (s *RedisStateSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.state = syncstate.NewRedis(s.redis.Client)
}

func (s *RedisStateSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStateSuite) TestUnknownIdentityIsZero() {
	id := domain.NewIdentityID(domain.Address{1}, 1)
	ts, err := s.state.LastApplied(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(domain.Timestamp(0), ts)
}

func (s *RedisStateSuite) TestAdvanceIsMonotone() {
	ctx := context.Background()
	id := domain.NewIdentityID(domain.Address{1}, 1)

	s.Require().NoError(s.state.Advance(ctx, id, 10))
	ts, err := s.state.LastApplied(ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.Timestamp(10), ts)

	// A lower timestamp never rolls the register back.
	s.Require().NoError(s.state.Advance(ctx, id, 5))
	ts, err = s.state.LastApplied(ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.Timestamp(10), ts)

	s.Require().NoError(s.state.Advance(ctx, id, 11))
	ts, err = s.state.LastApplied(ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.Timestamp(11), ts)
}

func (s *RedisStateSuite) TestConcurrentAdvanceKeepsMax() {
	ctx := context.Background()
	id := domain.NewIdentityID(domain.Address{2}, 1)
	const writers = 50

	var wg sync.WaitGroup
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(ts domain.Timestamp) {
			defer wg.Done()
			s.Require().NoError(s.state.Advance(ctx, id, ts))
		}(domain.Timestamp(i))
	}
	wg.Wait()

	ts, err := s.state.LastApplied(ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.Timestamp(writers), ts)
}

func (s *RedisStateSuite) TestIdentitiesAreIndependent() {
	ctx := context.Background()
	a := domain.NewIdentityID(domain.Address{3}, 1)
	b := domain.NewIdentityID(domain.Address{4}, 1)

	s.Require().NoError(s.state.Advance(ctx, a, 100))

	ts, err := s.state.LastApplied(ctx, b)
	s.Require().NoError(err)
	s.Equal(domain.Timestamp(0), ts)
}
