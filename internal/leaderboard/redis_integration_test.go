package leaderboard_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"summit-server/internal/leaderboard"
	"summit-server/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type RedisSuite struct {
	suite.Suite
	ctx         context.Context
	logger      *zap.Logger
	rdContainer *tcredis.RedisContainer
	client      *redis.Client
	cache       *leaderboard.RedisCache
	stock       *leaderboard.RedisStock
}

func (s *RedisSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error
	s.logger, err = zap.NewDevelopment()
	s.Require().NoError(err)

	s.rdContainer, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithStartupTimeout(1*time.Minute)),
	)
	s.Require().NoError(err, "Failed to start redis container")

	host, err := s.rdContainer.Host(s.ctx)
	s.Require().NoError(err)
	port, err := s.rdContainer.MappedPort(s.ctx, "6379/tcp")
	s.Require().NoError(err)

	s.client = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	s.Require().NoError(s.client.Ping(s.ctx).Err())

	s.cache = leaderboard.NewRedisCache(s.client, "test", s.logger)
	s.stock = leaderboard.NewRedisStock(s.client, "test", s.logger)
}

func (s *RedisSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
	if s.rdContainer != nil {
		if err := s.rdContainer.Terminate(s.ctx); err != nil {
			s.logger.Error("Failed to terminate redis container", zap.Error(err))
		}
	}
}

func (s *RedisSuite) SetupTest() {
	s.Require().NoError(s.client.FlushDB(s.ctx).Err(), "Failed to flush Redis DB")
}

func entry(id string, current, total int) models.LeaderboardEntry {
	return models.LeaderboardEntry{PlayerID: id, Username: id, Faction: models.FactionAdopter, CurrentScore: current, TotalScore: total}
}

func (s *RedisSuite) TestEmptyCacheIsMiss() {
	top, err := s.cache.Top(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(top)
}

func (s *RedisSuite) TestFillAndTopOrdering() {
	s.Require().NoError(s.cache.Fill(s.ctx, []models.LeaderboardEntry{
		entry("low", 5, 5),
		entry("tie-b", 20, 40),
		entry("top", 50, 50),
		entry("tie-a", 20, 40),
		entry("tie-total", 20, 60),
	}))

	top, err := s.cache.Top(s.ctx, 4)
	s.Require().NoError(err)
	s.Require().Len(top, 4)
	s.Equal("top", top[0].PlayerID)
	s.Equal("tie-total", top[1].PlayerID, "equal current score is decided by total score")
	s.Equal("tie-a", top[2].PlayerID)
	s.Equal("tie-b", top[3].PlayerID)
	for i, e := range top {
		s.Equal(i+1, e.Rank)
	}
}

func (s *RedisSuite) TestUpdateReplacesRow() {
	s.Require().NoError(s.cache.Fill(s.ctx, []models.LeaderboardEntry{entry("a", 10, 10), entry("b", 20, 20)}))
	s.Require().NoError(s.cache.Update(s.ctx, entry("a", 30, 40)))
	s.Error(s.cache.Update(s.ctx, models.LeaderboardEntry{}))

	top, err := s.cache.Top(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(top, 2)
	s.Equal("a", top[0].PlayerID)
	s.Equal(40, top[0].TotalScore)

	s.Require().NoError(s.cache.Reset(s.ctx))
	top, err = s.cache.Top(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(top)
}

func (s *RedisSuite) TestMissingRowIsTreatedAsMiss() {
	s.Require().NoError(s.cache.Fill(s.ctx, []models.LeaderboardEntry{entry("a", 10, 10)}))
	s.Require().NoError(s.client.Del(s.ctx, "test:leaderboard:rows").Err())

	top, err := s.cache.Top(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(top)
}

func (s *RedisSuite) TestStockReserveAndRelease() {
	left, err := s.stock.Reserve(s.ctx, "限量护符", 1, 2)
	s.Require().NoError(err)
	s.Equal(1, left)

	left, err = s.stock.Reserve(s.ctx, "限量护符", 1, 2)
	s.Require().NoError(err)
	s.Equal(0, left)

	_, err = s.stock.Reserve(s.ctx, "限量护符", 1, 2)
	s.ErrorIs(err, models.ErrItemOutOfStock)

	s.Require().NoError(s.stock.Release(s.ctx, "限量护符", 5))
	left, err = s.stock.Reserve(s.ctx, "限量护符", 2, 2)
	s.Require().NoError(err)
	s.Equal(0, left)

	s.Require().NoError(s.stock.Reset(s.ctx))
	left, err = s.stock.Reserve(s.ctx, "限量护符", 1, 2)
	s.Require().NoError(err)
	s.Equal(1, left)
}

func TestRedisSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(RedisSuite))
}
