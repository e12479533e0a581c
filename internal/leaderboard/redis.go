// Package leaderboard - redis-кэш рейтинга и глобальный учет тиража ограниченных предметов.
package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"summit-server/internal/interfaces"
	"summit-server/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPrefix = "summit"
	// totalScoreWeight разводит равные текущие счета по общему счету внутри одного float64.
	totalScoreWeight = 1e7
)

var (
	_ interfaces.LeaderboardCache = (*RedisCache)(nil)
	_ interfaces.StockCounter     = (*RedisStock)(nil)
)

// RedisCache хранит рейтинг в ZSET (порядок) и HASH (строки рейтинга).
type RedisCache struct {
	client  redis.UniversalClient
	zsetKey string
	rowsKey string
	logger  *zap.Logger
}

// NewRedisCache создает кэш рейтинга. prefix отделяет ключи разных инсталляций.
func NewRedisCache(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisCache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisCache{
		client:  client,
		zsetKey: prefix + ":leaderboard",
		rowsKey: prefix + ":leaderboard:rows",
		logger:  logger.Named("RedisLeaderboard"),
	}
}

func sortScore(e models.LeaderboardEntry) float64 {
	total := e.TotalScore
	if total < 0 {
		total = 0
	}
	if total >= totalScoreWeight {
		total = totalScoreWeight - 1
	}
	return float64(e.CurrentScore)*totalScoreWeight + float64(total)
}

// Top возвращает первые limit строк. Пустой срез означает промах кэша.
func (c *RedisCache) Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	ids, err := c.client.ZRevRange(ctx, c.zsetKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard zset: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := c.client.HMGet(ctx, c.rowsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard rows: %w", err)
	}
	entries := make([]models.LeaderboardEntry, 0, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			c.logger.Warn("Leaderboard row missing, treating cache as stale", zap.String("playerID", ids[i]))
			return nil, nil
		}
		var e models.LeaderboardEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("failed to decode leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if sa, sb := sortScore(a), sortScore(b); sa != sb {
			return sa > sb
		}
		return a.PlayerID < b.PlayerID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// Update записывает строку игрока.
func (c *RedisCache) Update(ctx context.Context, e models.LeaderboardEntry) error {
	if e.PlayerID == "" {
		return errors.New("leaderboard entry without player id")
	}
	row, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode leaderboard row: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, c.zsetKey, redis.Z{Score: sortScore(e), Member: e.PlayerID})
	pipe.HSet(ctx, c.rowsKey, e.PlayerID, row)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update leaderboard: %w", err)
	}
	return nil
}

// Fill заменяет содержимое кэша.
func (c *RedisCache) Fill(ctx context.Context, entries []models.LeaderboardEntry) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.zsetKey, c.rowsKey)
	for _, e := range entries {
		row, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode leaderboard row: %w", err)
		}
		pipe.ZAdd(ctx, c.zsetKey, redis.Z{Score: sortScore(e), Member: e.PlayerID})
		pipe.HSet(ctx, c.rowsKey, e.PlayerID, row)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to fill leaderboard: %w", err)
	}
	c.logger.Debug("Leaderboard cache filled", zap.Int("count", len(entries)))
	return nil
}

// Reset очищает кэш.
func (c *RedisCache) Reset(ctx context.Context) error {
	if err := c.client.Del(ctx, c.zsetKey, c.rowsKey).Err(); err != nil {
		return fmt.Errorf("failed to reset leaderboard: %w", err)
	}
	return nil
}

// reserveScript атомарно увеличивает счетчик проданных единиц, если тираж позволяет.
// Возвращает остаток или -1 при нехватке.
var reserveScript = redis.NewScript(`
local sold = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local qty = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
if sold + qty > limit then
  return -1
end
sold = redis.call('HINCRBY', KEYS[1], ARGV[1], qty)
return limit - sold
`)

// releaseScript уменьшает счетчик, не опуская его ниже нуля.
var releaseScript = redis.NewScript(`
local sold = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local qty = tonumber(ARGV[2])
if qty > sold then
  qty = sold
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], -qty)
`)

// RedisStock - счетчик проданных ограниченных предметов в HASH.
type RedisStock struct {
	client redis.UniversalClient
	key    string
	logger *zap.Logger
}

// NewRedisStock создает счетчик тиража.
func NewRedisStock(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisStock {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisStock{client: client, key: prefix + ":stock:sold", logger: logger.Named("RedisStock")}
}

// Reserve резервирует quantity единиц предмета с тиражом limit.
func (s *RedisStock) Reserve(ctx context.Context, item string, quantity, limit int) (int, error) {
	left, err := reserveScript.Run(ctx, s.client, []string{s.key}, item, quantity, limit).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve stock for %s: %w", item, err)
	}
	if left < 0 {
		return 0, models.NewGameError(models.ErrItemOutOfStock, "「%s」已售罄。", item)
	}
	s.logger.Debug("Stock reserved", zap.String("item", item), zap.Int("quantity", quantity), zap.Int("remaining", left))
	return left, nil
}

// Release возвращает резерв.
func (s *RedisStock) Release(ctx context.Context, item string, quantity int) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key}, item, quantity).Err(); err != nil {
		return fmt.Errorf("failed to release stock for %s: %w", item, err)
	}
	return nil
}

// Reset обнуляет счетчики.
func (s *RedisStock) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to reset stock: %w", err)
	}
	return nil
}
