package leaderboard

import (
	"context"
	"sync"

	"summit-server/internal/interfaces"
	"summit-server/internal/models"
)

var _ interfaces.StockCounter = (*MemoryStock)(nil)

// MemoryStock - счетчик тиража в памяти для однопроцессного запуска без redis.
type MemoryStock struct {
	mu   sync.Mutex
	sold map[string]int
}

// NewMemoryStock создает пустой счетчик.
func NewMemoryStock() *MemoryStock {
	return &MemoryStock{sold: make(map[string]int)}
}

func (s *MemoryStock) Reserve(_ context.Context, item string, quantity, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sold[item]+quantity > limit {
		return 0, models.NewGameError(models.ErrItemOutOfStock, "「%s」已售罄。", item)
	}
	s.sold[item] += quantity
	return limit - s.sold[item], nil
}

func (s *MemoryStock) Release(_ context.Context, item string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sold[item] -= min(quantity, s.sold[item])
	return nil
}

func (s *MemoryStock) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sold = make(map[string]int)
	return nil
}
