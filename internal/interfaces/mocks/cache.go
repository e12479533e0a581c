package mocks

import (
	"context"

	"summit-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// Mock LeaderboardCache
type LeaderboardCache struct {
	mock.Mock
}

func (m *LeaderboardCache) Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	args := m.Called(ctx, limit)
	if v := args.Get(0); v != nil {
		return v.([]models.LeaderboardEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *LeaderboardCache) Update(ctx context.Context, entry models.LeaderboardEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *LeaderboardCache) Fill(ctx context.Context, entries []models.LeaderboardEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *LeaderboardCache) Reset(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Mock StockCounter
type StockCounter struct {
	mock.Mock
}

func (m *StockCounter) Reserve(ctx context.Context, item string, quantity, limit int) (int, error) {
	args := m.Called(ctx, item, quantity, limit)
	return args.Int(0), args.Error(1)
}

func (m *StockCounter) Release(ctx context.Context, item string, quantity int) error {
	args := m.Called(ctx, item, quantity)
	return args.Error(0)
}

func (m *StockCounter) Reset(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Mock EventSink
type EventSink struct {
	mock.Mock
}

func (m *EventSink) PublishEvents(ctx context.Context, evs []models.GameEvent) error {
	args := m.Called(ctx, evs)
	return args.Error(0)
}
