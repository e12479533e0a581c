package mocks

import (
	"context"

	"summit-server/internal/interfaces"
	"summit-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// Mock GameStore. RunInTx передает в fn мок Tx, если он задан.
type GameStore struct {
	mock.Mock
	Tx *GameStoreTx
}

func (m *GameStore) RunInTx(ctx context.Context, fn func(tx interfaces.GameStoreTx) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m.Tx)
}

func (m *GameStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *GameStore) Close() {
	m.Called()
}

// Mock GameStoreTx
type GameStoreTx struct {
	mock.Mock
}

func (m *GameStoreTx) CreatePlayer(ctx context.Context, agg *models.PlayerAggregate) error {
	args := m.Called(ctx, agg)
	return args.Error(0)
}

func (m *GameStoreTx) LoadPlayer(ctx context.Context, playerID string) (*models.PlayerAggregate, error) {
	args := m.Called(ctx, playerID)
	if v := args.Get(0); v != nil {
		return v.(*models.PlayerAggregate), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *GameStoreTx) SavePlayer(ctx context.Context, agg *models.PlayerAggregate) error {
	args := m.Called(ctx, agg)
	return args.Error(0)
}

func (m *GameStoreTx) ListTransactions(ctx context.Context, playerID string, limit int) ([]models.ScoreTransaction, error) {
	args := m.Called(ctx, playerID, limit)
	if v := args.Get(0); v != nil {
		return v.([]models.ScoreTransaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *GameStoreTx) ListEncounterHistory(ctx context.Context, playerID string, limit int) ([]models.EncounterRecord, error) {
	args := m.Called(ctx, playerID, limit)
	if v := args.Get(0); v != nil {
		return v.([]models.EncounterRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *GameStoreTx) ListEncounterStates(ctx context.Context, playerID string) ([]models.EncounterState, error) {
	args := m.Called(ctx, playerID)
	if v := args.Get(0); v != nil {
		return v.([]models.EncounterState), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *GameStoreTx) ColumnMarkerHolders(ctx context.Context, column int, exceptPlayerID string) ([]string, error) {
	args := m.Called(ctx, column, exceptPlayerID)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *GameStoreTx) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	args := m.Called(ctx, limit)
	if v := args.Get(0); v != nil {
		return v.([]models.LeaderboardEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *GameStoreTx) ReplaceMapEvents(ctx context.Context, evs []models.MapEvent) error {
	args := m.Called(ctx, evs)
	return args.Error(0)
}

func (m *GameStoreTx) ListMapEvents(ctx context.Context) ([]models.MapEvent, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]models.MapEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *GameStoreTx) ResetAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
