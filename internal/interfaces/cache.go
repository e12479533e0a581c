package interfaces

import (
	"context"

	"summit-server/internal/models"
)

// LeaderboardCache - кэш рейтинга поверх хранилища. Пустой результат без
// ошибки означает промах, и сервис читает рейтинг из GameStore.
//
//go:generate mockery --name LeaderboardCache --output ./mocks --outpkg mocks --case=underscore
type LeaderboardCache interface {
	Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	Update(ctx context.Context, entry models.LeaderboardEntry) error
	Fill(ctx context.Context, entries []models.LeaderboardEntry) error
	Reset(ctx context.Context) error
}

// StockCounter - глобальный учет тиража ограниченных предметов.
//
//go:generate mockery --name StockCounter --output ./mocks --outpkg mocks --case=underscore
type StockCounter interface {
	// Reserve резервирует quantity единиц. models.ErrItemOutOfStock, если тираж исчерпан.
	Reserve(ctx context.Context, item string, quantity, limit int) (remaining int, err error)
	// Release возвращает резерв после отката операции.
	Release(ctx context.Context, item string, quantity int) error
	Reset(ctx context.Context) error
}
