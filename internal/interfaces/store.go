package interfaces

import (
	"context"

	"summit-server/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX - общий интерфейс *pgxpool.Pool и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GameStore - хранилище игрового состояния. Каждая операция сервиса выполняется
// ровно в одной транзакции: fn получает GameStoreTx, ошибка из fn откатывает все изменения.
// Ошибки подключения возвращаются обернутыми в models.ErrPersistence.
//
//go:generate mockery --name GameStore --output ./mocks --outpkg mocks --case=underscore
type GameStore interface {
	RunInTx(ctx context.Context, fn func(tx GameStoreTx) error) error
	Ping(ctx context.Context) error
	Close()
}

// GameStoreTx - операции внутри транзакции.
//
//go:generate mockery --name GameStoreTx --output ./mocks --outpkg mocks --case=underscore
type GameStoreTx interface {
	// CreatePlayer сохраняет нового игрока. models.ErrPlayerExists при повторном id.
	CreatePlayer(ctx context.Context, agg *models.PlayerAggregate) error
	// LoadPlayer загружает агрегат игрока с его последней сессией и блокирует строку игрока.
	// models.ErrPlayerNotFound, если игрока нет.
	LoadPlayer(ctx context.Context, playerID string) (*models.PlayerAggregate, error)
	// SavePlayer записывает агрегат целиком и выгружает outbox (транзакции и историю встреч).
	SavePlayer(ctx context.Context, agg *models.PlayerAggregate) error

	// ListTransactions возвращает последние транзакции счета, новые первыми.
	ListTransactions(ctx context.Context, playerID string, limit int) ([]models.ScoreTransaction, error)
	// ListEncounterHistory возвращает историю встреч, новые первыми.
	ListEncounterHistory(ctx context.Context, playerID string, limit int) ([]models.EncounterRecord, error)
	// ListEncounterStates возвращает незавершенные встречи игрока (выбор или продолжение).
	ListEncounterStates(ctx context.Context, playerID string) ([]models.EncounterState, error)

	// ColumnMarkerHolders возвращает игроков (кроме exceptPlayerID), у которых в
	// открытой сессии стоит временный маркер на колонке. Порядок - по player_id.
	ColumnMarkerHolders(ctx context.Context, column int, exceptPlayerID string) ([]string, error)

	// Leaderboard - рейтинг по текущему счету.
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)

	// ReplaceMapEvents заменяет таблицу событий карты производной раскладкой.
	ReplaceMapEvents(ctx context.Context, evs []models.MapEvent) error
	// ListMapEvents возвращает активные события карты.
	ListMapEvents(ctx context.Context) ([]models.MapEvent, error)

	// ResetAll удаляет все данные игроков и сессий.
	ResetAll(ctx context.Context) error
}
