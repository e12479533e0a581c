package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"summit-server/internal/interfaces"
	"summit-server/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolConfig - параметры пула соединений.
type PoolConfig struct {
	DSN         string
	MaxConns    int
	IdleTimeout time.Duration
}

// Connect создает пул и проверяет подключение.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		config.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.IdleTimeout > 0 {
		config.MaxConnIdleTime = cfg.IdleTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пул соединений: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("не удалось подключиться к БД (ping failed): %w", err)
	}
	return pool, nil
}

// Compile-time check to ensure PgStore implements the interface.
var _ interfaces.GameStore = (*PgStore)(nil)

// PgStore - GameStore поверх PostgreSQL.
type PgStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStore создает хранилище на готовом пуле.
func NewPgStore(pool *pgxpool.Pool, logger *zap.Logger) *PgStore {
	return &PgStore{pool: pool, logger: logger.Named("PgStore")}
}

// RunInTx выполняет fn в транзакции с автоматическим rollback при ошибке или панике.
func (s *PgStore) RunInTx(ctx context.Context, fn func(tx interfaces.GameStoreTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("failed to begin tx: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(context.Background()); rbErr != nil {
				s.logger.Error("Failed to rollback transaction after panic", zap.Error(rbErr), zap.Any("panic", p))
			}
			panic(p)
		}
	}()

	if err := fn(newPgTx(tx, s.logger)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("Failed to rollback transaction", zap.Error(rbErr), zap.NamedError("original_error", err))
		}
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("failed to commit tx: %w", err))
	}
	return nil
}

// Ping проверяет соединение с БД.
func (s *PgStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Close закрывает пул.
func (s *PgStore) Close() {
	s.pool.Close()
}

// Классы SQLSTATE, после которых операцию можно повторить.
const (
	sqlStateConnectionClass  = "08"
	sqlStateSerialization    = "40001"
	sqlStateDeadlock         = "40P01"
	sqlStateAdminShutdown    = "57P01"
	sqlStateCannotConnectNow = "57P03"
	sqlStateUniqueViolation  = "23505"
)

// classify помечает ошибки соединения и конфликтов сериализации как models.ErrPersistence.
// Ошибки игровой валидации и прочие ошибки БД возвращаются как есть.
func classify(err error) error {
	if err == nil || errors.Is(err, models.ErrPersistence) {
		return err
	}
	var gameErr *models.GameError
	if errors.As(err, &gameErr) {
		return err
	}
	if isRetryable(err) {
		return fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}
	return err
}

func isRetryable(err error) bool {
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerialization, sqlStateDeadlock, sqlStateAdminShutdown, sqlStateCannotConnectNow:
			return true
		}
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == sqlStateConnectionClass
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
