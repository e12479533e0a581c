// Package service - фасад игрового ядра. Каждая операция: блокировка игрока,
// одна транзакция хранилища, вызов движка, сохранение агрегата и публикация
// событий после коммита.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"summit-server/internal/achievements"
	"summit-server/internal/content"
	"summit-server/internal/engine"
	"summit-server/internal/events"
	"summit-server/internal/interfaces"
	"summit-server/internal/locker"
	"summit-server/internal/maplayout"
	"summit-server/internal/metrics"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

const (
	// maxTxAttempts - первая попытка плюс один повтор после ошибки хранилища.
	maxTxAttempts = 2
	// leaderboardCacheSize - сколько строк рейтинга загружается в кэш при промахе.
	leaderboardCacheSize = 1000
	defaultListLimit     = 20
	maxListLimit         = 200
	// maxLockSetAttempts - сколько раз операция пересобирает набор блокировок,
	// если за время ожидания появились новые затронутые игроки.
	maxLockSetAttempts = 3
)

// errLockSetChanged - в транзакции затронут игрок, не вошедший в набор блокировок.
var errLockSetChanged = errors.New("lock set changed")

// Deps - зависимости сервиса. Leaderboard, Stock и Metrics необязательны.
type Deps struct {
	Store        interfaces.GameStore
	Engine       *engine.Engine
	Achievements *achievements.Engine
	Layout       *maplayout.Layout
	Registry     *content.Registry
	Bus          *events.Bus
	Locker       *locker.Keyed
	Leaderboard  interfaces.LeaderboardCache
	Stock        interfaces.StockCounter
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// Service - фасад операций игры.
type Service struct {
	store        interfaces.GameStore
	engine       *engine.Engine
	achievements *achievements.Engine
	layout       *maplayout.Layout
	registry     *content.Registry
	bus          *events.Bus
	locks        *locker.Keyed
	leaderboard  interfaces.LeaderboardCache
	stock        interfaces.StockCounter
	metrics      *metrics.Metrics
	logger       *zap.Logger

	mapMu       sync.Mutex
	syncedMapAt int64
}

// New собирает сервис и подписывает движок достижений на шину.
func New(d Deps) (*Service, error) {
	if d.Store == nil || d.Engine == nil || d.Bus == nil || d.Layout == nil || d.Registry == nil {
		return nil, fmt.Errorf("%w: service requires store, engine, bus, layout and registry", models.ErrConfig)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Locker == nil {
		d.Locker = locker.New()
	}
	if d.Achievements != nil {
		if err := d.Achievements.Validate(); err != nil {
			return nil, err
		}
		d.Bus.Subscribe(d.Achievements)
	}
	if d.Metrics != nil {
		d.Bus.AddSink(d.Metrics)
	}
	return &Service{
		store:        d.Store,
		engine:       d.Engine,
		achievements: d.Achievements,
		layout:       d.Layout,
		registry:     d.Registry,
		bus:          d.Bus,
		locks:        d.Locker,
		leaderboard:  d.Leaderboard,
		stock:        d.Stock,
		metrics:      d.Metrics,
		logger:       d.Logger.Named("GameService"),
		syncedMapAt:  -1,
	}, nil
}

// opCtx - состояние одной попытки операции.
type opCtx struct {
	ctx   context.Context
	tx    interfaces.GameStoreTx
	scope *events.Scope
	// touched - агрегаты, которые нужно сохранить (основной игрок первым).
	touched []*models.PlayerAggregate
	created map[string]bool
	// onRollback выполняется, если попытка не закоммичена.
	onRollback []func(ctx context.Context)
}

func (o *opCtx) load(playerID string) (*models.PlayerAggregate, error) {
	agg, err := o.tx.LoadPlayer(o.ctx, playerID)
	if err != nil {
		return nil, err
	}
	o.touched = append(o.touched, agg)
	return agg, nil
}

// create регистрирует новый агрегат: он будет вставлен, а не обновлен.
func (o *opCtx) create(agg *models.PlayerAggregate) {
	if o.created == nil {
		o.created = make(map[string]bool, 1)
	}
	o.created[agg.PlayerID()] = true
	o.touched = append(o.touched, agg)
}

// playerOp - тело мутирующей операции над агрегатом игрока.
type playerOp func(o *opCtx) (engine.Outcome, error)

// runTx выполняет fn в транзакции и повторяет один раз после ошибки хранилища.
func (s *Service) runTx(ctx context.Context, op string, fn func(tx interfaces.GameStoreTx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.store.RunInTx(ctx, fn)
		if err == nil || !errors.Is(err, models.ErrPersistence) || attempt == maxTxAttempts {
			return err
		}
		s.logger.Warn("Persistence error, retrying operation",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		s.metrics.ObserveRetry(op)
	}
	return err
}

// mutate - общий путь мутирующих операций одного игрока.
func (s *Service) mutate(ctx context.Context, op, playerID string, fn playerOp) (*models.Result, error) {
	return s.mutateMany(ctx, op, []string{playerID}, func(o *opCtx) (engine.Outcome, error) {
		agg, err := o.load(playerID)
		if err != nil {
			return engine.Outcome{}, err
		}
		o.scope = s.bus.NewScope(agg)
		return fn(o)
	})
}

// mutateMany блокирует игроков в лексикографическом порядке. fn сама загружает
// агрегаты через opCtx.load и открывает scope.
func (s *Service) mutateMany(ctx context.Context, op string, playerIDs []string, fn playerOp) (*models.Result, error) {
	started := time.Now()
	log := s.logger.With(zap.String("op", op), zap.Strings("playerIDs", playerIDs))

	unlock, err := s.locks.LockMany(ctx, playerIDs...)
	if err != nil {
		s.metrics.ObserveOp(op, metrics.ResultError, started)
		return nil, fmt.Errorf("failed to acquire player lock: %w", err)
	}
	defer unlock()

	var (
		last *opCtx
		out  engine.Outcome
	)
	err = s.runTx(ctx, op, func(tx interfaces.GameStoreTx) (txErr error) {
		// Предыдущая попытка дошла до коммита и не закоммитилась.
		if last != nil {
			last.rollback(context.WithoutCancel(ctx))
			last = nil
		}
		o := &opCtx{ctx: ctx, tx: tx}
		defer func() {
			if txErr != nil {
				o.rollback(context.WithoutCancel(ctx))
			}
		}()
		res, err := fn(o)
		if err != nil {
			return err
		}
		for _, agg := range o.touched {
			save := tx.SavePlayer
			if o.created[agg.PlayerID()] {
				save = tx.CreatePlayer
			}
			if err := save(ctx, agg); err != nil {
				return err
			}
		}
		out, last = res, o
		return nil
	})
	if err != nil {
		if last != nil {
			last.rollback(context.WithoutCancel(ctx))
		}
		if errors.Is(err, errLockSetChanged) {
			log.Debug("Lock set changed during operation")
			return nil, err
		}
		return s.failure(log, op, started, err)
	}
	committed := last

	s.bus.Commit(ctx, committed.scope)
	for _, agg := range committed.touched {
		s.refreshLeaderboard(ctx, agg)
	}
	result := &models.Result{OK: out.OK, Code: out.Code, Message: out.Message, Events: committed.scope.Events()}
	if len(out.Data) > 0 {
		result.Data = out.Data
	}
	s.observe(op, started, result)
	log.Debug("Operation committed", zap.Bool("ok", result.OK), zap.Int("events", len(result.Events)))
	return result, nil
}

func (o *opCtx) rollback(ctx context.Context) {
	for i := len(o.onRollback) - 1; i >= 0; i-- {
		o.onRollback[i](ctx)
	}
	o.onRollback = nil
}

// failure переводит ошибку операции в результат: ошибки валидации становятся
// Result{OK:false}, остальные возвращаются вызывающему.
func (s *Service) failure(log *zap.Logger, op string, started time.Time, err error) (*models.Result, error) {
	var gameErr *models.GameError
	if errors.As(err, &gameErr) {
		log.Info("Operation rejected", zap.String("code", models.ErrorCode(err)), zap.String("reason", gameErr.Kind.Error()))
		s.metrics.ObserveOp(op, metrics.ResultRejected, started)
		return models.Fail(gameErr), nil
	}
	log.Error("Operation failed", zap.Error(err))
	s.metrics.ObserveOp(op, metrics.ResultError, started)
	return nil, fmt.Errorf("%s: %w", op, err)
}

func (s *Service) observe(op string, started time.Time, r *models.Result) {
	result := metrics.ResultOK
	if !r.OK {
		result = metrics.ResultRejected
	}
	s.metrics.ObserveOp(op, result, started)
}

// view - операция чтения под блокировкой игрока в транзакции без сохранения.
func (s *Service) view(ctx context.Context, op, playerID string, fn func(tx interfaces.GameStoreTx, agg *models.PlayerAggregate) (*models.Result, error)) (*models.Result, error) {
	started := time.Now()
	log := s.logger.With(zap.String("op", op), zap.String("playerID", playerID))
	unlock, err := s.locks.Lock(ctx, playerID)
	if err != nil {
		s.metrics.ObserveOp(op, metrics.ResultError, started)
		return nil, fmt.Errorf("failed to acquire player lock: %w", err)
	}
	defer unlock()

	var res *models.Result
	err = s.runTx(ctx, op, func(tx interfaces.GameStoreTx) error {
		agg, err := tx.LoadPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		res, err = fn(tx, agg)
		return err
	})
	if err != nil {
		return s.failure(log, op, started, err)
	}
	s.observe(op, started, res)
	return res, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
