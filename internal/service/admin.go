package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"summit-server/internal/interfaces"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

// Init синхронизирует таблицу событий карты с раскладкой и прогревает кэш рейтинга.
func (s *Service) Init(ctx context.Context) error {
	if err := s.syncMapEvents(ctx); err != nil {
		return err
	}
	if s.leaderboard == nil {
		return nil
	}
	var entries []models.LeaderboardEntry
	err := s.runTx(ctx, "warmLeaderboard", func(tx interfaces.GameStoreTx) error {
		var err error
		entries, err = tx.Leaderboard(ctx, leaderboardCacheSize)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to load leaderboard: %w", err)
	}
	if err := s.leaderboard.Fill(ctx, entries); err != nil {
		s.logger.Warn("Failed to warm leaderboard cache", zap.Error(err))
	}
	return nil
}

// syncMapEvents записывает производную таблицу событий карты, если раскладка
// изменилась с последней синхронизации.
func (s *Service) syncMapEvents(ctx context.Context) error {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	evs, version := s.layout.Snapshot()
	if version == s.syncedMapAt {
		return nil
	}
	err := s.runTx(ctx, "syncMapEvents", func(tx interfaces.GameStoreTx) error {
		return tx.ReplaceMapEvents(ctx, evs)
	})
	if err != nil {
		return fmt.Errorf("failed to sync map events: %w", err)
	}
	s.syncedMapAt = version
	s.logger.Info("Map events synced", zap.Int("count", len(evs)), zap.Int64("version", version))
	return nil
}

// layoutOp выполняет изменение раскладки и синхронизирует таблицу событий карты.
func (s *Service) layoutOp(ctx context.Context, op string, fn func() (*models.Result, error)) (*models.Result, error) {
	started := time.Now()
	res, err := fn()
	if err != nil {
		return s.failure(s.logger.With(zap.String("op", op)), op, started, err)
	}
	if err := s.syncMapEvents(ctx); err != nil {
		s.logger.Error("Overlay changed but map events table is stale", zap.String("op", op), zap.Error(err))
		return nil, err
	}
	s.observe(op, started, res)
	return res, nil
}

// SetManualTrap ставит ловушку на клетку.
func (s *Service) SetManualTrap(ctx context.Context, column, position int, trap string) (*models.Result, error) {
	return s.layoutOp(ctx, "setManualTrap", func() (*models.Result, error) {
		ev, err := s.layout.SetTrap(column, position, trap)
		if err != nil {
			return nil, err
		}
		return &models.Result{OK: true, Message: fmt.Sprintf("已在第%d列第%d格放置陷阱「%s」。", column, position, ev.Name), Data: ev}, nil
	})
}

// RemoveTrapAtPosition убирает ловушку с клетки.
func (s *Service) RemoveTrapAtPosition(ctx context.Context, column, position int) (*models.Result, error) {
	return s.layoutOp(ctx, "removeTrapAtPosition", func() (*models.Result, error) {
		name, removed, err := s.layout.ClearTrap(column, position)
		if err != nil {
			return nil, err
		}
		if !removed {
			return &models.Result{OK: false, Code: models.ErrorCode(models.ErrNotFound), Message: fmt.Sprintf("第%d列第%d格没有陷阱。", column, position)}, nil
		}
		return &models.Result{OK: true, Message: fmt.Sprintf("已移除第%d列第%d格的陷阱「%s」。", column, position, name)}, nil
	})
}

// SetManualEncounter ставит встречу на клетку.
func (s *Service) SetManualEncounter(ctx context.Context, column, position int, encounter string) (*models.Result, error) {
	return s.layoutOp(ctx, "setManualEncounter", func() (*models.Result, error) {
		ev, err := s.layout.SetEncounter(column, position, encounter)
		if err != nil {
			return nil, err
		}
		return &models.Result{OK: true, Message: fmt.Sprintf("已在第%d列第%d格放置遭遇「%s」。", column, position, ev.Name), Data: ev}, nil
	})
}

// RemoveEncounterAtPosition убирает встречу с клетки.
func (s *Service) RemoveEncounterAtPosition(ctx context.Context, column, position int) (*models.Result, error) {
	return s.layoutOp(ctx, "removeEncounterAtPosition", func() (*models.Result, error) {
		name, removed, err := s.layout.ClearEncounter(column, position)
		if err != nil {
			return nil, err
		}
		if !removed {
			return &models.Result{OK: false, Code: models.ErrorCode(models.ErrNotFound), Message: fmt.Sprintf("第%d列第%d格没有遭遇。", column, position)}, nil
		}
		return &models.Result{OK: true, Message: fmt.Sprintf("已移除第%d列第%d格的遭遇「%s」。", column, position, name)}, nil
	})
}

// RegenerateTraps заново расставляет все ловушки по случайным клеткам.
func (s *Service) RegenerateTraps(ctx context.Context) (*models.Result, error) {
	return s.layoutOp(ctx, "regenerateTraps", func() (*models.Result, error) {
		placed, err := s.layout.RegenerateTraps(s.engine.Effects().Roller())
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(placed))
		for k := range placed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, k+" "+placed[k])
		}
		return &models.Result{
			OK:      true,
			Message: fmt.Sprintf("已重新生成 %d 个陷阱：\n%s", len(placed), strings.Join(lines, "\n")),
			Data:    placed,
		}, nil
	})
}

// ResetMapOverlays снимает все изменения ГМ и возвращает карту к базовой раскладке.
func (s *Service) ResetMapOverlays(ctx context.Context) (*models.Result, error) {
	return s.layoutOp(ctx, "resetMapOverlays", func() (*models.Result, error) {
		if err := s.layout.ResetOverlays(); err != nil {
			return nil, err
		}
		evs, _ := s.layout.Snapshot()
		return &models.Result{OK: true, Message: fmt.Sprintf("地图已恢复为默认布局，共 %d 个事件。", len(evs)), Data: evs}, nil
	})
}

// GetMapEvents возвращает активные события карты из хранилища.
func (s *Service) GetMapEvents(ctx context.Context) (*models.Result, error) {
	if err := s.syncMapEvents(ctx); err != nil {
		return nil, err
	}
	var evs []models.MapEvent
	err := s.runTx(ctx, "getMapEvents", func(tx interfaces.GameStoreTx) error {
		var err error
		evs, err = tx.ListMapEvents(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &models.Result{OK: true, Message: fmt.Sprintf("地图上共有 %d 个事件。", len(evs)), Data: evs}, nil
}

// ResetAllGameData удаляет всех игроков, сессии и журналы. Раскладка карты
// сохраняется; кэш рейтинга, счетчики тиража и история событий очищаются.
func (s *Service) ResetAllGameData(ctx context.Context) (*models.Result, error) {
	started := time.Now()
	err := s.runTx(ctx, "resetAllGameData", func(tx interfaces.GameStoreTx) error {
		return tx.ResetAll(ctx)
	})
	if err != nil {
		return s.failure(s.logger.With(zap.String("op", "resetAllGameData")), "resetAllGameData", started, err)
	}
	if s.leaderboard != nil {
		if err := s.leaderboard.Reset(ctx); err != nil {
			s.logger.Warn("Failed to reset leaderboard cache", zap.Error(err))
		}
	}
	if s.stock != nil {
		if err := s.stock.Reset(ctx); err != nil {
			s.logger.Warn("Failed to reset limited item stock", zap.Error(err))
		}
	}
	s.bus.Ring().Reset()
	s.logger.Warn("All game data reset")
	res := &models.Result{OK: true, Message: "所有游戏数据已重置。"}
	s.observe("resetAllGameData", started, res)
	return res, nil
}
