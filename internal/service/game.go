package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"summit-server/internal/engine"
	"summit-server/internal/interfaces"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

// StartNewGame открывает новую сессию игрока.
func (s *Service) StartNewGame(ctx context.Context, playerID string) (*models.Result, error) {
	return s.mutate(ctx, "startNewGame", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.Start(o.scope)
	})
}

// ResumeGame снимает сессию с паузы.
func (s *Service) ResumeGame(ctx context.Context, playerID string) (*models.Result, error) {
	return s.mutate(ctx, "resumeGame", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.Resume(o.scope)
	})
}

// RollDice бросает кубики (в том числе продолжение хода из Decision).
func (s *Service) RollDice(ctx context.Context, playerID string) (*models.Result, error) {
	return s.mutate(ctx, "rollDice", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.Roll(o.scope)
	})
}

// ContinueTurn - явное продолжение хода броском.
func (s *Service) ContinueTurn(ctx context.Context, playerID string) (*models.Result, error) {
	return s.mutate(ctx, "continueTurn", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.Continue(o.scope)
	})
}

// RerollDice перебрасывает все кубики текущего броска.
func (s *Service) RerollDice(ctx context.Context, playerID string) (*models.Result, error) {
	return s.mutate(ctx, "rerollDice", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.Reroll(o.scope)
	})
}

// SelectiveReroll перебрасывает кубики с указанными индексами (0..5).
func (s *Service) SelectiveReroll(ctx context.Context, playerID string, indices []int) (*models.Result, error) {
	return s.mutate(ctx, "selectiveReroll", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.SelectiveReroll(o.scope, indices)
	})
}

// MoveMarkers продвигает маркеры по выбранным колонкам.
func (s *Service) MoveMarkers(ctx context.Context, playerID string, columns []int) (*models.Result, error) {
	return s.mutate(ctx, "moveMarkers", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.Move(o.scope, columns)
	})
}

// ConfirmSummit подтверждает вершину колонки. В режиме world маркеры других
// игроков на занятой колонке снимаются в той же транзакции под их блокировками.
func (s *Service) ConfirmSummit(ctx context.Context, playerID string, column int) (*models.Result, error) {
	const op = "confirmSummit"
	if s.engine.Config().SummitClaimScope != engine.SummitScopeWorld {
		return s.mutate(ctx, op, playerID, func(o *opCtx) (engine.Outcome, error) {
			return s.engine.ConfirmSummit(o.scope, column)
		})
	}

	started := time.Now()
	log := s.logger.With(zap.String("op", op), zap.String("playerID", playerID), zap.Int("column", column))
	for attempt := 1; attempt <= maxLockSetAttempts; attempt++ {
		// Держатели маркеров читаются до блокировки и перепроверяются в транзакции.
		var holders []string
		err := s.store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			var err error
			holders, err = tx.ColumnMarkerHolders(ctx, column, playerID)
			return err
		})
		if err != nil {
			return s.failure(log, op, started, err)
		}

		res, err := s.mutateMany(ctx, op, append([]string{playerID}, holders...), func(o *opCtx) (engine.Outcome, error) {
			agg, err := o.load(playerID)
			if err != nil {
				return engine.Outcome{}, err
			}
			o.scope = s.bus.NewScope(agg)
			out, err := s.engine.ConfirmSummit(o.scope, column)
			if err != nil {
				return engine.Outcome{}, err
			}
			for _, c := range out.ClaimedColumns {
				if err := s.releaseClaimedColumn(o, c, holders); err != nil {
					return engine.Outcome{}, err
				}
			}
			return out, nil
		})
		if errors.Is(err, errLockSetChanged) {
			log.Debug("Column marker holders changed, retrying", zap.Int("attempt", attempt))
			continue
		}
		return res, err
	}
	return s.failure(log, op, started, fmt.Errorf("%w: marker holders of column %d kept changing", models.ErrPersistence, column))
}

// releaseClaimedColumn снимает маркеры занятой колонки у заблокированных игроков.
func (s *Service) releaseClaimedColumn(o *opCtx, column int, locked []string) error {
	claimer := o.scope.Agg.PlayerID()
	current, err := o.tx.ColumnMarkerHolders(o.ctx, column, claimer)
	if err != nil {
		return err
	}
	for _, id := range current {
		if !slices.Contains(locked, id) {
			return errLockSetChanged
		}
	}
	for _, id := range current {
		other, err := o.load(id)
		if err != nil {
			return err
		}
		s.engine.ReleaseClaimedColumn(o.scope.ForPlayer(other), column, claimer)
	}
	return nil
}

// EndTurn завершает ход и фиксирует временный прогресс.
func (s *Service) EndTurn(ctx context.Context, playerID string) (*models.Result, error) {
	return s.mutate(ctx, "endTurn", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.EndTurn(o.scope)
	})
}

// CompleteCheckin закрывает обязательное подтверждение между ходами.
// artwork - игрок приложил работу (требуется после force_artwork).
func (s *Service) CompleteCheckin(ctx context.Context, playerID string, artwork bool) (*models.Result, error) {
	return s.mutate(ctx, "completeCheckin", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.Checkin(o.scope, artwork)
	})
}

// ForceFailTurn принудительно проваливает текущий ход.
func (s *Service) ForceFailTurn(ctx context.Context, playerID, reason string) (*models.Result, error) {
	return s.mutate(ctx, "forceFailTurn", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.ForceFail(o.scope, strings.TrimSpace(reason))
	})
}

// ResolveChoice выбирает вариант ожидающего действия (встреча или ловушка с выбором).
func (s *Service) ResolveChoice(ctx context.Context, playerID, choice string) (*models.Result, error) {
	return s.mutate(ctx, "resolveChoice", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.ResolveChoice(o.scope, choice)
	})
}

// SubmitFollowUp отправляет фразу продолжения встречи до дедлайна.
func (s *Service) SubmitFollowUp(ctx context.Context, playerID, phrase string) (*models.Result, error) {
	return s.mutate(ctx, "submitFollowUp", playerID, func(o *opCtx) (engine.Outcome, error) {
		return s.engine.SubmitFollowUp(o.scope, phrase)
	})
}

// ResolvePvP проводит отложенную дуэль между двумя игроками. Оба агрегата
// загружаются и сохраняются в одной транзакции.
func (s *Service) ResolvePvP(ctx context.Context, challengerID, opponentID string) (*models.Result, error) {
	if challengerID == opponentID {
		return models.Fail(models.NewGameError(models.ErrOpponentUnavailable, "不能与自己对决。")), nil
	}
	return s.mutateMany(ctx, "resolvePvP", []string{challengerID, opponentID}, func(o *opCtx) (engine.Outcome, error) {
		challenger, err := o.load(challengerID)
		if err != nil {
			return engine.Outcome{}, err
		}
		opponent, err := o.load(opponentID)
		if err != nil {
			if errors.Is(err, models.ErrPlayerNotFound) {
				return engine.Outcome{}, models.NewGameError(models.ErrOpponentUnavailable, "对手 %s 不存在。", opponentID)
			}
			return engine.Outcome{}, err
		}
		o.scope = s.bus.NewScope(challenger)
		return s.engine.ResolvePvP(o.scope, o.scope.ForPlayer(opponent))
	})
}
