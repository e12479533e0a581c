package engine

import (
	"summit-server/internal/effects"
	"summit-server/internal/events"
	"summit-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InitPlayer начисляет стартовый счет только что созданному игроку.
func (e *Engine) InitPlayer(s *events.Scope) Outcome {
	b := newOutcome()
	s.Emit(models.EventPlayerRegistered, map[string]any{
		"username": s.Agg.Player.Username,
		"faction":  string(s.Agg.Player.Faction),
	})
	if e.cfg.InitialScore > 0 {
		e.effects.ChangeScore(e.target(s, "registration", 0, 0), e.cfg.InitialScore, models.SourceRegistration, "注册奖励")
	}
	b.say("注册成功！阵营：%s，初始积分：%d。", s.Agg.Player.Faction, s.Agg.Player.CurrentScore)
	b.set("player", s.Agg.Player)
	return b.done()
}

// Start открывает новую сессию. Из завершившейся сессии переносятся
// неиспользованный фиксированный бросок, параметры следующего броска и
// отложенные эффекты (с пересчетом номера хода).
func (e *Engine) Start(s *events.Scope) (Outcome, error) {
	agg := s.Agg
	if agg.Progress.IsWinner() {
		return Outcome{}, models.NewGameError(models.ErrInvalidSessionState, "你已经登顶 %d 列并获得胜利，无需再开新局。", len(agg.Progress.Completed))
	}
	prev := agg.Session
	if prev != nil {
		switch prev.State {
		case models.SessionActive:
			return Outcome{}, models.NewGameError(models.ErrActiveSessionExists, "已有进行中的游戏（第 %d 回合）。", prev.TurnNumber)
		case models.SessionPaused:
			return Outcome{}, models.NewGameError(models.ErrActiveSessionExists, "有暂停中的游戏，请使用继续游戏。")
		}
	}

	now := e.effects.Now()
	sess := &models.GameSession{
		SessionID:        uuid.NewString(),
		PlayerID:         agg.PlayerID(),
		State:            models.SessionActive,
		TurnState:        models.TurnDiceRoll,
		TurnNumber:       1,
		TemporaryMarkers: []models.TemporaryMarker{},
		FirstTurn:        true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	b := newOutcome()
	if prev != nil {
		sess.ForcedDiceResult = prev.ForcedDiceResult
		sess.Data.NextDiceCount = prev.Data.NextDiceCount
		sess.Data.ExtraDiceRisk = prev.Data.ExtraDiceRisk
		carried := rebaseDelayed(agg, prev.TurnNumber)
		if carried > 0 {
			e.logger.Info("Delayed effects carried into new session",
				append(logFields(s), zap.Int("count", carried))...)
		}
		if sess.ForcedDiceResult != nil {
			b.say("上局留下的效果：下一次投掷结果固定为 %v。", sess.ForcedDiceResult)
		}
	}
	agg.Session = sess
	agg.Player.GamesPlayed++
	agg.Player.LastActive = now

	s.Emit(models.EventGameStarted, map[string]any{"sessionId": sess.SessionID})
	b.say("新游戏开始！当前积分：%d。请投骰（消耗 %d 积分）。", agg.Player.CurrentScore, e.diceCost(agg))
	b.set("sessionId", sess.SessionID)
	return b.done(), nil
}

// rebaseDelayed пересчитывает номера ходов отложенных эффектов относительно
// новой сессии: эффект "через k ходов" срабатывает на ходу k новой сессии.
func rebaseDelayed(agg *models.PlayerAggregate, oldTurn int) int {
	kept := agg.DelayedEffects[:0]
	for _, d := range agg.DelayedEffects {
		rebased := d.TriggerTurn - oldTurn
		if rebased < 1 {
			continue
		}
		d.TriggerTurn = rebased
		kept = append(kept, d)
	}
	agg.DelayedEffects = kept
	return len(kept)
}

// Resume продолжает приостановленную сессию.
func (e *Engine) Resume(s *events.Scope) (Outcome, error) {
	sess := s.Agg.Session
	if sess == nil || sess.State != models.SessionPaused {
		if sess.IsActive() {
			return Outcome{}, models.NewGameError(models.ErrActiveSessionExists, "游戏正在进行中，无需继续。")
		}
		return Outcome{}, models.NewGameError(models.ErrSessionNotFound, "没有暂停中的游戏。")
	}
	sess.State = models.SessionActive
	sess.UpdatedAt = e.effects.Now()
	e.gcExpired(sess)
	s.Emit(models.EventGameResumed, map[string]any{"turnState": string(sess.TurnState)})

	b := newOutcome()
	b.say("游戏继续！第 %d 回合。", sess.TurnNumber)
	if sess.NeedsCheckin {
		b.say("请先完成打卡。")
	}
	b.set("turnState", sess.TurnState)
	return b.done(), nil
}

// ForceFail - действие ГМ: ход аннулируется, сессия завершается неудачей.
func (e *Engine) ForceFail(s *events.Scope, reason string) (Outcome, error) {
	sess := s.Agg.Session
	if !sess.IsOpen() {
		return Outcome{}, models.NewGameError(models.ErrSessionNotFound, "该玩家没有进行中的游戏。")
	}
	lost := sess.MarkerColumns()
	effects.EndTurnInvoluntarily(sess)
	sess.UpdatedAt = e.effects.Now()
	s.Emit(models.EventTurnVoided, map[string]any{"forced": true, "reason": reason, "clearedColumns": lost})
	e.logger.Info("Turn force-failed", append(logFields(s), zap.String("reason", reason))...)

	b := newOutcome()
	b.say("本回合被强制结束，临时标记已清除。")
	if reason != "" {
		b.say("原因：%s", reason)
	}
	return b.done(), nil
}

// Checkin подтверждает отметку игрока и открывает следующий ход.
func (e *Engine) Checkin(s *events.Scope, artwork bool) (Outcome, error) {
	sess, err := e.activeSession(s)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireTurnState(sess, models.TurnWaitingCheckin); err != nil {
		return Outcome{}, err
	}
	t := e.target(s, "checkin", 0, 0)
	b := newOutcome()
	if buff := effects.FindBuff(s.Agg, models.BuffArtworkRequired); buff != nil {
		if !artwork {
			desc := buff.Payload.Description
			if desc == "" {
				desc = "本次打卡必须提交作品。"
			}
			return Outcome{}, models.NewGameError(models.ErrArtworkRequired, "%s", desc)
		}
		e.effects.RemoveBuffs(t, models.BuffArtworkRequired)
		b.say("已提交作品，诅咒解除。")
	}

	sess.TurnNumber++
	sess.TurnState = models.TurnDiceRoll
	sess.FirstTurn = true
	sess.NeedsCheckin = false
	sess.UpdatedAt = e.effects.Now()
	s.Emit(models.EventCheckinCompleted, map[string]any{"artwork": artwork, "turn": sess.TurnNumber})
	s.Emit(models.EventTurnStarted, map[string]any{"turn": sess.TurnNumber})

	b.say("打卡完成！第 %d 回合开始。", sess.TurnNumber)
	b.set("turnNumber", sess.TurnNumber)
	return b.done(), nil
}
