package engine

import (
	"encoding/json"
	"strings"
	"time"

	"summit-server/internal/content"
	"summit-server/internal/effects"
	"summit-server/internal/events"
	"summit-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResolveChoice разрешает отложенный выбор сессии (встреча, ловушка, маркер, отказ от дуэли).
func (e *Engine) ResolveChoice(s *events.Scope, choice string) (Outcome, error) {
	sess, err := e.activeSession(s)
	if err != nil {
		return Outcome{}, err
	}
	pending := sess.Pending
	if pending == nil {
		return Outcome{}, models.NewGameError(models.ErrNoPendingAction, "当前没有需要选择的事项。")
	}
	opt := findOption(pending.Options, choice)
	if opt == nil {
		return Outcome{}, models.NewGameError(models.ErrInvalidChoice, "无效的选择「%s」，可选：%s", choice, optionNames(pending.Options)).
			WithDetail("options", optionNames(pending.Options))
	}
	if pending.Kind == models.PendingPvPChallenge && opt.Name == effects.ChoiceAcceptDuel {
		return Outcome{}, models.NewGameError(models.ErrInvalidChoice, "接受挑战需要指定对手。")
	}

	agg := s.Agg
	if opt.Cost > 0 && agg.Player.CurrentScore < opt.Cost {
		return Outcome{}, models.InsufficientScore(agg.Player.CurrentScore, opt.Cost)
	}
	if opt.CostItem != "" && agg.ItemQuantity(opt.CostItem) < 1 {
		return Outcome{}, models.NewGameError(models.ErrItemNotOwned, "需要道具「%s」。", opt.CostItem)
	}

	t := e.target(s, pending.Source, pending.Column, pending.Position)
	b := newOutcome()
	sess.Pending = nil
	if opt.Cost > 0 {
		if err := e.effects.Spend(t, opt.Cost, models.SourceEncounter, pending.Source+"："+opt.Name); err != nil {
			return Outcome{}, err
		}
		b.say("支付 %d 积分。", opt.Cost)
	}
	if opt.CostItem != "" {
		agg.RemoveItem(opt.CostItem, 1, true)
		b.say("消耗道具「%s」。", opt.CostItem)
	}

	out := e.effects.ApplyRaw(t, opt.Effect)
	b.add(out.Message)
	if !out.OK {
		e.logger.Warn("Choice effect failed",
			append(logFields(s), zap.String("source", pending.Source), zap.String("choice", opt.Name), zap.String("message", out.Message))...)
	}

	if pending.Kind == models.PendingEncounterChoice {
		e.finishEncounter(s, sess, pending, opt, out, b)
	}
	sess.UpdatedAt = e.effects.Now()
	b.set("choice", opt.Name)
	return b.done(), nil
}

func (e *Engine) finishEncounter(s *events.Scope, sess *models.GameSession, pending *models.PendingAction, opt *models.PendingOption, out effects.Outcome, b *outcomeBuilder) {
	agg := s.Agg
	name := strings.TrimPrefix(pending.Source, "encounter:")
	kind := opt.Kind
	if kind == "" {
		kind = models.EncounterNormal
	}
	agg.Player.Stats.RecordChoiceKind(kind)

	if opt.Description != "" {
		b.add(opt.Description)
	}
	if fu := opt.FollowUp; fu != nil && fu.TriggerPhrase != "" && sess.IsOpen() {
		timeout := time.Duration(fu.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		sess.FollowUp = &models.FollowUp{
			Source:        pending.Source,
			TriggerPhrase: fu.TriggerPhrase,
			Deadline:      e.effects.Now().Add(timeout),
			Reward:        fu.Reward,
			Description:   fu.Description,
		}
		b.say("💬 %s（%d 秒内发送「%s」）", fu.Description, int(timeout.Seconds()), fu.TriggerPhrase)
	}

	choice := opt.Name
	result := out.Message
	agg.NewEncounterRecords = append(agg.NewEncounterRecords, models.EncounterRecord{
		HistoryID:      uuid.NewString(),
		PlayerID:       agg.PlayerID(),
		EncounterName:  name,
		SelectedChoice: &choice,
		Result:         &result,
		TriggeredAt:    e.effects.Now(),
	})
	s.Emit(models.EventEncounterResolved, map[string]any{"encounter": name, "choice": choice, "kind": string(kind)})
}

// SubmitFollowUp проверяет фразу продолжения встречи и выдает награду до дедлайна.
func (e *Engine) SubmitFollowUp(s *events.Scope, phrase string) (Outcome, error) {
	sess := s.Agg.Session
	if !sess.IsOpen() {
		return Outcome{}, models.NewGameError(models.ErrSessionNotFound, "当前没有进行中的游戏。")
	}
	fu := sess.FollowUp
	if fu == nil {
		return Outcome{}, models.NewGameError(models.ErrNoPendingAction, "当前没有等待中的后续互动。")
	}
	if fu.Expired(e.effects.Now()) {
		return Outcome{}, models.NewGameError(models.ErrFollowUpExpired, "后续互动已超时。")
	}
	if content.Normalize(phrase) != content.Normalize(fu.TriggerPhrase) {
		return Outcome{}, models.NewGameError(models.ErrInvalidChoice, "需要发送「%s」。", fu.TriggerPhrase)
	}

	sess.FollowUp = nil
	t := e.target(s, fu.Source, 0, 0)
	out := e.effects.ApplyRaw(t, fu.Reward)
	s.Emit(models.EventFollowUpCompleted, map[string]any{"source": fu.Source, "phrase": fu.TriggerPhrase})
	sess.UpdatedAt = e.effects.Now()

	b := newOutcome()
	b.add(out.Message)
	return b.done(), nil
}

// ResolvePvP проводит дуэль по отложенному вызову. Вызывающий держит блокировки
// обоих игроков; opponent - scope той же операции для соперника.
func (e *Engine) ResolvePvP(challenger, opponent *events.Scope) (Outcome, error) {
	sess, err := e.activeSession(challenger)
	if err != nil {
		return Outcome{}, err
	}
	pending := sess.Pending
	if pending == nil || pending.Kind != models.PendingPvPChallenge {
		return Outcome{}, models.NewGameError(models.ErrPendingKindMismatch, "当前没有待进行的骰子对决。")
	}
	if opponent == nil || opponent.Agg == nil || opponent.Agg.PlayerID() == challenger.Agg.PlayerID() {
		return Outcome{}, models.NewGameError(models.ErrOpponentUnavailable, "请指定另一名玩家作为对手。")
	}
	var p effects.PvPPayload
	if err := json.Unmarshal(pending.Payload, &p); err != nil {
		return Outcome{}, models.NewGameError(models.ErrUnknownEffect, "对决配置无效：%v", err)
	}

	sess.Pending = nil
	res := e.effects.ResolveDuel(
		e.target(challenger, pending.Source, pending.Column, pending.Position),
		e.target(opponent, pending.Source, 0, 0),
		p,
	)
	sess.UpdatedAt = e.effects.Now()
	e.logger.Info("PvP duel resolved",
		append(logFields(challenger), zap.String("opponentID", opponent.Agg.PlayerID()), zap.Int("winner", res.Winner))...)

	b := newOutcome()
	b.add(res.Message)
	b.set("challengerDice", res.ChallengerDice)
	b.set("opponentDice", res.OpponentDice)
	b.set("winner", res.Winner)
	return b.done(), nil
}

func findOption(opts []models.PendingOption, choice string) *models.PendingOption {
	want := content.Normalize(choice)
	if want == "" {
		return nil
	}
	for i := range opts {
		if content.Normalize(opts[i].Name) == want {
			return &opts[i]
		}
	}
	return nil
}

func optionNames(opts []models.PendingOption) string {
	names := make([]string, 0, len(opts))
	for _, o := range opts {
		names = append(names, "「"+o.Name+"」")
	}
	return strings.Join(names, " ")
}
