package effects

import (
	"encoding/json"
	"fmt"

	"summit-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Типы отложенных эффектов, которые не совпадают с тегами эффектов.
const (
	delayedSkipTurn = "skip_turn"
)

// currentTurn - номер хода текущей сессии (1, если сессии нет).
func currentTurn(t *Target) int {
	if s := t.Session(); s != nil && s.TurnNumber > 0 {
		return s.TurnNumber
	}
	return 1
}

// QueueDelayed привязывает эффект к ходу current+turnsAhead.
func (h *Handler) QueueDelayed(t *Target, effectType string, payload any, turnsAhead int, phase models.DelayedPhase) (*models.DelayedEffect, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delayed payload: %w", err)
	}
	if turnsAhead < 1 {
		turnsAhead = 1
	}
	d := models.DelayedEffect{
		ID:          uuid.NewString(),
		PlayerID:    t.Agg.PlayerID(),
		EffectType:  effectType,
		Payload:     raw,
		TriggerTurn: currentTurn(t) + turnsAhead,
		Phase:       phase,
		Source:      t.Source,
		CreatedAt:   h.clock(),
	}
	t.Agg.DelayedEffects = append(t.Agg.DelayedEffects, d)
	t.Scope.Emit(models.EventDelayedEffectQueued, map[string]any{
		"effect": effectType, "triggerTurn": d.TriggerTurn, "phase": string(phase), "source": t.Source,
	})
	return &t.Agg.DelayedEffects[len(t.Agg.DelayedEffects)-1], nil
}

func (h *Handler) queueDelayedSpec(t *Target, spec Spec, turnsAhead int, phase models.DelayedPhase, msg string) Outcome {
	if _, err := h.QueueDelayed(t, string(spec.Type), spec, turnsAhead, phase); err != nil {
		return fail("%v", err)
	}
	return ok("%s", msg)
}

// DelayedResult - итог обработки отложенных эффектов одной фазы.
type DelayedResult struct {
	Messages []string
	// SkipTurn - ход должен быть пропущен без броска.
	SkipTurn bool
	Applied  int
}

// RunDelayed применяет эффекты, привязанные к текущему ходу и фазе. Каждый
// эффект удаляется до применения, так что срабатывает ровно один раз.
// Эффекты с прошедшим номером хода снимаются без применения.
// dice - выпавшие кубики (для фазы after_roll).
func (h *Handler) RunDelayed(t *Target, phase models.DelayedPhase, dice []int) DelayedResult {
	var res DelayedResult
	turn := currentTurn(t)
	var due []models.DelayedEffect
	kept := t.Agg.DelayedEffects[:0]
	for _, d := range t.Agg.DelayedEffects {
		switch {
		case d.TriggerTurn < turn:
			h.logger.Info("Dropping stale delayed effect",
				zap.String("playerID", t.Agg.PlayerID()),
				zap.String("effect", d.EffectType),
				zap.Int("triggerTurn", d.TriggerTurn),
				zap.Int("turn", turn))
		case d.TriggerTurn == turn && d.Phase == phase:
			due = append(due, d)
		default:
			kept = append(kept, d)
		}
	}
	t.Agg.DelayedEffects = kept

	for _, d := range due {
		out, skip := h.applyDelayed(t, d, dice)
		if skip {
			res.SkipTurn = true
		}
		if out.Message != "" {
			res.Messages = append(res.Messages, out.Message)
		}
		res.Applied++
	}
	return res
}

func (h *Handler) applyDelayed(t *Target, d models.DelayedEffect, dice []int) (Outcome, bool) {
	if d.EffectType == delayedSkipTurn {
		t.Scope.Emit(models.EventTurnSkipped, map[string]any{"source": d.Source, "turn": d.TriggerTurn})
		return ok("本回合被跳过（来源：%s）。", d.Source), true
	}
	spec, err := Parse(d.Payload)
	if err != nil {
		h.logger.Warn("Invalid delayed effect payload", zap.String("effectID", d.ID), zap.Error(err))
		return fail("延迟效果数据无效。"), false
	}
	sub := *t
	sub.Source = d.Source
	switch spec.Type {
	case TypeDiceCountChange:
		return h.resolveDiceCountChange(&sub, spec), false
	case TypeDiceCheckOddEven:
		return h.resolveOddEven(&sub, spec, dice), false
	case TypeDiceCheckCombinations:
		return h.resolveCombinations(&sub, spec, dice), false
	case TypeDelayedReward:
		return h.resolveDelayedReward(&sub, spec, d), false
	}
	return h.Apply(&sub, spec), false
}

func (h *Handler) applySkipTurns(t *Target, spec Spec, fixed int) Outcome {
	var p skipTurnPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	turns := fixed
	if turns == 0 {
		turns = max(p.Turns, 1)
	}
	for i := 1; i <= turns; i++ {
		if _, err := h.QueueDelayed(t, delayedSkipTurn, map[string]any{"turn": i}, i, models.PhaseBeforeRoll); err != nil {
			return fail("%v", err)
		}
	}
	msg := fmt.Sprintf("接下来 %d 个回合将被跳过。", turns)
	if p.CostScore > 0 {
		applied := h.ChangeScore(t, -p.CostScore, models.SourceEffect, describeSource(t))
		msg += fmt.Sprintf(" 积分 %d。", applied)
	}
	return ok("%s", msg).with("skipTurns", turns)
}

func (h *Handler) applyDelayedReward(t *Target, spec Spec) Outcome {
	var p delayedRewardPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	turns := max(p.Turns, 1)
	if _, err := h.QueueDelayed(t, string(TypeDelayedReward), spec, turns, models.PhaseBeforeRoll); err != nil {
		return fail("%v", err)
	}
	msg := fmt.Sprintf("%d 回合后将获得奖励。", turns)
	if p.Restriction == RestrictionNoTrap {
		msg += " 期间触发陷阱则奖励作废。"
	}
	return ok("%s", msg)
}

func (h *Handler) resolveDelayedReward(t *Target, spec Spec, d models.DelayedEffect) Outcome {
	var p delayedRewardPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	if p.Restriction == RestrictionNoTrap {
		last := t.Agg.Player.Stats.LastTrapAt
		if last != nil && last.After(d.CreatedAt) {
			return ok("期间触发过陷阱，延迟奖励作废。")
		}
	}
	out := h.Apply(t, p.Reward)
	if out.Message != "" {
		out.Message = "延迟奖励到账：" + out.Message
	}
	return out
}
