package engine

import (
	"fmt"

	"summit-server/internal/content"
	"summit-server/internal/effects"
	"summit-server/internal/events"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

// triggerMapEvent разбирает событие клетки, на которую пришел маркер.
func (e *Engine) triggerMapEvent(s *events.Scope, sess *models.GameSession, c, p int, b *outcomeBuilder) {
	ev, ok := e.layout.EventAt(c, p)
	if !ok {
		return
	}
	switch ev.Kind {
	case models.KindTrap:
		e.triggerTrap(s, sess, ev, b)
	case models.KindItem:
		e.triggerItem(s, ev, b)
	case models.KindEncounter:
		e.triggerEncounter(s, sess, ev, b)
	default:
		e.logger.Warn("Unknown map event kind", zap.String("kind", string(ev.Kind)), zap.String("positionKey", ev.PositionKey))
	}
}

func (e *Engine) triggerTrap(s *events.Scope, sess *models.GameSession, ev models.MapEvent, b *outcomeBuilder) {
	trap, ok := e.registry.Trap(ev.Name)
	if !ok {
		e.logger.Warn("Map references unknown trap", zap.String("trap", ev.Name), zap.String("positionKey", ev.PositionKey))
		return
	}
	agg := s.Agg
	t := e.target(s, "trap:"+trap.Name, ev.Column, ev.Position)

	if effects.HasBuff(agg, models.BuffTrapImmunity) {
		e.effects.ConsumeBuff(t, models.BuffTrapImmunity)
		s.Emit(models.EventTrapAvoided, map[string]any{"trap": trap.Name, "column": ev.Column, "position": ev.Position})
		b.say("⚠️ 陷阱「%s」被护身符挡下了！", trap.Name)
		return
	}

	first := agg.Player.Stats.RecordTrap(trap.Name, e.effects.Now())
	s.Emit(models.EventTrapTriggered, map[string]any{
		"trap": trap.Name, "trapId": trap.ID, "column": ev.Column, "position": ev.Position, "firstTime": first,
	})
	b.say("⚠️ 触发陷阱「%s」：%s", trap.Name, trap.Description)

	if !first {
		penalty := trap.RepeatPenalty
		if penalty <= 0 {
			penalty = e.cfg.RepeatTrapPenalty
		}
		applied := e.effects.ChangeScore(t, -penalty, models.SourceTrap, fmt.Sprintf("再次触发陷阱「%s」", trap.Name))
		b.say("再次踩中同一陷阱，积分 %d（当前：%d）。", applied, agg.Player.CurrentScore)
		return
	}

	s.Emit(models.EventTrapFirstTime, map[string]any{"trap": trap.Name, "trapId": trap.ID})
	if trap.EffectDescription != "" {
		b.add(trap.EffectDescription)
	}
	if len(trap.Choices) > 0 {
		e.installTrapChoice(sess, trap, ev, b)
		return
	}
	out := e.effects.Apply(t, trap.EffectFor(agg.Player.Faction))
	b.add(out.Message)
	if !out.OK {
		e.logger.Warn("Trap effect failed",
			append(logFields(s), zap.String("trap", trap.Name), zap.String("message", out.Message))...)
	}
}

func (e *Engine) installTrapChoice(sess *models.GameSession, trap *content.TrapDef, ev models.MapEvent, b *outcomeBuilder) {
	opts := make([]models.PendingOption, 0, len(trap.Choices))
	names := make([]string, 0, len(trap.Choices))
	for _, ch := range trap.Choices {
		opts = append(opts, models.PendingOption{Name: ch.Name, Description: ch.Description, Effect: ch.Effect.Raw()})
		names = append(names, "「"+ch.Name+"」")
	}
	sess.Pending = &models.PendingAction{
		Kind:        models.PendingTrapChoice,
		Source:      "trap:" + trap.Name,
		Column:      ev.Column,
		Position:    ev.Position,
		Description: trap.Description,
		Options:     opts,
		CreatedAt:   e.effects.Now(),
	}
	b.say("请选择：%v", names)
	b.set("pending", sess.Pending)
}

func (e *Engine) triggerItem(s *events.Scope, ev models.MapEvent, b *outcomeBuilder) {
	agg := s.Agg
	if agg.Player.Stats.IsConsumed(ev.PositionKey) {
		return
	}
	if ev.Faction != nil && *ev.Faction != agg.Player.Faction {
		b.say("这里有一件「%s」，但只有 %s 阵营可以拾取。", ev.Name, *ev.Faction)
		return
	}
	agg.Player.Stats.Consume(ev.PositionKey)
	out := e.effects.GiveItem(e.target(s, "map:"+ev.PositionKey, ev.Column, ev.Position), ev.Name, 1)
	b.say("🎁 发现道具！%s", out.Message)
}

func (e *Engine) triggerEncounter(s *events.Scope, sess *models.GameSession, ev models.MapEvent, b *outcomeBuilder) {
	agg := s.Agg
	if agg.Player.Stats.IsConsumed(ev.PositionKey) {
		return
	}
	enc, ok := e.registry.Encounter(ev.Name)
	if !ok {
		e.logger.Warn("Map references unknown encounter", zap.String("encounter", ev.Name), zap.String("positionKey", ev.PositionKey))
		return
	}
	if sess.Pending != nil {
		e.logger.Debug("Encounter skipped: pending action exists",
			append(logFields(s), zap.String("encounter", enc.Name), zap.String("pending", string(sess.Pending.Kind)))...)
		return
	}
	agg.Player.Stats.Consume(ev.PositionKey)
	s.Emit(models.EventEncounterTriggered, map[string]any{
		"encounter": enc.Name, "encounterId": enc.ID, "column": ev.Column, "position": ev.Position,
	})

	opts := make([]models.PendingOption, 0, len(enc.Choices))
	names := make([]string, 0, len(enc.Choices))
	for _, ch := range enc.Choices {
		opts = append(opts, models.PendingOption{
			Name:        ch.Name,
			Kind:        ch.Kind,
			Description: ch.Result,
			Effect:      ch.Effect.Raw(),
			Cost:        ch.Cost,
			CostItem:    ch.CostItem,
			FollowUp:    ch.FollowUp,
		})
		label := "「" + ch.Name + "」"
		if ch.Cost > 0 {
			label += fmt.Sprintf("（%d 积分）", ch.Cost)
		}
		if ch.CostItem != "" {
			label += fmt.Sprintf("（消耗 %s）", ch.CostItem)
		}
		names = append(names, label)
	}
	sess.Pending = &models.PendingAction{
		Kind:        models.PendingEncounterChoice,
		Source:      "encounter:" + enc.Name,
		Column:      ev.Column,
		Position:    ev.Position,
		Description: enc.Description,
		Options:     opts,
		CreatedAt:   e.effects.Now(),
	}
	b.say("✨ 遭遇「%s」（第%d列第%d格）：%s", enc.Name, ev.Column, ev.Position, enc.Description)
	if enc.Quote != "" {
		b.add(enc.Quote)
	}
	b.say("请选择：%v", names)
	b.set("pending", sess.Pending)
}
