package effects

import (
	"summit-server/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// tickingBuffs истекают по ходам. Остальные типы расходуются только при использовании:
// например, длительность dice_modifier - это число бросков, а не ходов.
var tickingBuffs = map[models.BuffType]bool{
	models.BuffCostReduction:   true,
	models.BuffShopDiscount:    true,
	models.BuffRerollAvailable: true,
	models.BuffSelectiveReroll: true,
}

// AddBuff добавляет бафф игроку и возвращает его копию. duration=-1 - бессрочный.
func (h *Handler) AddBuff(t *Target, bt models.BuffType, value, duration int, payload models.BuffPayload) models.ActiveBuff {
	if duration == 0 {
		duration = 1
	}
	remaining := duration
	if duration == models.PermanentDuration {
		remaining = 0
	}
	b := models.ActiveBuff{
		ID:             uuid.NewString(),
		PlayerID:       t.Agg.PlayerID(),
		BuffType:       bt,
		Value:          value,
		Payload:        payload,
		Source:         t.Source,
		Duration:       duration,
		RemainingTurns: remaining,
		CreatedAt:      h.clock(),
	}
	t.Agg.Buffs = append(t.Agg.Buffs, b)
	t.Scope.Emit(models.EventBuffApplied, map[string]any{
		"buff": string(bt), "value": value, "duration": duration, "source": t.Source,
	})
	return b
}

// HasBuff - проверка наличия баффа (trap_immunity, reroll_available и т.п.).
func HasBuff(agg *models.PlayerAggregate, bt models.BuffType) bool {
	for _, b := range agg.Buffs {
		if b.BuffType == bt {
			return true
		}
	}
	return false
}

// FindBuff возвращает первый бафф типа.
func FindBuff(agg *models.PlayerAggregate, bt models.BuffType) *models.ActiveBuff {
	for i := range agg.Buffs {
		if agg.Buffs[i].BuffType == bt {
			return &agg.Buffs[i]
		}
	}
	return nil
}

// SumBuff суммирует значения баффов типа (dice_modifier, cost_reduction).
func SumBuff(agg *models.PlayerAggregate, bt models.BuffType) int {
	total := 0
	for _, b := range agg.Buffs {
		if b.BuffType == bt {
			total += b.Value
		}
	}
	return total
}

// ShopDiscount возвращает минимальный множитель цены среди активных скидок (1, если скидок нет).
func ShopDiscount(agg *models.PlayerAggregate) decimal.Decimal {
	best := decimal.NewFromInt(1)
	for _, b := range agg.Buffs {
		if b.BuffType != models.BuffShopDiscount {
			continue
		}
		m, err := decimal.NewFromString(b.Payload.Multiplier)
		if err != nil || m.IsNegative() {
			continue
		}
		if m.LessThan(best) {
			best = m
		}
	}
	return best
}

// DiscountedPrice применяет скидку к цене, округляя вниз, не ниже 0.
func DiscountedPrice(agg *models.PlayerAggregate, price int) int {
	v := decimal.NewFromInt(int64(price)).Mul(ShopDiscount(agg)).Floor()
	if v.IsNegative() {
		return 0
	}
	return int(v.IntPart())
}

// ConsumeBuff расходует один бафф типа: remaining_turns уменьшается на 1,
// при нуле бафф снимается. Бессрочные баффы не уменьшаются.
func (h *Handler) ConsumeBuff(t *Target, bt models.BuffType) bool {
	for i := range t.Agg.Buffs {
		b := &t.Agg.Buffs[i]
		if b.BuffType != bt {
			continue
		}
		if b.IsPermanent() {
			return true
		}
		b.RemainingTurns--
		if b.RemainingTurns <= 0 {
			h.removeBuffAt(t, i)
		}
		return true
	}
	return false
}

// ConsumeAll расходует все баффы типа по одному разу.
func (h *Handler) ConsumeAll(t *Target, bt models.BuffType) int {
	consumed := 0
	for i := 0; i < len(t.Agg.Buffs); {
		b := &t.Agg.Buffs[i]
		if b.BuffType != bt || b.IsPermanent() {
			i++
			continue
		}
		consumed++
		b.RemainingTurns--
		if b.RemainingTurns <= 0 {
			h.removeBuffAt(t, i)
			continue
		}
		i++
	}
	return consumed
}

// TickBuffs вызывается в конце хода: уменьшает длительность баффов, истекающих по ходам.
func (h *Handler) TickBuffs(t *Target) []models.BuffType {
	var expired []models.BuffType
	for i := 0; i < len(t.Agg.Buffs); {
		b := &t.Agg.Buffs[i]
		if b.IsPermanent() || !tickingBuffs[b.BuffType] {
			i++
			continue
		}
		b.RemainingTurns--
		if b.RemainingTurns <= 0 {
			expired = append(expired, b.BuffType)
			h.removeBuffAt(t, i)
			continue
		}
		i++
	}
	return expired
}

func (h *Handler) removeBuffAt(t *Target, i int) {
	b := t.Agg.Buffs[i]
	t.Agg.Buffs = append(t.Agg.Buffs[:i], t.Agg.Buffs[i+1:]...)
	t.Scope.Emit(models.EventBuffExpired, map[string]any{"buff": string(b.BuffType), "source": b.Source})
}

// RemoveBuffs снимает все баффы типа.
func (h *Handler) RemoveBuffs(t *Target, bt models.BuffType) int {
	removed := 0
	for i := 0; i < len(t.Agg.Buffs); {
		if t.Agg.Buffs[i].BuffType == bt {
			h.removeBuffAt(t, i)
			removed++
			continue
		}
		i++
	}
	return removed
}

func (h *Handler) applyPermanentBuff(t *Target, spec Spec) Outcome {
	var p permanentBuffPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	if p.Buff == "" {
		return fail("永久增益缺少类型。")
	}
	h.AddBuff(t, p.Buff, p.Value, models.PermanentDuration, models.BuffPayload{Multiplier: p.Multiplier})
	return ok("获得永久增益：%s", p.Buff).with("buff", string(p.Buff))
}

func (h *Handler) applyCostReduction(t *Target, spec Spec) Outcome {
	var p costReductionPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	h.AddBuff(t, models.BuffCostReduction, p.Value, p.Duration, models.BuffPayload{})
	return ok("接下来 %d 回合投骰消耗减少 %d 积分。", max(p.Duration, 1), p.Value)
}

func (h *Handler) applyRerollBuff(t *Target, spec Spec) Outcome {
	var p rerollBuffPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	limit := p.PerTurnLimit
	if limit <= 0 {
		limit = 1
	}
	h.AddBuff(t, models.BuffRerollAvailable, limit, p.Duration, models.BuffPayload{PerTurnLimit: limit})
	return ok("获得重投机会：持续 %d 回合，每回合 %d 次。", max(p.Duration, 1), limit)
}

func (h *Handler) applySelectiveRerollBuff(t *Target, spec Spec) Outcome {
	var p selectiveRerollPayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	count := p.Count
	if count <= 0 {
		count = 1
	}
	h.AddBuff(t, models.BuffSelectiveReroll, count, p.Duration, models.BuffPayload{Count: count})
	return ok("可以选择重投最多 %d 颗骰子。", count)
}
