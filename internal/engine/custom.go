package engine

import (
	"summit-server/internal/effects"
	"summit-server/internal/models"
)

// TypeGrantBuff - бафф произвольного типа с длительностью.
// Используется контентом для trap_immunity и временных скидок магазина.
const TypeGrantBuff effects.Type = "grant_buff"

type grantBuffPayload struct {
	Buff        models.BuffType `json:"buff"`
	Value       int             `json:"value"`
	Duration    int             `json:"duration"`
	Multiplier  string          `json:"multiplier,omitempty"`
	Description string          `json:"description,omitempty"`
}

func registerCustomEffects(h *effects.Handler) error {
	if h.Known(TypeGrantBuff) {
		return nil
	}
	return h.Register(TypeGrantBuff, applyGrantBuff)
}

var grantBuffNames = map[models.BuffType]string{
	models.BuffTrapImmunity:  "陷阱免疫",
	models.BuffShopDiscount:  "商店折扣",
	models.BuffCostReduction: "投骰减免",
	models.BuffDiceModifier:  "骰子修正",
}

func applyGrantBuff(h *effects.Handler, t *effects.Target, spec effects.Spec) effects.Outcome {
	var p grantBuffPayload
	if err := spec.Decode(&p); err != nil {
		return effects.Outcome{OK: false, Message: err.Error()}
	}
	if p.Buff == "" {
		return effects.Outcome{OK: false, Message: "增益缺少类型。"}
	}
	duration := p.Duration
	if duration == 0 {
		duration = 1
	}
	h.AddBuff(t, p.Buff, p.Value, duration, models.BuffPayload{Multiplier: p.Multiplier, Description: p.Description})
	name := grantBuffNames[p.Buff]
	if name == "" {
		name = string(p.Buff)
	}
	return effects.Outcome{
		OK:      true,
		Message: "获得增益「" + name + "」。",
		Extra:   map[string]any{"buff": string(p.Buff)},
	}
}
