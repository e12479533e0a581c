package content

import (
	"summit-server/internal/effects"
	"summit-server/internal/models"
)

// TrapChoice - вариант, который ловушка предлагает игроку.
type TrapChoice struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Effect      effects.Spec `json:"effect"`
}

// TrapDef - статическое описание ловушки.
type TrapDef struct {
	ID                int                             `json:"id"`
	Name              string                          `json:"name"`
	Description       string                          `json:"description"`
	EffectDescription string                          `json:"effect_description"`
	Achievement       string                          `json:"achievement,omitempty"`
	Effect            effects.Spec                    `json:"effect"`
	FactionEffects    map[models.Faction]effects.Spec `json:"faction_effects,omitempty"`
	Choices           []TrapChoice                    `json:"choices,omitempty"`
	RepeatPenalty     int                             `json:"repeat_penalty,omitempty"`
}

// EffectFor возвращает эффект с учетом фракции игрока.
func (t *TrapDef) EffectFor(f models.Faction) effects.Spec {
	if spec, ok := t.FactionEffects[f]; ok {
		return spec
	}
	return t.Effect
}

// ItemFaction - кому доступен предмет.
type ItemFaction string

const (
	ItemUniversal ItemFaction = "universal"
	ItemAeonreth  ItemFaction = "ae"
	ItemAdopter   ItemFaction = "adopter"
)

// Allows проверяет совместимость предмета с фракцией игрока.
func (f ItemFaction) Allows(p models.Faction) bool {
	switch f {
	case ItemUniversal, "":
		return true
	case ItemAeonreth:
		return p == models.FactionAeonreth
	case ItemAdopter:
		return p == models.FactionAdopter
	}
	return false
}

// ItemDef - статическое описание предмета.
type ItemDef struct {
	ID              int             `json:"id"`
	Name            string          `json:"name"`
	Faction         ItemFaction     `json:"faction"`
	ItemType        models.ItemType `json:"item_type"`
	Price           int             `json:"price"`
	Description     string          `json:"description"`
	Effect          effects.Spec    `json:"effect"`
	CanTrade        bool            `json:"can_trade"`
	Limited         bool            `json:"limited,omitempty"`
	Stock           int             `json:"stock,omitempty"`
	Stackable       bool            `json:"stackable"`
	UnlockCondition string          `json:"unlock_condition,omitempty"`
}

// SellPrice - цена продажи: половина цены покупки, округленная вниз.
func (i *ItemDef) SellPrice() int {
	return i.Price / 2
}

// EncounterChoice - вариант выбора во встрече.
type EncounterChoice struct {
	Name     string               `json:"name"`
	Kind     models.EncounterKind `json:"kind"`
	Effect   effects.Spec         `json:"effect"`
	Cost     int                  `json:"cost,omitempty"`
	CostItem string               `json:"cost_item,omitempty"`
	FollowUp *models.FollowUpDef  `json:"follow_up,omitempty"`
	Result   string               `json:"result,omitempty"`
}

// EncounterDef - статическое описание встречи.
type EncounterDef struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Quote       string            `json:"quote,omitempty"`
	Choices     []EncounterChoice `json:"choices"`
}

// ConditionType - тип условия достижения.
type ConditionType string

const (
	ConditionEventCount         ConditionType = "event_count"
	ConditionTrapTriggered      ConditionType = "trap_triggered"
	ConditionSingleTurnComplete ConditionType = "single_turn_complete"
	ConditionComplex            ConditionType = "complex"
)

// CountScope - область подсчета событий.
type CountScope string

const (
	ScopeLifetime CountScope = "lifetime"
	ScopeSession  CountScope = "session"
)

// Condition - декларативное условие открытия достижения.
type Condition struct {
	Type          ConditionType        `json:"type"`
	Event         models.GameEventType `json:"event,omitempty"`
	Count         int                  `json:"count,omitempty"`
	Scope         CountScope           `json:"scope,omitempty"`
	TrapName      string               `json:"trap_name,omitempty"`
	CheckFunction string               `json:"check_function,omitempty"`
}

// ClaimMode - как выдается награда за достижение.
type ClaimMode string

const (
	ClaimAuto   ClaimMode = "auto"
	ClaimManual ClaimMode = "manual"
)

// AchievementDef - декларативное достижение. Условия объединяются по И.
type AchievementDef struct {
	Name        string       `json:"name"`
	Category    string       `json:"category"`
	Description string       `json:"description"`
	Conditions  []Condition  `json:"conditions"`
	Reward      effects.Spec `json:"reward,omitempty"`
	Claim       ClaimMode    `json:"claim,omitempty"`
}

// BaselineCell - клетка фиксированной базовой раскладки.
type BaselineCell struct {
	Key  string           `json:"key"`
	Kind models.EventKind `json:"kind"`
	Name string           `json:"name"`
}
