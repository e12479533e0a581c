package models

import (
	"encoding/json"
	"sort"
	"time"
)

// ItemType - категория предмета в инвентаре.
type ItemType string

const (
	ItemConsumable ItemType = "consumable"
	ItemPassive    ItemType = "passive"
	ItemToken      ItemType = "token"
)

// InventoryItem - строка инвентаря. Уникальна по (player_id, item_name),
// удаляется, когда количество доходит до нуля.
type InventoryItem struct {
	PlayerID   string    `db:"player_id" json:"playerId"`
	ItemName   string    `db:"item_name" json:"itemName"`
	ItemType   ItemType  `db:"item_type" json:"itemType"`
	Quantity   int       `db:"quantity" json:"quantity"`
	UsedCount  int       `db:"used_count" json:"usedCount"`
	AcquiredAt time.Time `db:"acquired_at" json:"acquiredAt"`
}

// PlayerAchievement - разблокированное достижение.
type PlayerAchievement struct {
	PlayerID        string    `db:"player_id" json:"playerId"`
	AchievementName string    `db:"achievement_name" json:"achievementName"`
	Category        string    `db:"category" json:"category"`
	UnlockedAt      time.Time `db:"unlocked_at" json:"unlockedAt"`
	RewardClaimed   bool      `db:"reward_claimed" json:"rewardClaimed"`
}

// BuffType - тип баффа. Правила агрегации зависят от типа.
type BuffType string

const (
	BuffDiceModifier     BuffType = "dice_modifier"
	BuffCostReduction    BuffType = "cost_reduction"
	BuffShopDiscount     BuffType = "shop_discount"
	BuffTrapImmunity     BuffType = "trap_immunity"
	BuffRerollAvailable  BuffType = "reroll_available"
	BuffSelectiveReroll  BuffType = "selective_reroll"
	BuffPreventEndTurn   BuffType = "prevent_end_turn"
	BuffForceExtraTurns  BuffType = "force_extra_turns"
	BuffArtworkRequired  BuffType = "artwork_required"
	BuffExtraSummitBonus BuffType = "summit_bonus"
)

// PermanentDuration - длительность бессрочного баффа.
const PermanentDuration = -1

// BuffPayload - типизированные параметры баффа.
type BuffPayload struct {
	// Multiplier - множитель в десятичной записи (shop_discount, score_multiplier).
	Multiplier   string `json:"multiplier,omitempty"`
	PerTurnLimit int    `json:"perTurnLimit,omitempty"`
	Count        int    `json:"count,omitempty"`
	Description  string `json:"description,omitempty"`
}

// ActiveBuff - модификатор игрока с длительностью в ходах.
type ActiveBuff struct {
	ID             string      `db:"effect_id" json:"id"`
	PlayerID       string      `db:"player_id" json:"playerId"`
	BuffType       BuffType    `db:"effect_name" json:"buffType"`
	Value          int         `json:"value"`
	Payload        BuffPayload `json:"payload"`
	Source         string      `json:"source,omitempty"`
	Duration       int         `db:"duration" json:"duration"`
	RemainingTurns int         `db:"remaining_turns" json:"remainingTurns"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// IsPermanent - бафф не истекает.
func (b *ActiveBuff) IsPermanent() bool {
	return b.Duration == PermanentDuration
}

// DelayedPhase - момент хода, в который срабатывает отложенный эффект.
type DelayedPhase string

const (
	// PhaseBeforeRoll - перед броском (влияет на сам бросок).
	PhaseBeforeRoll DelayedPhase = "before_roll"
	// PhaseAfterRoll - после броска (проверки по выпавшим кубикам).
	PhaseAfterRoll DelayedPhase = "after_roll"
)

// DelayedEffect - эффект, привязанный к номеру будущего хода.
type DelayedEffect struct {
	ID          string          `db:"effect_id" json:"id"`
	PlayerID    string          `db:"player_id" json:"playerId"`
	EffectType  string          `db:"effect_name" json:"effectType"`
	Payload     json.RawMessage `json:"payload"`
	TriggerTurn int             `db:"trigger_turn" json:"triggerTurn"`
	Phase       DelayedPhase    `json:"phase"`
	Source      string          `json:"source,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// SortedInventory возвращает предметы по имени.
func SortedInventory(items map[string]*InventoryItem) []InventoryItem {
	out := make([]InventoryItem, 0, len(items))
	for _, it := range items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemName < out[j].ItemName })
	return out
}
