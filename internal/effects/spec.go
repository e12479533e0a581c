package effects

import (
	"bytes"
	"encoding/json"
	"fmt"

	"summit-server/internal/models"

	"github.com/shopspring/decimal"
)

// Type - тег варианта эффекта.
type Type string

const (
	TypeNothing   Type = "nothing"
	TypeComposite Type = "composite"

	TypeScoreChange           Type = "score_change"
	TypeScoreChangePercentage Type = "score_change_percentage"

	TypeDiceCountChange   Type = "dice_count_change"
	TypeForcedDiceResult  Type = "forced_dice_result"
	TypeDiceModifier      Type = "dice_modifier"
	TypeExtraDice         Type = "extra_dice"
	TypeExtraDiceWithRisk Type = "extra_dice_with_risk"

	TypeDiceCheck             Type = "dice_check"
	TypeDiceCheckOddEven      Type = "dice_check_odd_even"
	TypeDiceCheckCombinations Type = "dice_check_combinations"

	TypeGiveItem        Type = "give_item"
	TypeRandomItem      Type = "random_item"
	TypeGiveRerollToken Type = "give_reroll_token"

	TypeSkipTurn          Type = "skip_turn"
	TypeSkipMultipleTurns Type = "skip_multiple_turns"
	TypeVoidTurn          Type = "void_turn"
	TypeVoidTurnOrSkip    Type = "void_turn_or_skip"
	TypeEndSession        Type = "end_session"
	TypePreventEndTurn    Type = "prevent_end_turn"
	TypeForceExtraTurns   Type = "force_extra_turns"

	TypePermanentBuff       Type = "permanent_buff"
	TypeCostReductionBuff   Type = "cost_reduction_buff"
	TypeRerollBuff          Type = "reroll_buff"
	TypeSelectiveRerollBuff Type = "selective_reroll_buff"

	TypeClearTempMarkers    Type = "clear_temp_markers"
	TypeClearColumnMarker   Type = "clear_column_marker"
	TypeResetColumnProgress Type = "reset_column_progress"
	TypeAllColumnsRetreat   Type = "all_columns_retreat"
	TypeForceArtwork        Type = "force_artwork"

	TypeUnlockCommands Type = "unlock_commands"
	TypeDelayedReward  Type = "delayed_reward"
	TypePvPDiceBattle  Type = "pvp_dice_battle"
)

// builtinTypes - все встроенные варианты.
var builtinTypes = map[Type]struct{}{
	TypeNothing: {}, TypeComposite: {}, TypeScoreChange: {}, TypeScoreChangePercentage: {},
	TypeDiceCountChange: {}, TypeForcedDiceResult: {}, TypeDiceModifier: {}, TypeExtraDice: {},
	TypeExtraDiceWithRisk: {}, TypeDiceCheck: {}, TypeDiceCheckOddEven: {}, TypeDiceCheckCombinations: {},
	TypeGiveItem: {}, TypeRandomItem: {}, TypeGiveRerollToken: {}, TypeSkipTurn: {},
	TypeSkipMultipleTurns: {}, TypeVoidTurn: {}, TypeVoidTurnOrSkip: {}, TypeEndSession: {},
	TypePreventEndTurn: {}, TypeForceExtraTurns: {}, TypePermanentBuff: {}, TypeCostReductionBuff: {},
	TypeRerollBuff: {}, TypeSelectiveRerollBuff: {}, TypeClearTempMarkers: {}, TypeClearColumnMarker: {},
	TypeResetColumnProgress: {}, TypeAllColumnsRetreat: {}, TypeForceArtwork: {}, TypeUnlockCommands: {},
	TypeDelayedReward: {}, TypePvPDiceBattle: {},
}

// Spec - декларативная спецификация эффекта: тег и исходный JSON с параметрами.
// Параметры декодируются в типизированную структуру в момент применения.
type Spec struct {
	Type Type
	raw  json.RawMessage
}

type specHeader struct {
	Type Type `json:"type"`
}

// UnmarshalJSON сохраняет исходный JSON и извлекает тег.
func (s *Spec) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*s = Spec{}
		return nil
	}
	var h specHeader
	if err := json.Unmarshal(b, &h); err != nil {
		return fmt.Errorf("invalid effect spec: %w", err)
	}
	if h.Type == "" {
		return fmt.Errorf("effect spec without type: %s", string(b))
	}
	s.Type = h.Type
	s.raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON возвращает исходный JSON.
func (s Spec) MarshalJSON() ([]byte, error) {
	if s.Type == "" {
		return []byte("null"), nil
	}
	if len(s.raw) == 0 {
		return json.Marshal(specHeader{Type: s.Type})
	}
	return s.raw, nil
}

// IsZero - спецификация не задана.
func (s Spec) IsZero() bool {
	return s.Type == ""
}

// Raw возвращает JSON спецификации.
func (s Spec) Raw() json.RawMessage {
	b, _ := s.MarshalJSON()
	return b
}

// Decode декодирует параметры в типизированную структуру.
func (s Spec) Decode(v any) error {
	if len(s.raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(s.raw, v); err != nil {
		return fmt.Errorf("invalid payload for effect %s: %w", s.Type, err)
	}
	return nil
}

// New собирает Spec из тега и параметров.
func New(t Type, payload any) Spec {
	fields := map[string]any{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err == nil {
			_ = json.Unmarshal(b, &fields)
		}
	}
	fields["type"] = t
	raw, _ := json.Marshal(fields)
	return Spec{Type: t, raw: raw}
}

// Parse разбирает Spec из JSON (например, сохраненного в отложенном действии).
func Parse(raw json.RawMessage) (Spec, error) {
	var s Spec
	if len(raw) == 0 {
		return s, nil
	}
	err := json.Unmarshal(raw, &s)
	return s, err
}

// --- Параметры вариантов ---

type compositePayload struct {
	Effects []Spec `json:"effects"`
}

type scoreChangePayload struct {
	Value int `json:"value"`
}

type scorePercentagePayload struct {
	Value decimal.Decimal `json:"value"`
}

type diceCountChangePayload struct {
	Value    int `json:"value"`
	Duration int `json:"duration"`
}

type forcedDicePayload struct {
	Value        []int `json:"value"`
	ScorePenalty int   `json:"score_penalty,omitempty"`
}

type diceModifierPayload struct {
	Value int `json:"value"`
	// Duration - число бросков, к которым применяется модификатор.
	Duration      int  `json:"duration"`
	ValueFromDice bool `json:"value_from_dice,omitempty"`
	Negative      bool `json:"negative,omitempty"`
}

type extraDicePayload struct {
	Dice int `json:"dice"`
}

type extraDiceRiskPayload struct {
	RiskValue int `json:"risk_value"`
}

// Threshold - диапазон суммы проверки и эффект для него.
type Threshold struct {
	Min    int  `json:"min"`
	Max    int  `json:"max"`
	Effect Spec `json:"effect"`
}

type diceCheckPayload struct {
	Dice             int         `json:"dice"`
	Thresholds       []Threshold `json:"thresholds,omitempty"`
	SuccessThreshold int         `json:"success_threshold,omitempty"`
	FailValue        int         `json:"fail_value,omitempty"`
	SuccessEffect    Spec        `json:"success_effect,omitempty"`
	FailEffect       Spec        `json:"fail_effect,omitempty"`
}

type oddEvenPayload struct {
	Expect        string `json:"expect,omitempty"`
	SuccessEffect Spec   `json:"success_effect"`
	FailEffect    Spec   `json:"fail_effect"`
}

type combinationsPayload struct {
	Threshold     int  `json:"threshold"`
	SuccessEffect Spec `json:"success_effect"`
	FailEffect    Spec `json:"fail_effect"`
}

type giveItemPayload struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

type skipTurnPayload struct {
	Turns     int `json:"turns,omitempty"`
	CostScore int `json:"cost_score,omitempty"`
}

type endSessionPayload struct {
	SaveProgress bool `json:"save_progress"`
}

type descriptionPayload struct {
	Description string `json:"description,omitempty"`
}

type extraTurnsPayload struct {
	Turns int `json:"turns"`
}

type permanentBuffPayload struct {
	Buff       models.BuffType `json:"buff"`
	Value      int             `json:"value"`
	Multiplier string          `json:"multiplier,omitempty"`
}

type costReductionPayload struct {
	Value    int `json:"value"`
	Duration int `json:"duration"`
}

type rerollBuffPayload struct {
	Duration     int `json:"duration"`
	PerTurnLimit int `json:"per_turn_limit"`
}

type selectiveRerollPayload struct {
	Count    int `json:"count"`
	Duration int `json:"duration"`
}

type clearMarkersPayload struct {
	PlayerChoice bool `json:"player_choice,omitempty"`
}

type columnPayload struct {
	Column int `json:"column,omitempty"`
}

type retreatPayload struct {
	Value int `json:"value"`
}

type forceArtworkPayload struct {
	AchievementCheck string `json:"achievement_check,omitempty"`
	Description      string `json:"description,omitempty"`
}

type unlockCommandsPayload struct {
	Commands   []string `json:"commands"`
	DailyLimit int      `json:"daily_limit"`
}

// Restriction для delayed_reward: награда сгорает, если за время ожидания сработала ловушка.
const RestrictionNoTrap = "no_trap"

type delayedRewardPayload struct {
	Turns       int    `json:"turns"`
	Reward      Spec   `json:"reward"`
	Restriction string `json:"restriction,omitempty"`
}

// PvPPayload - параметры дуэли на кубиках.
type PvPPayload struct {
	WinnerReward Spec `json:"winner_reward"`
	LoserPenalty Spec `json:"loser_penalty"`
	TieEffect    Spec `json:"tie_effect,omitempty"`
}

// --- Конструкторы для кода и тестов ---

// Nothing - пустой эффект.
func Nothing() Spec { return New(TypeNothing, nil) }

// Composite - последовательность эффектов.
func Composite(specs ...Spec) Spec {
	return New(TypeComposite, compositePayload{Effects: specs})
}

// ScoreChange - изменение счета.
func ScoreChange(v int) Spec { return New(TypeScoreChange, scoreChangePayload{Value: v}) }

// ScorePercentage - умножение счета.
func ScorePercentage(v decimal.Decimal) Spec {
	return New(TypeScoreChangePercentage, scorePercentagePayload{Value: v})
}

// GiveItem - выдача предмета.
func GiveItem(item string, quantity int) Spec {
	return New(TypeGiveItem, giveItemPayload{Item: item, Quantity: quantity})
}

// ForcedDice - фиксированный результат следующего броска.
func ForcedDice(values []int, penalty int) Spec {
	return New(TypeForcedDiceResult, forcedDicePayload{Value: values, ScorePenalty: penalty})
}

// DiceModifier - прибавка к каждому кубику следующего броска.
func DiceModifier(v, duration int) Spec {
	return New(TypeDiceModifier, diceModifierPayload{Value: v, Duration: duration})
}

// VoidTurn - аннулирование хода.
func VoidTurn() Spec { return New(TypeVoidTurn, nil) }

// SkipTurn - пропуск следующего хода.
func SkipTurn(cost int) Spec { return New(TypeSkipTurn, skipTurnPayload{CostScore: cost}) }

// PreventEndTurn - запрет завершить ход до следующего броска.
func PreventEndTurn(desc string) Spec {
	return New(TypePreventEndTurn, descriptionPayload{Description: desc})
}

// CostReduction - скидка на бросок.
func CostReduction(v, duration int) Spec {
	return New(TypeCostReductionBuff, costReductionPayload{Value: v, Duration: duration})
}

// ClearColumnMarker - снять временный маркер одной колонки.
func ClearColumnMarker(c int) Spec { return New(TypeClearColumnMarker, columnPayload{Column: c}) }
