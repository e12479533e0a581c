package effects

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"summit-server/internal/events"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

// Roller - источник случайных чисел в [0,n).
type Roller interface {
	IntN(n int) int
}

type globalRoller struct{}

func (globalRoller) IntN(n int) int { return rand.IntN(n) }

// DefaultRoller использует потокобезопасный глобальный генератор.
func DefaultRoller() Roller { return globalRoller{} }

// ItemInfo - сведения о предмете, нужные обработчику эффектов.
type ItemInfo struct {
	Name string
	Type models.ItemType
}

// Catalog - доступ к предметам реестра контента.
type Catalog interface {
	LookupItem(name string) (ItemInfo, bool)
	RandomItem(r Roller, faction models.Faction) (ItemInfo, bool)
}

// Target - состояние, к которому применяется эффект.
type Target struct {
	Agg   *models.PlayerAggregate
	Scope *events.Scope
	// Source - происхождение эффекта ("trap:小小火球术", "item:水壶", ...).
	Source string
	// Column и Position - клетка, на которой возник эффект (0, если не на карте).
	Column   int
	Position int
}

// Session - текущая сессия цели (может быть nil).
func (t *Target) Session() *models.GameSession {
	return t.Agg.Session
}

// Outcome - результат применения: (ok, message, extra_data).
type Outcome struct {
	OK      bool           `json:"ok"`
	Message string         `json:"message"`
	Extra   map[string]any `json:"extra,omitempty"`
}

func ok(format string, args ...any) Outcome {
	return Outcome{OK: true, Message: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) Outcome {
	return Outcome{OK: false, Message: fmt.Sprintf(format, args...)}
}

func (o Outcome) with(key string, value any) Outcome {
	if o.Extra == nil {
		o.Extra = make(map[string]any)
	}
	o.Extra[key] = value
	return o
}

// Func - обработчик пользовательского типа эффекта.
type Func func(h *Handler, t *Target, spec Spec) Outcome

// Handler применяет спецификации эффектов к агрегату игрока.
type Handler struct {
	catalog Catalog
	roller  Roller
	clock   func() time.Time
	logger  *zap.Logger

	mu     sync.RWMutex
	custom map[Type]Func
}

// NewHandler создает обработчик эффектов.
func NewHandler(catalog Catalog, roller Roller, logger *zap.Logger) *Handler {
	if roller == nil {
		roller = DefaultRoller()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		catalog: catalog,
		roller:  roller,
		clock:   time.Now,
		logger:  logger.Named("EffectHandler"),
		custom:  make(map[Type]Func),
	}
}

// SetClock подменяет часы (тесты).
func (h *Handler) SetClock(clock func() time.Time) {
	h.clock = clock
}

// Now - текущее время обработчика.
func (h *Handler) Now() time.Time {
	return h.clock()
}

// Roller возвращает генератор случайных чисел.
func (h *Handler) Roller() Roller {
	return h.roller
}

// RollDie бросает один кубик.
func (h *Handler) RollDie() int {
	return h.roller.IntN(6) + 1
}

// Register добавляет обработчик нового типа эффекта. Вызывается при инициализации.
func (h *Handler) Register(t Type, fn Func) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, builtin := builtinTypes[t]; builtin {
		return fmt.Errorf("effect type %s is built in", t)
	}
	if _, exists := h.custom[t]; exists {
		return fmt.Errorf("effect type %s already registered", t)
	}
	h.custom[t] = fn
	return nil
}

// Known сообщает, поддерживается ли тип.
func (h *Handler) Known(t Type) bool {
	if _, ok := builtinTypes[t]; ok {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.custom[t]
	return ok
}

// Validate рекурсивно проверяет, что все вложенные типы известны.
func (h *Handler) Validate(spec Spec) error {
	if spec.IsZero() {
		return nil
	}
	if !h.Known(spec.Type) {
		return models.NewGameError(models.ErrUnknownEffect, "未知效果类型：%s", spec.Type)
	}
	var nested []Spec
	switch spec.Type {
	case TypeComposite:
		var p compositePayload
		if err := spec.Decode(&p); err != nil {
			return err
		}
		nested = p.Effects
	case TypeDiceCheck:
		var p diceCheckPayload
		if err := spec.Decode(&p); err != nil {
			return err
		}
		nested = append(nested, p.SuccessEffect, p.FailEffect)
		for _, th := range p.Thresholds {
			nested = append(nested, th.Effect)
		}
	case TypeDiceCheckOddEven:
		var p oddEvenPayload
		if err := spec.Decode(&p); err != nil {
			return err
		}
		nested = append(nested, p.SuccessEffect, p.FailEffect)
	case TypeDiceCheckCombinations:
		var p combinationsPayload
		if err := spec.Decode(&p); err != nil {
			return err
		}
		nested = append(nested, p.SuccessEffect, p.FailEffect)
	case TypeDelayedReward:
		var p delayedRewardPayload
		if err := spec.Decode(&p); err != nil {
			return err
		}
		nested = append(nested, p.Reward)
	case TypePvPDiceBattle:
		var p PvPPayload
		if err := spec.Decode(&p); err != nil {
			return err
		}
		nested = append(nested, p.WinnerReward, p.LoserPenalty, p.TieEffect)
	}
	for _, n := range nested {
		if err := h.Validate(n); err != nil {
			return err
		}
	}
	return nil
}

// Apply применяет эффект. Ошибки не выходят наружу: неизвестные типы и
// некорректные параметры дают ok=false с диагностикой и не меняют состояние.
func (h *Handler) Apply(t *Target, spec Spec) Outcome {
	if spec.IsZero() {
		return ok("")
	}
	if err := h.Validate(spec); err != nil {
		h.logger.Warn("Rejected effect spec",
			zap.String("playerID", t.Agg.PlayerID()),
			zap.String("source", t.Source),
			zap.String("effectType", string(spec.Type)),
			zap.Error(err))
		return fail("%s", err.Error()).with("error", models.ErrorCode(err))
	}
	return h.dispatch(t, spec)
}

// ApplyRaw - Apply для спецификации, сохраненной как JSON.
func (h *Handler) ApplyRaw(t *Target, raw []byte) Outcome {
	spec, err := Parse(raw)
	if err != nil {
		h.logger.Warn("Invalid stored effect spec", zap.String("source", t.Source), zap.Error(err))
		return fail("效果配置无效：%v", err).with("error", models.ErrorCode(models.ErrUnknownEffect))
	}
	return h.Apply(t, spec)
}

func (h *Handler) dispatch(t *Target, spec Spec) Outcome {
	switch spec.Type {
	case TypeNothing:
		return ok("什么也没有发生。")
	case TypeComposite:
		return h.applyComposite(t, spec)
	case TypeScoreChange:
		return h.applyScoreChange(t, spec)
	case TypeScoreChangePercentage:
		return h.applyScorePercentage(t, spec)
	case TypeDiceCountChange:
		return h.applyDiceCountChange(t, spec)
	case TypeForcedDiceResult:
		return h.applyForcedDice(t, spec)
	case TypeDiceModifier:
		return h.applyDiceModifier(t, spec)
	case TypeExtraDice:
		return h.applyExtraDice(t, spec)
	case TypeExtraDiceWithRisk:
		return h.applyExtraDiceWithRisk(t, spec)
	case TypeDiceCheck:
		return h.applyDiceCheck(t, spec)
	case TypeDiceCheckOddEven:
		return h.queueDelayedSpec(t, spec, 1, models.PhaseAfterRoll, "下回合将进行奇偶判定。")
	case TypeDiceCheckCombinations:
		return h.queueDelayedSpec(t, spec, 1, models.PhaseAfterRoll, "下回合将根据骰子组合进行判定。")
	case TypeGiveItem:
		return h.applyGiveItem(t, spec)
	case TypeRandomItem:
		return h.applyRandomItem(t)
	case TypeGiveRerollToken:
		return h.giveItem(t, RerollTokenItem, 1)
	case TypeSkipTurn:
		return h.applySkipTurns(t, spec, 1)
	case TypeSkipMultipleTurns:
		return h.applySkipTurns(t, spec, 0)
	case TypeVoidTurn:
		return h.applyVoidTurn(t)
	case TypeVoidTurnOrSkip:
		return h.applyVoidTurnOrSkip(t)
	case TypeEndSession:
		return h.applyEndSession(t, spec)
	case TypePreventEndTurn:
		return h.applyPreventEndTurn(t, spec)
	case TypeForceExtraTurns:
		return h.applyForceExtraTurns(t, spec)
	case TypePermanentBuff:
		return h.applyPermanentBuff(t, spec)
	case TypeCostReductionBuff:
		return h.applyCostReduction(t, spec)
	case TypeRerollBuff:
		return h.applyRerollBuff(t, spec)
	case TypeSelectiveRerollBuff:
		return h.applySelectiveRerollBuff(t, spec)
	case TypeClearTempMarkers:
		return h.applyClearTempMarkers(t, spec)
	case TypeClearColumnMarker:
		return h.applyClearColumnMarker(t, spec)
	case TypeResetColumnProgress:
		return h.applyResetColumnProgress(t, spec)
	case TypeAllColumnsRetreat:
		return h.applyAllColumnsRetreat(t, spec)
	case TypeForceArtwork:
		return h.applyForceArtwork(t, spec)
	case TypeUnlockCommands:
		return h.applyUnlockCommands(t, spec)
	case TypeDelayedReward:
		return h.applyDelayedReward(t, spec)
	case TypePvPDiceBattle:
		return h.applyPvP(t, spec)
	}

	h.mu.RLock()
	fn, found := h.custom[spec.Type]
	h.mu.RUnlock()
	if found {
		return fn(h, t, spec)
	}
	return fail("未知效果类型：%s", spec.Type).with("error", models.ErrorCode(models.ErrUnknownEffect))
}

func (h *Handler) applyComposite(t *Target, spec Spec) Outcome {
	var p compositePayload
	if err := spec.Decode(&p); err != nil {
		return fail("%v", err)
	}
	out := Outcome{OK: true}
	var msgs []string
	for _, sub := range p.Effects {
		res := h.dispatch(t, sub)
		if !res.OK {
			out.OK = false
		}
		if res.Message != "" {
			msgs = append(msgs, res.Message)
		}
		for k, v := range res.Extra {
			out = out.with(k, v)
		}
	}
	out.Message = strings.Join(msgs, "\n")
	return out
}

// requireSession возвращает активную сессию или неуспешный результат.
func requireSession(t *Target) (*models.GameSession, *Outcome) {
	s := t.Session()
	if s == nil || !s.IsOpen() {
		o := fail("当前没有进行中的游戏，效果无法生效。").with("error", models.ErrorCode(models.ErrSessionNotFound))
		return nil, &o
	}
	return s, nil
}
