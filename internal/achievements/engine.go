package achievements

import (
	"fmt"
	"sync"

	"summit-server/internal/content"
	"summit-server/internal/effects"
	"summit-server/internal/events"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

// CheckFunc - проверка сложного условия достижения.
type CheckFunc func(s *events.Scope, ev models.GameEvent) bool

// Имена встроенных сложных проверок.
const (
	CheckTriggeredWhileUsingItem = "triggered_while_using_item"
	CheckThreePeacefulInRow      = "three_peaceful_in_row"
	CheckThreeSpecialInRow       = "three_special_in_row"
	CheckRichPlayer              = "rich_player"
	CheckAllFactionsItems        = "all_factions_items"
)

// RichPlayerThreshold - порог счета для rich_player.
const RichPlayerThreshold = 500

// Engine - подписчик шины, который ведет счетчики событий и открывает достижения.
type Engine struct {
	registry *content.Registry
	effects  *effects.Handler
	logger   *zap.Logger

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

var _ events.Subscriber = (*Engine)(nil)

// NewEngine создает движок достижений со встроенными проверками.
func NewEngine(registry *content.Registry, handler *effects.Handler, logger *zap.Logger) *Engine {
	e := &Engine{
		registry: registry,
		effects:  handler,
		logger:   logger.Named("AchievementEngine"),
		checks:   make(map[string]CheckFunc),
	}
	e.checks[CheckTriggeredWhileUsingItem] = triggeredWhileUsingItem
	e.checks[CheckThreePeacefulInRow] = choiceStreak(models.EncounterPeaceful, 3)
	e.checks[CheckThreeSpecialInRow] = choiceStreak(models.EncounterSpecial, 3)
	e.checks[CheckRichPlayer] = richPlayer
	e.checks[CheckAllFactionsItems] = e.allFactionsItems
	return e
}

// RegisterCheck добавляет сложную проверку. Вызывается при инициализации.
func (e *Engine) RegisterCheck(name string, fn CheckFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.checks[name]; exists {
		return fmt.Errorf("check %s already registered", name)
	}
	e.checks[name] = fn
	return nil
}

// Validate проверяет, что все сложные условия реестра имеют реализацию.
func (e *Engine) Validate() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, a := range e.registry.Achievements() {
		for _, c := range a.Conditions {
			if c.Type != content.ConditionComplex {
				continue
			}
			if _, ok := e.checks[c.CheckFunction]; !ok {
				return fmt.Errorf("%w: achievement %q uses unknown check %q", models.ErrConfig, a.Name, c.CheckFunction)
			}
		}
	}
	return nil
}

// HandleEvent обновляет счетчики и проверяет все еще закрытые достижения.
func (e *Engine) HandleEvent(s *events.Scope, ev models.GameEvent) {
	agg := s.Agg
	if agg == nil || agg.Player == nil {
		return
	}
	agg.Player.Stats.Increment(ev.Type)
	if sess := agg.Session; sess != nil && sess.SessionID == ev.SessionID {
		sess.IncrementCounter(ev.Type)
	}

	for _, def := range e.registry.Achievements() {
		if agg.HasAchievement(def.Name) {
			continue
		}
		if !e.satisfied(s, ev, &def) {
			continue
		}
		e.unlock(s, &def)
	}
}

func (e *Engine) satisfied(s *events.Scope, ev models.GameEvent, def *content.AchievementDef) bool {
	for _, c := range def.Conditions {
		if !e.holds(s, ev, c) {
			return false
		}
	}
	return true
}

func (e *Engine) holds(s *events.Scope, ev models.GameEvent, c content.Condition) bool {
	agg := s.Agg
	switch c.Type {
	case content.ConditionEventCount:
		if c.Scope == content.ScopeSession {
			if agg.Session == nil {
				return false
			}
			return agg.Session.Data.Counters[c.Event] >= c.Count
		}
		return agg.Player.Stats.EventCounters[c.Event] >= c.Count
	case content.ConditionTrapTriggered:
		if c.TrapName == "" {
			return len(agg.Player.Stats.TrapHistory) > 0
		}
		trap, ok := e.registry.Trap(c.TrapName)
		if !ok {
			return false
		}
		return agg.Player.Stats.HasTriggeredTrap(trap.Name)
	case content.ConditionSingleTurnComplete:
		if ev.Type != models.EventColumnCompleted {
			return false
		}
		start, ok := intData(ev.Data, "startingProgress")
		return ok && start == 0
	case content.ConditionComplex:
		e.mu.RLock()
		fn, ok := e.checks[c.CheckFunction]
		e.mu.RUnlock()
		if !ok {
			e.logger.Warn("Unknown achievement check", zap.String("check", c.CheckFunction))
			return false
		}
		return fn(s, ev)
	}
	return false
}

// unlock отмечает достижение и, для автоматических, сразу выдает награду.
func (e *Engine) unlock(s *events.Scope, def *content.AchievementDef) {
	agg := s.Agg
	now := s.Now()
	pa := &models.PlayerAchievement{
		PlayerID:        agg.PlayerID(),
		AchievementName: def.Name,
		Category:        def.Category,
		UnlockedAt:      now,
	}
	if agg.Achievements == nil {
		agg.Achievements = make(map[string]*models.PlayerAchievement)
	}
	agg.Achievements[def.Name] = pa

	e.logger.Info("Achievement unlocked",
		zap.String("playerID", agg.PlayerID()), zap.String("achievement", def.Name))

	data := map[string]any{
		"achievement": def.Name,
		"category":    def.Category,
		"claim":       string(def.Claim),
	}
	if def.Claim == content.ClaimAuto {
		pa.RewardClaimed = true
		if !def.Reward.IsZero() {
			out := e.effects.Apply(&effects.Target{Agg: agg, Scope: s, Source: "achievement:" + def.Name}, def.Reward)
			data["reward"] = out.Message
			if !out.OK {
				e.logger.Warn("Achievement reward failed",
					zap.String("playerID", agg.PlayerID()),
					zap.String("achievement", def.Name),
					zap.String("message", out.Message))
			}
		}
	}
	s.Emit(models.EventAchievementUnlocked, data)
}

// Claim выдает награду достижения с ручным получением.
func (e *Engine) Claim(s *events.Scope, name string) (effects.Outcome, error) {
	def, ok := e.registry.Achievement(name)
	if !ok {
		return effects.Outcome{}, models.NewGameError(models.ErrAchievementNotFound, "未知成就：%s", name)
	}
	pa, unlocked := s.Agg.Achievements[def.Name]
	if !unlocked {
		return effects.Outcome{}, models.NewGameError(models.ErrAchievementNotFound, "尚未解锁成就「%s」。", def.Name)
	}
	if pa.RewardClaimed {
		return effects.Outcome{}, models.NewGameError(models.ErrRewardAlreadyClaimed, "成就「%s」的奖励已领取。", def.Name)
	}
	if def.Claim != content.ClaimManual {
		return effects.Outcome{}, models.NewGameError(models.ErrRewardNotClaimable, "成就「%s」的奖励会自动发放。", def.Name)
	}
	out := e.effects.Apply(&effects.Target{Agg: s.Agg, Scope: s, Source: "achievement:" + def.Name}, def.Reward)
	if !out.OK {
		return out, models.NewGameError(models.ErrUnknownEffect, "奖励发放失败：%s", out.Message)
	}
	pa.RewardClaimed = true
	s.Emit(models.EventRewardClaimed, map[string]any{"achievement": def.Name, "reward": out.Message})
	return out, nil
}

// Progress описывает открытые и закрытые достижения игрока.
type Progress struct {
	Name          string `json:"name"`
	Category      string `json:"category"`
	Description   string `json:"description"`
	Unlocked      bool   `json:"unlocked"`
	RewardClaimed bool   `json:"rewardClaimed"`
	Claim         string `json:"claim"`
}

// List возвращает все достижения с отметкой открытия.
func (e *Engine) List(agg *models.PlayerAggregate) []Progress {
	defs := e.registry.Achievements()
	out := make([]Progress, 0, len(defs))
	for _, d := range defs {
		p := Progress{Name: d.Name, Category: d.Category, Description: d.Description, Claim: string(d.Claim)}
		if pa, ok := agg.Achievements[d.Name]; ok {
			p.Unlocked = true
			p.RewardClaimed = pa.RewardClaimed
		}
		out = append(out, p)
	}
	return out
}

func triggeredWhileUsingItem(_ *events.Scope, ev models.GameEvent) bool {
	switch ev.Type {
	case models.EventTrapTriggered, models.EventEncounterTriggered, models.EventDiceCheck, models.EventItemAcquired:
	default:
		return false
	}
	item, _ := ev.Data[events.DataUsingItem].(string)
	return item != ""
}

func choiceStreak(kind models.EncounterKind, n int) CheckFunc {
	return func(s *events.Scope, ev models.GameEvent) bool {
		if ev.Type != models.EventEncounterResolved {
			return false
		}
		hist := s.Agg.Player.Stats.ChoiceKinds
		if len(hist) < n {
			return false
		}
		for _, k := range hist[len(hist)-n:] {
			if k != kind {
				return false
			}
		}
		return true
	}
}

func richPlayer(s *events.Scope, _ models.GameEvent) bool {
	return s.Agg.Player.CurrentScore >= RichPlayerThreshold
}

// allFactionsItems - игрок владеет и общим предметом, и предметом своей фракции.
func (e *Engine) allFactionsItems(s *events.Scope, _ models.GameEvent) bool {
	var universal, faction bool
	for name := range s.Agg.Inventory {
		it, ok := e.registry.Item(name)
		if !ok {
			continue
		}
		switch it.Faction {
		case content.ItemUniversal, "":
			universal = true
		default:
			faction = faction || it.Faction.Allows(s.Agg.Player.Faction)
		}
	}
	return universal && faction
}

func intData(data map[string]any, key string) (int, bool) {
	switch v := data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
