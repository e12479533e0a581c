// Package testutil - общие фикстуры тестов: управляемые кубики, часы и
// урезанный набор контента с предсказуемой картой.
package testutil

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"summit-server/internal/achievements"
	"summit-server/internal/content"
	"summit-server/internal/effects"
	"summit-server/internal/engine"
	"summit-server/internal/events"
	"summit-server/internal/maplayout"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Имена фикстурного контента.
const (
	TrapScore     = "测试陷阱"
	TrapFork      = "岔路陷阱"
	ItemKettle    = "水壶"
	ItemLimited   = "限量护符"
	ItemBound     = "绑定宝石"
	EncounterShop = "路边小摊"
	AchFirstRoll  = "第一次掷骰"
)

// Клетки фикстурной карты.
const (
	TrapScoreKey     = "4,1"
	ItemKettleKey    = "5,1"
	EncounterShopKey = "9,1"
	TrapForkKey      = "10,1"
)

const fixtureJSON = `{
  "Traps": [
    {"id": 1, "name": "测试陷阱", "description": "地面塌陷。", "effect": {"type": "score_change", "value": -5}},
    {"id": 2, "name": "岔路陷阱", "description": "前方有两条路。",
     "choices": [
       {"name": "左", "effect": {"type": "score_change", "value": 3}},
       {"name": "右", "effect": {"type": "nothing"}}
     ]}
  ],
  "Items": [
    {"id": 1, "name": "水壶", "faction": "universal", "item_type": "consumable", "price": 10,
     "description": "喝一口，积分 +5。", "effect": {"type": "score_change", "value": 5},
     "can_trade": true, "stackable": true},
    {"id": 2, "name": "限量护符", "faction": "universal", "item_type": "consumable", "price": 10,
     "description": "限量一个。", "effect": {"type": "nothing"},
     "can_trade": true, "stackable": true, "limited": true, "stock": 1},
    {"id": 3, "name": "绑定宝石", "faction": "universal", "item_type": "passive", "price": 0,
     "description": "无法交易。", "effect": {"type": "nothing"}, "can_trade": false, "stackable": false}
  ],
  "Encounters": [
    {"id": 1, "name": "路边小摊", "description": "一个卖水的小摊。",
     "choices": [
       {"name": "买", "kind": "peaceful", "cost": 5, "effect": {"type": "give_item", "item": "水壶", "quantity": 1}, "result": "买了一壶水。"},
       {"name": "离开", "kind": "peaceful", "effect": {"type": "nothing"}, "result": "你离开了。"}
     ]}
  ],
  "Achievements": [
    {"name": "第一次掷骰", "category": "骰子", "description": "第一次投掷骰子。",
     "conditions": [{"type": "event_count", "event": "DiceRolled", "count": 1, "scope": "lifetime"}],
     "reward": {"type": "score_change", "value": 3}, "claim": "manual"}
  ],
  "Baseline": [
    {"key": "4,1", "kind": "trap", "name": "测试陷阱"},
    {"key": "5,1", "kind": "item", "name": "水壶"},
    {"key": "9,1", "kind": "encounter", "name": "路边小摊"},
    {"key": "10,1", "kind": "trap", "name": "岔路陷阱"}
  ]
}`

// FixtureData возвращает урезанный набор контента.
func FixtureData(t testing.TB) content.Data {
	t.Helper()
	var d content.Data
	require.NoError(t, json.Unmarshal([]byte(fixtureJSON), &d))
	return d
}

// Registry строит реестр из фикстурного контента.
func Registry(t testing.TB) *content.Registry {
	t.Helper()
	r, err := content.New(FixtureData(t))
	require.NoError(t, err)
	return r
}

// Dice - управляемый источник кубиков. Очередь содержит значения граней;
// IntN(n) возвращает (грань-1) mod n. Пустая очередь дает грань 1.
type Dice struct {
	mu    sync.Mutex
	faces []int
}

var _ effects.Roller = (*Dice)(nil)

// NewDice создает источник с заранее заданными гранями.
func NewDice(faces ...int) *Dice {
	return &Dice{faces: faces}
}

// Push добавляет грани в конец очереди.
func (d *Dice) Push(faces ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faces = append(d.faces, faces...)
}

// Left - сколько граней осталось в очереди.
func (d *Dice) Left() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.faces)
}

func (d *Dice) IntN(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.faces) == 0 {
		return 0
	}
	f := d.faces[0]
	d.faces = d.faces[1:]
	return (f - 1) % n
}

// Clock - ручные часы.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock создает часы, остановленные на фиксированном моменте (UTC, до секунды).
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance сдвигает часы.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Env - собранное игровое ядро без хранилища.
type Env struct {
	Registry     *content.Registry
	Layout       *maplayout.Layout
	Handler      *effects.Handler
	Engine       *engine.Engine
	Achievements *achievements.Engine
	Bus          *events.Bus
	Dice         *Dice
	Clock        *Clock
}

// NewEnv собирает ядро на фикстурном контенте.
func NewEnv(t testing.TB, cfg engine.Config) *Env {
	t.Helper()
	return NewEnvWithRegistry(t, cfg, Registry(t))
}

// NewEnvWithRegistry собирает ядро на переданном реестре.
func NewEnvWithRegistry(t testing.TB, cfg engine.Config, reg *content.Registry) *Env {
	t.Helper()
	logger := zap.NewNop()
	dice := NewDice()
	clock := NewClock()

	handler := effects.NewHandler(reg, dice, logger)
	handler.SetClock(clock.Now)
	layout, err := maplayout.New(reg, maplayout.NewMemoryOverlayStore(), logger)
	require.NoError(t, err)
	eng, err := engine.New(cfg, reg, layout, handler, logger)
	require.NoError(t, err)
	bus := events.NewBus(events.NewRing(1000), logger)
	bus.SetClock(clock.Now)
	ach := achievements.NewEngine(reg, handler, logger)

	return &Env{
		Registry:     reg,
		Layout:       layout,
		Handler:      handler,
		Engine:       eng,
		Achievements: ach,
		Bus:          bus,
		Dice:         dice,
		Clock:        clock,
	}
}
