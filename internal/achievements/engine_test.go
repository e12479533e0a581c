package achievements_test

import (
	"testing"

	"summit-server/internal/achievements"
	"summit-server/internal/content"
	"summit-server/internal/effects"
	"summit-server/internal/events"
	"summit-server/internal/models"
	"summit-server/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	achTripleRoll = "连掷三次"
	achTrap       = "踩坑"
	achOneTurn    = "一气呵成"
	achPeaceful   = "和平主义"
	achRich       = "富翁"
	achItemTrap   = "道具失手"
)

type fixture struct {
	engine *achievements.Engine
	bus    *events.Bus
	agg    *models.PlayerAggregate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := testutil.FixtureData(t)
	d.Achievements = append(d.Achievements,
		content.AchievementDef{
			Name: achTripleRoll, Category: "骰子",
			Conditions: []content.Condition{{
				Type: content.ConditionEventCount, Event: models.EventDiceRolled, Count: 3, Scope: content.ScopeSession,
			}},
			Reward: effects.ScoreChange(10),
		},
		content.AchievementDef{
			Name: achTrap, Category: "陷阱",
			Conditions: []content.Condition{{Type: content.ConditionTrapTriggered, TrapName: testutil.TrapScore}},
		},
		content.AchievementDef{
			Name: achOneTurn, Category: "登顶",
			Conditions: []content.Condition{{Type: content.ConditionSingleTurnComplete}},
		},
		content.AchievementDef{
			Name: achPeaceful, Category: "遭遇",
			Conditions: []content.Condition{{Type: content.ConditionComplex, CheckFunction: achievements.CheckThreePeacefulInRow}},
		},
		content.AchievementDef{
			Name: achRich, Category: "积分",
			Conditions: []content.Condition{{Type: content.ConditionComplex, CheckFunction: achievements.CheckRichPlayer}},
		},
		content.AchievementDef{
			Name: achItemTrap, Category: "道具",
			Conditions: []content.Condition{{Type: content.ConditionComplex, CheckFunction: achievements.CheckTriggeredWhileUsingItem}},
		},
	)
	r, err := content.New(d)
	require.NoError(t, err)

	h := effects.NewHandler(r, testutil.NewDice(), zap.NewNop())
	eng := achievements.NewEngine(r, h, zap.NewNop())
	require.NoError(t, eng.Validate())

	bus := events.NewBus(events.NewRing(0), zap.NewNop())
	bus.Subscribe(eng)

	agg := models.NewPlayerAggregate(&models.Player{PlayerID: "p1", Username: "p1", Faction: models.FactionAdopter})
	agg.Session = &models.GameSession{SessionID: "s1", PlayerID: "p1", State: models.SessionActive, TurnNumber: 1}
	return &fixture{engine: eng, bus: bus, agg: agg}
}

func (f *fixture) unlocked() []string {
	var out []string
	for _, p := range f.engine.List(f.agg) {
		if p.Unlocked {
			out = append(out, p.Name)
		}
	}
	return out
}

func countType(evs []models.GameEvent, t models.GameEventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func TestManualAchievementUnlockAndClaim(t *testing.T) {
	f := newFixture(t)
	s := f.bus.NewScope(f.agg)

	s.Emit(models.EventDiceRolled, nil)
	s.Emit(models.EventDiceRolled, nil)

	assert.Equal(t, []string{testutil.AchFirstRoll}, f.unlocked())
	assert.Equal(t, 1, countType(s.Events(), models.EventAchievementUnlocked), "unlock fires once")
	assert.Equal(t, 0, f.agg.Player.CurrentScore, "manual rewards wait for a claim")
	assert.Equal(t, 2, f.agg.Player.Stats.EventCounters[models.EventDiceRolled])

	out, err := f.engine.Claim(s, testutil.AchFirstRoll)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 3, f.agg.Player.CurrentScore)
	assert.True(t, f.agg.Achievements[testutil.AchFirstRoll].RewardClaimed)
	assert.Equal(t, 1, countType(s.Events(), models.EventRewardClaimed))

	_, err = f.engine.Claim(s, testutil.AchFirstRoll)
	assert.ErrorIs(t, err, models.ErrRewardAlreadyClaimed)
	_, err = f.engine.Claim(s, achRich)
	assert.ErrorIs(t, err, models.ErrAchievementNotFound, "locked achievement")
	_, err = f.engine.Claim(s, "不存在")
	assert.ErrorIs(t, err, models.ErrAchievementNotFound)
}

func TestSessionScopedCountWithAutoReward(t *testing.T) {
	f := newFixture(t)
	s := f.bus.NewScope(f.agg)

	for range 3 {
		s.Emit(models.EventDiceRolled, nil)
	}
	assert.Contains(t, f.unlocked(), achTripleRoll)
	assert.Equal(t, 10, f.agg.Player.CurrentScore)
	assert.True(t, f.agg.Achievements[achTripleRoll].RewardClaimed)

	_, err := f.engine.Claim(s, achTripleRoll)
	assert.ErrorIs(t, err, models.ErrRewardAlreadyClaimed)
}

func TestSessionScopedCountIgnoresOtherSessions(t *testing.T) {
	f := newFixture(t)
	f.agg.Session = nil
	s := f.bus.NewScope(f.agg)

	for range 5 {
		s.Emit(models.EventDiceRolled, nil)
	}
	assert.NotContains(t, f.unlocked(), achTripleRoll)
}

func TestTrapTriggeredCondition(t *testing.T) {
	f := newFixture(t)
	s := f.bus.NewScope(f.agg)

	s.Emit(models.EventTrapTriggered, nil)
	assert.NotContains(t, f.unlocked(), achTrap)

	f.agg.Player.Stats.RecordTrap(testutil.TrapScore, testutil.NewClock().Now())
	s.Emit(models.EventTrapTriggered, map[string]any{"trap": testutil.TrapScore})
	assert.Contains(t, f.unlocked(), achTrap)
}

func TestSingleTurnCompleteCondition(t *testing.T) {
	f := newFixture(t)
	s := f.bus.NewScope(f.agg)

	s.Emit(models.EventColumnCompleted, map[string]any{"column": 3, "startingProgress": 2})
	assert.NotContains(t, f.unlocked(), achOneTurn)

	s.Emit(models.EventColumnCompleted, map[string]any{"column": 4, "startingProgress": 0})
	assert.Contains(t, f.unlocked(), achOneTurn)
}

func TestComplexChecks(t *testing.T) {
	t.Run("three peaceful choices in a row", func(t *testing.T) {
		f := newFixture(t)
		s := f.bus.NewScope(f.agg)
		for _, k := range []models.EncounterKind{models.EncounterPeaceful, models.EncounterSpecial, models.EncounterPeaceful, models.EncounterPeaceful} {
			f.agg.Player.Stats.RecordChoiceKind(k)
			s.Emit(models.EventEncounterResolved, nil)
		}
		assert.NotContains(t, f.unlocked(), achPeaceful)

		f.agg.Player.Stats.RecordChoiceKind(models.EncounterPeaceful)
		s.Emit(models.EventEncounterResolved, nil)
		assert.Contains(t, f.unlocked(), achPeaceful)
	})

	t.Run("rich player", func(t *testing.T) {
		f := newFixture(t)
		s := f.bus.NewScope(f.agg)
		f.agg.Player.CurrentScore = achievements.RichPlayerThreshold - 1
		s.Emit(models.EventScoreGained, nil)
		assert.NotContains(t, f.unlocked(), achRich)

		f.agg.Player.CurrentScore = achievements.RichPlayerThreshold
		s.Emit(models.EventScoreGained, nil)
		assert.Contains(t, f.unlocked(), achRich)
	})

	t.Run("trap while using an item", func(t *testing.T) {
		f := newFixture(t)
		s := f.bus.NewScope(f.agg)
		s.Emit(models.EventTrapTriggered, nil)
		assert.NotContains(t, f.unlocked(), achItemTrap)

		s.WithItem(testutil.ItemKettle, func() {
			s.Emit(models.EventTrapTriggered, nil)
		})
		assert.Contains(t, f.unlocked(), achItemTrap)
	})
}

func TestRegisterCheckAndValidate(t *testing.T) {
	d := testutil.FixtureData(t)
	d.Achievements = append(d.Achievements, content.AchievementDef{
		Name:       "幸运七",
		Conditions: []content.Condition{{Type: content.ConditionComplex, CheckFunction: "lucky_seven"}},
	})
	r, err := content.New(d)
	require.NoError(t, err)
	eng := achievements.NewEngine(r, effects.NewHandler(r, nil, zap.NewNop()), zap.NewNop())

	err = eng.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfig)

	require.NoError(t, eng.RegisterCheck("lucky_seven", func(s *events.Scope, _ models.GameEvent) bool {
		return s.Agg.Player.CurrentScore == 7
	}))
	assert.Error(t, eng.RegisterCheck("lucky_seven", nil))
	require.NoError(t, eng.Validate())

	bus := events.NewBus(events.NewRing(0), zap.NewNop())
	bus.Subscribe(eng)
	agg := models.NewPlayerAggregate(&models.Player{PlayerID: "p1", CurrentScore: 7})
	bus.NewScope(agg).Emit(models.EventScoreGained, nil)
	assert.True(t, agg.HasAchievement("幸运七"))
}

func TestEmbeddedTrapCollectorAchievement(t *testing.T) {
	r, err := content.Load("", zap.NewNop())
	require.NoError(t, err)
	h := effects.NewHandler(r, testutil.NewDice(), zap.NewNop())
	eng := achievements.NewEngine(r, h, zap.NewNop())
	require.NoError(t, eng.Validate())
	bus := events.NewBus(events.NewRing(0), zap.NewNop())
	bus.Subscribe(eng)
	agg := models.NewPlayerAggregate(&models.Player{PlayerID: "p1", Username: "p1", Faction: models.FactionAdopter})

	const name = "出门没看黄历"
	unlocks := func(evs []models.GameEvent) int {
		n := 0
		for _, ev := range evs {
			if ev.Type == models.EventAchievementUnlocked && ev.Data["achievement"] == name {
				n++
			}
		}
		return n
	}

	for i := range 2 {
		s := bus.NewScope(agg)
		s.Emit(models.EventTrapFirstTime, map[string]any{"trapId": i + 1})
		assert.Zero(t, unlocks(s.Events()))
	}
	s := bus.NewScope(agg)
	s.Emit(models.EventTrapFirstTime, map[string]any{"trapId": 3})
	assert.Equal(t, 1, unlocks(s.Events()))
	require.True(t, agg.HasAchievement(name))
	assert.True(t, agg.Achievements[name].RewardClaimed)
	clovers := agg.ItemQuantity("幸运四叶草")
	assert.Positive(t, clovers)
	assert.Equal(t, 1, agg.Player.Stats.UnlockedCommands["黄历"])

	s = bus.NewScope(agg)
	s.Emit(models.EventTrapFirstTime, map[string]any{"trapId": 4})
	assert.Zero(t, unlocks(s.Events()))
	assert.Equal(t, clovers, agg.ItemQuantity("幸运四叶草"))
}
