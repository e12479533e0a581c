package effects_test

import (
	"encoding/json"
	"testing"

	"summit-server/internal/effects"
	"summit-server/internal/events"
	"summit-server/internal/models"
	"summit-server/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	h    *effects.Handler
	t    *effects.Target
	dice *testutil.Dice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dice := testutil.NewDice()
	h := effects.NewHandler(testutil.Registry(t), dice, zap.NewNop())
	h.SetClock(testutil.NewClock().Now)
	bus := events.NewBus(events.NewRing(0), zap.NewNop())

	agg := models.NewPlayerAggregate(&models.Player{
		PlayerID:     "p1",
		Username:     "p1",
		Faction:      models.FactionAdopter,
		CurrentScore: 20,
	})
	agg.Session = &models.GameSession{
		SessionID:  "s1",
		PlayerID:   "p1",
		State:      models.SessionActive,
		TurnState:  models.TurnDecision,
		TurnNumber: 1,
		TemporaryMarkers: []models.TemporaryMarker{
			{Column: 3, Position: 1},
			{Column: 7, Position: 2},
		},
	}
	return &fixture{
		h:    h,
		t:    &effects.Target{Agg: agg, Scope: bus.NewScope(agg), Source: "trap:测试"},
		dice: dice,
	}
}

func (f *fixture) apply(t *testing.T, raw string) effects.Outcome {
	t.Helper()
	spec, err := effects.Parse(json.RawMessage(raw))
	require.NoError(t, err)
	return f.h.Apply(f.t, spec)
}

func TestScoreChange(t *testing.T) {
	f := newFixture(t)

	out := f.h.Apply(f.t, effects.ScoreChange(5))
	require.True(t, out.OK)
	assert.Equal(t, 25, f.t.Agg.Player.CurrentScore)
	assert.Equal(t, 25, f.t.Agg.Player.TotalScore)

	out = f.h.Apply(f.t, effects.ScoreChange(-40))
	require.True(t, out.OK)
	assert.Equal(t, 0, f.t.Agg.Player.CurrentScore, "score never goes below zero")
	require.Len(t, f.t.Agg.NewTransactions, 2)
	assert.Equal(t, 25, f.t.Agg.NewTransactions[1].Amount)
	assert.Equal(t, models.TransactionSpend, f.t.Agg.NewTransactions[1].Kind)

	out = f.h.Apply(f.t, effects.ScoreChange(-1))
	assert.True(t, out.OK)
	assert.Len(t, f.t.Agg.NewTransactions, 2)
}

func TestScorePercentage(t *testing.T) {
	tests := []struct {
		name  string
		score int
		value string
		want  int
	}{
		{"increase", 20, "1.5", 30},
		{"truncate toward zero", 21, "0.5", 10},
		{"zero score is untouched", 0, "2", 0},
		{"negative multiplier floors at zero", 10, "-1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.t.Agg.Player.CurrentScore = tt.score
			out := f.h.Apply(f.t, effects.ScorePercentage(decimal.RequireFromString(tt.value)))
			assert.True(t, out.OK)
			assert.Equal(t, tt.want, f.t.Agg.Player.CurrentScore)
		})
	}
}

func TestUnknownEffectIsRejectedWithoutChanges(t *testing.T) {
	f := newFixture(t)
	out := f.apply(t, `{"type":"teleport","column":5}`)
	assert.False(t, out.OK)
	assert.Equal(t, "UnknownEffect", out.Extra["error"])
	assert.Equal(t, 20, f.t.Agg.Player.CurrentScore)
	assert.Empty(t, f.t.Scope.Events())

	nested := effects.Composite(effects.ScoreChange(5), effects.New("teleport", nil))
	assert.ErrorIs(t, f.h.Validate(nested), models.ErrUnknownEffect)
	out = f.h.Apply(f.t, nested)
	assert.False(t, out.OK)
	assert.Equal(t, 20, f.t.Agg.Player.CurrentScore, "composite with an unknown part is not applied at all")
}

func TestRegisterCustomEffect(t *testing.T) {
	f := newFixture(t)
	require.Error(t, f.h.Register(effects.TypeScoreChange, nil))

	require.NoError(t, f.h.Register("double_or_nothing", func(h *effects.Handler, tg *effects.Target, _ effects.Spec) effects.Outcome {
		h.ChangeScore(tg, tg.Agg.Player.CurrentScore, models.SourceEffect, "double")
		return effects.Outcome{OK: true, Message: "翻倍"}
	}))
	require.Error(t, f.h.Register("double_or_nothing", nil))
	assert.True(t, f.h.Known("double_or_nothing"))

	out := f.apply(t, `{"type":"composite","effects":[{"type":"double_or_nothing"},{"type":"score_change","value":1}]}`)
	assert.True(t, out.OK)
	assert.Equal(t, 41, f.t.Agg.Player.CurrentScore)
}

func TestGiveItem(t *testing.T) {
	f := newFixture(t)
	out := f.h.Apply(f.t, effects.GiveItem(testutil.ItemKettle, 2))
	require.True(t, out.OK)
	assert.Equal(t, 2, f.t.Agg.ItemQuantity(testutil.ItemKettle))
	assert.Equal(t, testutil.ItemKettle, out.Extra["itemAcquired"])

	out = f.h.Apply(f.t, effects.GiveItem("龙蛋", 1))
	assert.False(t, out.OK)
	assert.Equal(t, "UnknownItem", out.Extra["error"])
}

func TestDiceCheck(t *testing.T) {
	spec := `{"type":"dice_check","dice":2,"success_threshold":7,
		"success_effect":{"type":"score_change","value":10},
		"fail_effect":{"type":"score_change","value":-5}}`

	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.dice.Push(6, 6)
		out := f.apply(t, spec)
		assert.True(t, out.OK)
		assert.Equal(t, true, out.Extra["checkSuccess"])
		assert.Equal(t, []int{6, 6}, out.Extra["checkDice"])
		assert.Equal(t, 30, f.t.Agg.Player.CurrentScore)
	})
	t.Run("failure", func(t *testing.T) {
		f := newFixture(t)
		f.dice.Push(1, 2)
		out := f.apply(t, spec)
		assert.Equal(t, false, out.Extra["checkSuccess"])
		assert.Equal(t, 15, f.t.Agg.Player.CurrentScore)
	})
}

func TestForcedDiceValidation(t *testing.T) {
	f := newFixture(t)
	out := f.h.Apply(f.t, effects.ForcedDice([]int{1, 2, 3}, 0))
	assert.False(t, out.OK)
	assert.Nil(t, f.t.Agg.Session.ForcedDiceResult)

	out = f.h.Apply(f.t, effects.ForcedDice([]int{6, 6, 6, 6, 6, 6}, 5))
	assert.True(t, out.OK)
	assert.Equal(t, []int{6, 6, 6, 6, 6, 6}, f.t.Agg.Session.ForcedDiceResult)
	assert.Equal(t, 15, f.t.Agg.Player.CurrentScore)
}

func TestSkipTurnIsDelayed(t *testing.T) {
	f := newFixture(t)
	out := f.h.Apply(f.t, effects.SkipTurn(0))
	require.True(t, out.OK)
	require.Len(t, f.t.Agg.DelayedEffects, 1)
	assert.Equal(t, 2, f.t.Agg.DelayedEffects[0].TriggerTurn)

	res := f.h.RunDelayed(f.t, models.PhaseBeforeRoll, nil)
	assert.False(t, res.SkipTurn)
	assert.Len(t, f.t.Agg.DelayedEffects, 1)

	f.t.Agg.Session.TurnNumber = 2
	res = f.h.RunDelayed(f.t, models.PhaseBeforeRoll, nil)
	assert.True(t, res.SkipTurn)
	assert.Equal(t, 1, res.Applied)
	assert.Empty(t, f.t.Agg.DelayedEffects)

	res = f.h.RunDelayed(f.t, models.PhaseBeforeRoll, nil)
	assert.Equal(t, 0, res.Applied, "delayed effects fire exactly once")
}

func TestStaleDelayedEffectsAreDropped(t *testing.T) {
	f := newFixture(t)
	f.h.Apply(f.t, effects.SkipTurn(0))
	f.t.Agg.Session.TurnNumber = 5
	res := f.h.RunDelayed(f.t, models.PhaseBeforeRoll, nil)
	assert.Equal(t, 0, res.Applied)
	assert.Empty(t, f.t.Agg.DelayedEffects)
}

func TestBuffLifecycle(t *testing.T) {
	f := newFixture(t)
	f.h.Apply(f.t, effects.CostReduction(3, 2))
	assert.Equal(t, 3, effects.SumBuff(f.t.Agg, models.BuffCostReduction))

	assert.Empty(t, f.h.TickBuffs(f.t))
	assert.True(t, effects.HasBuff(f.t.Agg, models.BuffCostReduction))
	assert.Equal(t, []models.BuffType{models.BuffCostReduction}, f.h.TickBuffs(f.t))
	assert.False(t, effects.HasBuff(f.t.Agg, models.BuffCostReduction))

	f.h.AddBuff(f.t, models.BuffTrapImmunity, 1, models.PermanentDuration, models.BuffPayload{})
	for range 3 {
		assert.True(t, f.h.ConsumeBuff(f.t, models.BuffTrapImmunity))
	}
	assert.True(t, effects.HasBuff(f.t.Agg, models.BuffTrapImmunity), "permanent buffs are not consumed")
}

func TestAddBuffReturnsCopy(t *testing.T) {
	f := newFixture(t)
	first := f.h.AddBuff(f.t, models.BuffCostReduction, 2, 3, models.BuffPayload{})
	for range 8 {
		f.h.AddBuff(f.t, models.BuffShopDiscount, 0, 1, models.BuffPayload{Multiplier: "0.9"})
	}
	found := effects.FindBuff(f.t.Agg, models.BuffCostReduction)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, 3, first.RemainingTurns)

	first.RemainingTurns = 0
	assert.Equal(t, 3, found.RemainingTurns, "the returned buff is detached from the player")
}

func TestDiceModifierCountsRolls(t *testing.T) {
	f := newFixture(t)
	f.h.AddBuff(f.t, models.BuffDiceModifier, 1, 2, models.BuffPayload{})

	assert.Empty(t, f.h.TickBuffs(f.t))
	assert.Equal(t, 1, effects.SumBuff(f.t.Agg, models.BuffDiceModifier), "turn end does not shorten a roll modifier")

	assert.Equal(t, 1, f.h.ConsumeAll(f.t, models.BuffDiceModifier))
	assert.True(t, effects.HasBuff(f.t.Agg, models.BuffDiceModifier))
	assert.Equal(t, 1, f.h.ConsumeAll(f.t, models.BuffDiceModifier))
	assert.False(t, effects.HasBuff(f.t.Agg, models.BuffDiceModifier))
}

func TestShopDiscount(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 15, effects.DiscountedPrice(f.t.Agg, 15))

	f.h.AddBuff(f.t, models.BuffShopDiscount, 0, 2, models.BuffPayload{Multiplier: "0.8"})
	f.h.AddBuff(f.t, models.BuffShopDiscount, 0, 2, models.BuffPayload{Multiplier: "0.5"})
	assert.True(t, decimal.RequireFromString("0.5").Equal(effects.ShopDiscount(f.t.Agg)))
	assert.Equal(t, 7, effects.DiscountedPrice(f.t.Agg, 15))
}

func TestVoidTurnEndsSession(t *testing.T) {
	f := newFixture(t)
	out := f.h.Apply(f.t, effects.VoidTurn())
	require.True(t, out.OK)
	sess := f.t.Agg.Session
	assert.Empty(t, sess.TemporaryMarkers)
	assert.Equal(t, models.SessionFailed, sess.State)
	assert.Equal(t, models.TurnEnded, sess.TurnState)

	out = f.h.Apply(f.t, effects.VoidTurn())
	assert.False(t, out.OK)
	assert.Equal(t, "SessionNotFound", out.Extra["error"])
}

func TestClearColumnMarker(t *testing.T) {
	f := newFixture(t)
	out := f.h.Apply(f.t, effects.ClearColumnMarker(7))
	require.True(t, out.OK)
	assert.Nil(t, f.t.Agg.Session.MarkerAt(7))
	assert.NotNil(t, f.t.Agg.Session.MarkerAt(3))
}

func TestConsolidateMarkers(t *testing.T) {
	f := newFixture(t)
	sess := f.t.Agg.Session
	sess.MarkerAt(3).Position = 3

	completed := effects.ConsolidateMarkers(f.t.Agg, sess, testutil.NewClock().Now())
	assert.Equal(t, []int{3}, completed)
	assert.True(t, f.t.Agg.Progress.IsCompleted(3))
	assert.Equal(t, 2, f.t.Agg.Progress.Get(7))
	assert.Empty(t, sess.TemporaryMarkers)
}

func TestSpecJSON(t *testing.T) {
	spec, err := effects.Parse(json.RawMessage(`{"type":"give_item","item":"水壶","quantity":2}`))
	require.NoError(t, err)
	assert.Equal(t, effects.TypeGiveItem, spec.Type)
	assert.JSONEq(t, `{"type":"give_item","item":"水壶","quantity":2}`, string(spec.Raw()))

	_, err = effects.Parse(json.RawMessage(`{"value":2}`))
	assert.Error(t, err)

	empty, err := effects.Parse(nil)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
	assert.Equal(t, "null", string(empty.Raw()))
}
