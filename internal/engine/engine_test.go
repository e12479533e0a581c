package engine_test

import (
	"testing"

	"summit-server/internal/board"
	"summit-server/internal/content"
	"summit-server/internal/effects"
	"summit-server/internal/engine"
	"summit-server/internal/events"
	"summit-server/internal/models"
	"summit-server/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type game struct {
	env *testutil.Env
	agg *models.PlayerAggregate
}

func newGame(t *testing.T, reg *content.Registry) *game {
	t.Helper()
	if reg == nil {
		reg = testutil.Registry(t)
	}
	env := testutil.NewEnvWithRegistry(t, engine.DefaultConfig(), reg)
	agg := models.NewPlayerAggregate(&models.Player{
		PlayerID:     "p1",
		Username:     "p1",
		Faction:      models.FactionAdopter,
		CurrentScore: 20,
		TotalScore:   20,
	})
	return &game{env: env, agg: agg}
}

func (g *game) scope() *events.Scope {
	return g.env.Bus.NewScope(g.agg)
}

func (g *game) start(t *testing.T) *models.GameSession {
	t.Helper()
	_, err := g.env.Engine.Start(g.scope())
	require.NoError(t, err)
	return g.agg.Session
}

func (g *game) roll(t *testing.T, faces ...int) engine.Outcome {
	t.Helper()
	g.env.Dice.Push(faces...)
	out, err := g.env.Engine.Roll(g.scope())
	require.NoError(t, err)
	return out
}

func types(evs []models.GameEvent) []models.GameEventType {
	out := make([]models.GameEventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func count(evs []models.GameEvent, t models.GameEventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func TestFirstRollWithForcedDice(t *testing.T) {
	g := newGame(t, nil)
	sess := g.start(t)
	sess.ForcedDiceResult = []int{1, 2, 3, 4, 5, 6}

	s := g.scope()
	out, err := g.env.Engine.Roll(s)
	require.NoError(t, err)

	assert.Equal(t, 10, g.agg.Player.CurrentScore)
	assert.Equal(t, models.TurnMoveMarkers, sess.TurnState)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, sess.CurrentDice)
	assert.Nil(t, sess.ForcedDiceResult)

	pairs, ok := out.Data["pairs"].([]board.Pair)
	require.True(t, ok)
	assert.Contains(t, pairs, board.Pair{First: 6, Second: 15})
	assert.Contains(t, pairs, board.Pair{First: 9, Second: 12})
	assert.Equal(t, 1, count(s.Events(), models.EventDiceRolled))
	assert.Equal(t, 0, g.env.Dice.Left())
}

func TestRoll_Preconditions(t *testing.T) {
	g := newGame(t, nil)

	_, err := g.env.Engine.Roll(g.scope())
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	g.start(t)
	_, err = g.env.Engine.Start(g.scope())
	assert.ErrorIs(t, err, models.ErrActiveSessionExists)

	g.agg.Player.CurrentScore = 9
	_, err = g.env.Engine.Roll(g.scope())
	assert.ErrorIs(t, err, models.ErrInsufficientScore)
	assert.Equal(t, models.TurnDiceRoll, g.agg.Session.TurnState)
}

func TestPassiveStop(t *testing.T) {
	g := newGame(t, nil)
	sess := g.start(t)
	sess.FirstTurn = false
	sess.TemporaryMarkers = []models.TemporaryMarker{
		{Column: 6, Position: 1}, {Column: 8, Position: 2}, {Column: 10, Position: 1},
	}

	s := g.scope()
	g.env.Dice.Push(1, 1, 1, 1, 1, 1)
	out, err := g.env.Engine.Roll(s)
	require.NoError(t, err)

	assert.Equal(t, true, out.Data["passiveStop"])
	assert.Equal(t, models.SessionFailed, sess.State)
	assert.Equal(t, models.TurnEnded, sess.TurnState)
	assert.Empty(t, sess.TemporaryMarkers)
	assert.Equal(t, 0, g.agg.Progress.Get(8), "lost markers are not saved")
	assert.Contains(t, types(s.Events()), models.EventPassiveStop)

	_, err = g.env.Engine.Roll(g.scope())
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestFireballTrap_ForcedDiceConsumedOnce(t *testing.T) {
	reg, err := content.Load("", zap.NewNop())
	require.NoError(t, err)
	g := newGame(t, reg)
	ev, ok := g.env.Layout.EventAt(6, 1)
	require.True(t, ok)
	require.Equal(t, "小小火球术", ev.Name)

	sess := g.start(t)
	g.roll(t, 1, 2, 3, 1, 1, 1)

	s := g.scope()
	_, err = g.env.Engine.Move(s, []int{6, 3})
	require.NoError(t, err)

	assert.Equal(t, models.SessionFailed, sess.State)
	assert.Equal(t, models.TurnEnded, sess.TurnState)
	assert.Empty(t, sess.TemporaryMarkers)
	assert.Equal(t, []int{4, 5, 5, 5, 6, 6}, sess.ForcedDiceResult)
	assert.True(t, effects.HasBuff(g.agg, models.BuffPreventEndTurn))
	evs := types(s.Events())
	assert.Contains(t, evs, models.EventTrapTriggered)
	assert.Contains(t, evs, models.EventTrapFirstTime)
	assert.Contains(t, evs, models.EventTurnVoided)
	assert.True(t, g.agg.Player.Stats.HasTriggeredTrap("小小火球术"))

	next := g.start(t)
	assert.Equal(t, []int{4, 5, 5, 5, 6, 6}, next.ForcedDiceResult, "forced result survives into the next session")

	g.roll(t)
	assert.Equal(t, []int{4, 5, 5, 5, 6, 6}, next.CurrentDice)
	assert.Nil(t, next.ForcedDiceResult)
	assert.False(t, effects.HasBuff(g.agg, models.BuffPreventEndTurn), "roll lifts the end-turn lock")
	assert.Equal(t, 0, g.agg.Player.CurrentScore)
}

func TestSummitFlow(t *testing.T) {
	g := newGame(t, nil)
	g.agg.Progress.Set(3, 2, board.MustHeight(3), g.env.Clock.Now())
	sess := g.start(t)
	sess.FirstTurn = false
	g.roll(t, 1, 1, 1, 2, 2, 2)

	s := g.scope()
	_, err := g.env.Engine.Move(s, []int{3})
	require.NoError(t, err)
	assert.Equal(t, models.TurnWaitingSummit, sess.TurnState)
	assert.Equal(t, []int{3}, sess.PendingSummitColumns)
	assert.Contains(t, types(s.Events()), models.EventSummitPending)

	_, err = g.env.Engine.Roll(g.scope())
	assert.Error(t, err)
	_, err = g.env.Engine.EndTurn(g.scope())
	assert.Error(t, err)

	s = g.scope()
	out, err := g.env.Engine.ConfirmSummit(s, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, out.ClaimedColumns)
	assert.Equal(t, 30, g.agg.Player.CurrentScore)
	assert.Equal(t, []int{3}, g.agg.Progress.CompletedColumns())
	assert.Nil(t, sess.MarkerAt(3))
	assert.Empty(t, sess.PendingSummitColumns)
	assert.Equal(t, models.TurnDecision, sess.TurnState)
	assert.Equal(t, 1, count(s.Events(), models.EventColumnCompleted))

	before := g.agg.Player.CurrentScore
	_, err = g.env.Engine.ConfirmSummit(g.scope(), 3)
	assert.ErrorIs(t, err, models.ErrSummitAlreadyConfirmed)
	assert.Equal(t, before, g.agg.Player.CurrentScore)
	assert.Equal(t, models.TurnDecision, sess.TurnState)
}

func TestEncounterCompositeChoice(t *testing.T) {
	d := testutil.FixtureData(t)
	d.Encounters[0].Choices = append(d.Encounters[0].Choices, content.EncounterChoice{
		Name:   "换",
		Kind:   models.EncounterNormal,
		Effect: effects.Composite(effects.ScoreChange(-5), effects.GiveItem(testutil.ItemKettle, 1)),
	})
	reg, err := content.New(d)
	require.NoError(t, err)
	g := newGame(t, reg)

	sess := g.start(t)
	g.roll(t, 3, 3, 3, 1, 1, 1)
	_, err = g.env.Engine.Move(g.scope(), []int{9, 3})
	require.NoError(t, err)
	require.NotNil(t, sess.Pending)
	assert.Equal(t, models.PendingEncounterChoice, sess.Pending.Kind)
	txBefore := len(g.agg.NewTransactions)

	s := g.scope()
	out, err := g.env.Engine.ResolveChoice(s, " 换 ")
	require.NoError(t, err)
	assert.True(t, out.OK)

	assert.Equal(t, 5, g.agg.Player.CurrentScore)
	assert.Equal(t, 1, g.agg.ItemQuantity(testutil.ItemKettle))
	assert.Len(t, g.agg.NewTransactions, txBefore+1)
	require.Len(t, g.agg.NewEncounterRecords, 1)
	assert.Equal(t, testutil.EncounterShop, g.agg.NewEncounterRecords[0].EncounterName)
	assert.Equal(t, "换", *g.agg.NewEncounterRecords[0].SelectedChoice)

	evs := s.Events()
	assert.Equal(t, 1, count(evs, models.EventScoreLost))
	assert.Equal(t, 1, count(evs, models.EventItemAcquired))
	assert.Equal(t, 0, count(evs, models.EventItemPurchased))
	assert.Equal(t, 1, count(evs, models.EventEncounterResolved))
	assert.Nil(t, sess.Pending)
	assert.Equal(t, []models.EncounterKind{models.EncounterNormal}, g.agg.Player.Stats.ChoiceKinds)

	_, err = g.env.Engine.ResolveChoice(g.scope(), "换")
	assert.ErrorIs(t, err, models.ErrNoPendingAction)
}

func TestMove_TooManyMarkersIsSoftFailure(t *testing.T) {
	g := newGame(t, nil)
	sess := g.start(t)
	sess.FirstTurn = false
	sess.TemporaryMarkers = []models.TemporaryMarker{
		{Column: 4, Position: 1}, {Column: 5, Position: 1}, {Column: 6, Position: 1},
	}
	g.roll(t, 1, 1, 2, 3, 3, 3)

	s := g.scope()
	out, err := g.env.Engine.Move(s, []int{4, 9})
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Equal(t, models.ErrorCode(models.ErrTooManyMarkers), out.Code)
	assert.Empty(t, sess.TemporaryMarkers)
	assert.True(t, sess.NeedsCheckin)
	assert.Equal(t, models.TurnWaitingCheckin, sess.TurnState)
	assert.Equal(t, models.SessionActive, sess.State)
	assert.Contains(t, types(s.Events()), models.EventProgressLost)
	assert.Equal(t, 0, g.agg.Progress.Get(4))
}

func TestMove_Rejections(t *testing.T) {
	g := newGame(t, nil)
	g.agg.Progress.Set(3, 2, board.MustHeight(3), g.env.Clock.Now())
	sess := g.start(t)
	sess.FirstTurn = false
	g.agg.Player.CurrentScore = 100
	g.roll(t, 1, 1, 1, 1, 1, 1)

	_, err := g.env.Engine.Move(g.scope(), []int{3, 3})
	assert.ErrorIs(t, err, models.ErrColumnOverflow)
	_, err = g.env.Engine.Move(g.scope(), []int{2})
	assert.ErrorIs(t, err, models.ErrInvalidColumn)
	_, err = g.env.Engine.Move(g.scope(), []int{4})
	assert.ErrorIs(t, err, models.ErrInvalidDiceCombination)
	_, err = g.env.Engine.Move(g.scope(), nil)
	assert.ErrorIs(t, err, models.ErrInvalidDiceCombination)
	assert.Empty(t, sess.TemporaryMarkers)
	assert.Equal(t, models.TurnMoveMarkers, sess.TurnState)
}

func TestEndTurn_ConsolidatesAndDetectsWin(t *testing.T) {
	g := newGame(t, nil)
	now := g.env.Clock.Now()
	g.agg.Progress.Set(3, 3, 3, now)
	g.agg.Progress.Set(18, 3, 3, now)
	sess := g.start(t)
	sess.TurnState = models.TurnDecision
	sess.TemporaryMarkers = []models.TemporaryMarker{{Column: 4, Position: board.MustHeight(4)}}

	s := g.scope()
	out, err := g.env.Engine.EndTurn(s)
	require.NoError(t, err)
	assert.Equal(t, true, out.Data["won"])
	assert.Equal(t, []int{3, 4, 18}, g.agg.Progress.CompletedColumns())
	assert.Equal(t, models.SessionCompleted, sess.State)
	assert.Equal(t, 1, g.agg.Player.GamesWon)
	assert.Contains(t, types(s.Events()), models.EventGameWon)

	_, err = g.env.Engine.Start(g.scope())
	assert.ErrorIs(t, err, models.ErrInvalidSessionState)
}

func TestEndTurnThenCheckin(t *testing.T) {
	g := newGame(t, nil)
	sess := g.start(t)
	g.roll(t, 1, 1, 1, 2, 2, 2)
	_, err := g.env.Engine.Move(g.scope(), []int{3, 6})
	require.NoError(t, err)

	_, err = g.env.Engine.Checkin(g.scope(), false)
	assert.ErrorIs(t, err, models.ErrInvalidSessionState)

	_, err = g.env.Engine.EndTurn(g.scope())
	require.NoError(t, err)
	assert.Equal(t, 1, g.agg.Progress.Get(3))
	assert.Equal(t, 1, g.agg.Progress.Get(6))
	assert.Equal(t, models.TurnWaitingCheckin, sess.TurnState)
	assert.Equal(t, 1, g.agg.Player.TotalTurns)

	_, err = g.env.Engine.Roll(g.scope())
	assert.ErrorIs(t, err, models.ErrInvalidSessionState)

	_, err = g.env.Engine.Checkin(g.scope(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.TurnNumber)
	assert.True(t, sess.FirstTurn)
	assert.False(t, sess.NeedsCheckin)
	assert.Equal(t, models.TurnDiceRoll, sess.TurnState)
}

func TestNew_RejectsUnknownSummitScope(t *testing.T) {
	env := testutil.NewEnv(t, engine.DefaultConfig())
	cfg := engine.DefaultConfig()
	cfg.SummitClaimScope = "galaxy"
	_, err := engine.New(cfg, env.Registry, env.Layout, effects.NewHandler(env.Registry, nil, zap.NewNop()), zap.NewNop())
	assert.ErrorIs(t, err, models.ErrConfig)
}
