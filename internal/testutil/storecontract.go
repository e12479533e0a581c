package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"summit-server/internal/interfaces"
	"summit-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory возвращает пустое хранилище для одного подтеста.
type StoreFactory func(t *testing.T) interfaces.GameStore

// NewAggregate - агрегат игрока с заполненными частями для проверок хранилища.
func NewAggregate(id string, score int, at time.Time) *models.PlayerAggregate {
	return models.NewPlayerAggregate(&models.Player{
		PlayerID:     id,
		Username:     "user-" + id,
		Faction:      models.FactionAdopter,
		CurrentScore: score,
		TotalScore:   score,
		IsActive:     true,
		CreatedAt:    at,
		LastActive:   at,
	})
}

// StoreContract проверяет поведение GameStore, общее для всех реализаций.
func StoreContract(t *testing.T, newStore StoreFactory) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create and load", func(t *testing.T) {
		store := newStore(t)
		agg := NewAggregate("p1", 20, at)
		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			return tx.CreatePlayer(ctx, agg)
		}))

		err := store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			return tx.CreatePlayer(ctx, NewAggregate("p1", 0, at))
		})
		assert.ErrorIs(t, err, models.ErrPlayerExists)

		err = store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			_, err := tx.LoadPlayer(ctx, "ghost")
			return err
		})
		assert.ErrorIs(t, err, models.ErrPlayerNotFound)

		var loaded *models.PlayerAggregate
		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			var err error
			loaded, err = tx.LoadPlayer(ctx, "p1")
			return err
		}))
		assert.Equal(t, "user-p1", loaded.Player.Username)
		assert.Equal(t, 20, loaded.Player.CurrentScore)
		assert.Nil(t, loaded.Session)
		assert.Empty(t, loaded.Inventory)
	})

	t.Run("save round trip", func(t *testing.T) {
		store := newStore(t)
		agg := NewAggregate("p1", 20, at)
		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			return tx.CreatePlayer(ctx, agg)
		}))

		agg.Player.CurrentScore = 35
		agg.Player.Stats.RecordTrap(TrapScore, at)
		agg.Progress.Set(3, 3, 3, at)
		agg.Progress.Set(7, 2, 7, at)
		agg.AddItem(ItemKettle, models.ItemConsumable, 2, at)
		agg.Achievements[AchFirstRoll] = &models.PlayerAchievement{
			PlayerID: "p1", AchievementName: AchFirstRoll, Category: "骰子", UnlockedAt: at,
		}
		agg.Buffs = append(agg.Buffs, models.ActiveBuff{
			ID: "b1", PlayerID: "p1", BuffType: models.BuffCostReduction, Value: 2, Duration: 3, RemainingTurns: 2, CreatedAt: at,
		})
		agg.DelayedEffects = append(agg.DelayedEffects, models.DelayedEffect{
			ID: "d1", PlayerID: "p1", EffectType: "skip_turn", Payload: []byte(`{"type":"skip_turn"}`),
			TriggerTurn: 3, Phase: models.PhaseBeforeRoll, CreatedAt: at,
		})
		agg.Session = &models.GameSession{
			SessionID:        "s1",
			PlayerID:         "p1",
			State:            models.SessionActive,
			TurnState:        models.TurnDecision,
			TurnNumber:       2,
			CurrentDice:      []int{1, 2, 3, 4, 5, 6},
			TemporaryMarkers: []models.TemporaryMarker{{Column: 9, Position: 1}, {Column: 5, Position: 2}},
			Pending: &models.PendingAction{
				Kind: models.PendingEncounterChoice, Source: "encounter:" + EncounterShop, Column: 9, Position: 1,
				Options: []models.PendingOption{{Name: "买", Cost: 5}}, CreatedAt: at,
			},
			Data:      models.SessionData{RollsThisTurn: 1},
			CreatedAt: at,
			UpdatedAt: at,
		}
		choice := "买"
		agg.NewTransactions = []models.ScoreTransaction{
			{TransactionID: "t1", PlayerID: "p1", Kind: models.TransactionEarn, Amount: 20, Source: models.SourceRegistration, Timestamp: at},
			{TransactionID: "t2", PlayerID: "p1", Kind: models.TransactionSpend, Amount: 10, Source: models.SourceDiceRoll, Timestamp: at.Add(time.Second)},
			{TransactionID: "t3", PlayerID: "p1", Kind: models.TransactionEarn, Amount: 25, Source: models.SourceAdmin, Timestamp: at.Add(2 * time.Second)},
		}
		agg.NewEncounterRecords = []models.EncounterRecord{
			{HistoryID: "h1", PlayerID: "p1", EncounterName: EncounterShop, SelectedChoice: &choice, TriggeredAt: at},
		}

		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			return tx.SavePlayer(ctx, agg)
		}))
		assert.Empty(t, agg.NewTransactions, "outbox is drained on save")
		assert.Empty(t, agg.NewEncounterRecords)

		var (
			loaded  *models.PlayerAggregate
			txs     []models.ScoreTransaction
			history []models.EncounterRecord
			states  []models.EncounterState
		)
		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			var err error
			if loaded, err = tx.LoadPlayer(ctx, "p1"); err != nil {
				return err
			}
			if txs, err = tx.ListTransactions(ctx, "p1", 2); err != nil {
				return err
			}
			if history, err = tx.ListEncounterHistory(ctx, "p1", 10); err != nil {
				return err
			}
			states, err = tx.ListEncounterStates(ctx, "p1")
			return err
		}))

		assert.Equal(t, 35, loaded.Player.CurrentScore)
		assert.True(t, loaded.Player.Stats.HasTriggeredTrap(TrapScore))
		assert.Equal(t, []int{3}, loaded.Progress.CompletedColumns())
		assert.Equal(t, 2, loaded.Progress.Get(7))
		assert.Equal(t, 2, loaded.ItemQuantity(ItemKettle))
		assert.True(t, loaded.HasAchievement(AchFirstRoll))
		require.Len(t, loaded.Buffs, 1)
		assert.Equal(t, models.BuffCostReduction, loaded.Buffs[0].BuffType)
		assert.Equal(t, 2, loaded.Buffs[0].RemainingTurns)
		require.Len(t, loaded.DelayedEffects, 1)
		assert.Equal(t, 3, loaded.DelayedEffects[0].TriggerTurn)

		sess := loaded.Session
		require.NotNil(t, sess)
		assert.Equal(t, "s1", sess.SessionID)
		assert.Equal(t, models.TurnDecision, sess.TurnState)
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, sess.CurrentDice)
		assert.Equal(t, []models.TemporaryMarker{{Column: 9, Position: 1}, {Column: 5, Position: 2}}, sess.TemporaryMarkers)
		require.NotNil(t, sess.Pending)
		assert.Equal(t, models.PendingEncounterChoice, sess.Pending.Kind)
		assert.Equal(t, 1, sess.Data.RollsThisTurn)

		require.Len(t, txs, 2)
		assert.Equal(t, "t3", txs[0].TransactionID, "newest first")
		assert.Equal(t, "t2", txs[1].TransactionID)
		require.Len(t, history, 1)
		assert.Equal(t, "买", *history[0].SelectedChoice)
		require.Len(t, states, 1)
		assert.Equal(t, EncounterShop, states[0].EncounterName)
		assert.Equal(t, models.EncounterAwaitingChoice, states[0].State)

		// выбор сделан: состояние встречи исчезает, предмет израсходован
		loaded.Session.Pending = nil
		loaded.RemoveItem(ItemKettle, 2, true)
		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			return tx.SavePlayer(ctx, loaded)
		}))
		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			var err error
			if states, err = tx.ListEncounterStates(ctx, "p1"); err != nil {
				return err
			}
			loaded, err = tx.LoadPlayer(ctx, "p1")
			return err
		}))
		assert.Empty(t, states)
		assert.Zero(t, loaded.ItemQuantity(ItemKettle))
	})

	t.Run("failed transaction rolls back", func(t *testing.T) {
		store := newStore(t)
		boom := errors.New("boom")
		err := store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			if err := tx.CreatePlayer(ctx, NewAggregate("p1", 20, at)); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		err = store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			_, err := tx.LoadPlayer(ctx, "p1")
			return err
		})
		assert.ErrorIs(t, err, models.ErrPlayerNotFound)
	})

	t.Run("column marker holders", func(t *testing.T) {
		store := newStore(t)
		mk := func(id string, state models.SessionState, markers ...models.TemporaryMarker) *models.PlayerAggregate {
			agg := NewAggregate(id, 20, at)
			agg.Session = &models.GameSession{
				SessionID: "s-" + id, PlayerID: id, State: state, TurnState: models.TurnDecision,
				TurnNumber: 1, TemporaryMarkers: markers, CreatedAt: at, UpdatedAt: at,
			}
			return agg
		}
		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			for _, agg := range []*models.PlayerAggregate{
				mk("a", models.SessionActive, models.TemporaryMarker{Column: 5, Position: 1}),
				mk("b", models.SessionActive, models.TemporaryMarker{Column: 5, Position: 2}, models.TemporaryMarker{Column: 6, Position: 1}),
				mk("c", models.SessionPaused, models.TemporaryMarker{Column: 5, Position: 1}),
				mk("d", models.SessionActive, models.TemporaryMarker{Column: 8, Position: 1}),
				mk("e", models.SessionFailed, models.TemporaryMarker{Column: 5, Position: 1}),
			} {
				if err := tx.CreatePlayer(ctx, agg); err != nil {
					return err
				}
			}
			return nil
		}))

		var holders, none []string
		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			var err error
			if holders, err = tx.ColumnMarkerHolders(ctx, 5, "a"); err != nil {
				return err
			}
			none, err = tx.ColumnMarkerHolders(ctx, 12, "a")
			return err
		}))
		assert.Equal(t, []string{"b", "c"}, holders, "open sessions only, the claimer excluded")
		assert.Empty(t, none)
	})

	t.Run("leaderboard", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			low := NewAggregate("low", 5, at)
			tieA := NewAggregate("tie-a", 50, at)
			tieA.Player.TotalScore = 80
			tieB := NewAggregate("tie-b", 50, at)
			tieB.Player.TotalScore = 80
			top := NewAggregate("top", 50, at)
			top.Player.TotalScore = 120
			top.Progress.Set(3, 3, 3, at)
			gone := NewAggregate("gone", 999, at)
			gone.Player.IsActive = false
			for _, agg := range []*models.PlayerAggregate{low, tieB, tieA, top, gone} {
				if err := tx.CreatePlayer(ctx, agg); err != nil {
					return err
				}
			}
			return nil
		}))

		var board []models.LeaderboardEntry
		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			var err error
			board, err = tx.Leaderboard(ctx, 3)
			return err
		}))
		require.Len(t, board, 3)
		assert.Equal(t, "top", board[0].PlayerID)
		assert.Equal(t, 1, board[0].Rank)
		assert.Equal(t, 1, board[0].CompletedColumns)
		assert.Equal(t, "tie-a", board[1].PlayerID)
		assert.Equal(t, "tie-b", board[2].PlayerID)
		assert.Equal(t, 3, board[2].Rank)
	})

	t.Run("map events survive reset", func(t *testing.T) {
		store := newStore(t)
		adopter := models.FactionAdopter
		evs := []models.MapEvent{
			{PositionKey: "3,1", Column: 3, Position: 1, Kind: models.KindTrap, Name: TrapScore, ContentID: 1},
			{PositionKey: "5,1", Column: 5, Position: 1, Kind: models.KindItem, Name: ItemKettle, ContentID: 1, Faction: &adopter},
		}
		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			if err := tx.ReplaceMapEvents(ctx, evs); err != nil {
				return err
			}
			return tx.CreatePlayer(ctx, NewAggregate("p1", 20, at))
		}))
		require.NoError(t, store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			return tx.ResetAll(ctx)
		}))

		var got []models.MapEvent
		err := store.RunInTx(ctx, func(tx interfaces.GameStoreTx) error {
			var err error
			if got, err = tx.ListMapEvents(ctx); err != nil {
				return err
			}
			_, err = tx.LoadPlayer(ctx, "p1")
			return err
		})
		assert.ErrorIs(t, err, models.ErrPlayerNotFound)
		assert.Equal(t, evs, got)
	})
}
