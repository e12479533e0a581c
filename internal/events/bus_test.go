package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"summit-server/internal/events"
	"summit-server/internal/interfaces/mocks"
	"summit-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAgg(id string) *models.PlayerAggregate {
	return models.NewPlayerAggregate(&models.Player{PlayerID: id, Username: id})
}

func TestScope_EmitDispatchesToSubscribers(t *testing.T) {
	bus := events.NewBus(events.NewRing(0), zap.NewNop())
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.SetClock(func() time.Time { return fixed })

	var seen []models.GameEventType
	bus.Subscribe(events.SubscriberFunc(func(s *events.Scope, ev models.GameEvent) {
		seen = append(seen, ev.Type)
		// Подписчик порождает событие - оно обрабатывается после текущего.
		if ev.Type == models.EventDiceRolled {
			s.Emit(models.EventAchievementUnlocked, nil)
		}
	}))

	s := bus.NewScope(newAgg("p1"))
	ev := s.Emit(models.EventDiceRolled, map[string]any{"dice": []int{1}})
	s.Emit(models.EventMarkersMoved, nil)

	assert.Equal(t, "p1", ev.PlayerID)
	assert.Equal(t, fixed, ev.Timestamp)
	assert.Equal(t, []models.GameEventType{
		models.EventDiceRolled, models.EventAchievementUnlocked, models.EventMarkersMoved,
	}, seen)
	require.Len(t, s.Events(), 3)
	assert.Equal(t, 0, bus.Ring().Len(), "events reach history only on commit")
}

func TestScope_WithItemTagsEvents(t *testing.T) {
	bus := events.NewBus(events.NewRing(0), zap.NewNop())
	s := bus.NewScope(newAgg("p1"))

	var inside models.GameEvent
	var nested models.GameEvent
	s.WithItem("水壶", func() {
		inside = s.Emit(models.EventScoreGained, nil)
		s.WithItem("重投券", func() {
			nested = s.Emit(models.EventDiceRerolled, nil)
		})
	})
	after := s.Emit(models.EventScoreGained, map[string]any{})

	assert.Equal(t, "水壶", inside.Data[events.DataUsingItem])
	assert.Equal(t, "重投券", nested.Data[events.DataUsingItem])
	assert.NotContains(t, after.Data, events.DataUsingItem)
}

func TestScope_ForPlayerSharesEventLog(t *testing.T) {
	bus := events.NewBus(events.NewRing(0), zap.NewNop())
	s := bus.NewScope(newAgg("p1"))
	s.Emit(models.EventPvPBattle, nil)
	other := s.ForPlayer(newAgg("p2"))
	other.Emit(models.EventPvPBattle, nil)

	evs := s.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, "p1", evs[0].PlayerID)
	assert.Equal(t, "p2", evs[1].PlayerID)
	assert.Equal(t, evs, other.Events())
}

func TestBus_CommitAppendsAndPublishes(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(events.NewRing(0), zap.NewNop())

	ok := new(mocks.EventSink)
	ok.On("PublishEvents", ctx, mock.MatchedBy(func(evs []models.GameEvent) bool { return len(evs) == 2 })).Return(nil).Once()
	broken := new(mocks.EventSink)
	broken.On("PublishEvents", ctx, mock.Anything).Return(errors.New("broker down")).Once()
	bus.AddSink(broken)
	bus.AddSink(ok)

	s := bus.NewScope(newAgg("p1"))
	s.Emit(models.EventGameStarted, nil)
	s.Emit(models.EventDiceRolled, nil)
	bus.Commit(ctx, s)

	assert.Equal(t, 2, bus.Ring().Len())
	ok.AssertExpectations(t)
	broken.AssertExpectations(t)

	// пустой scope ничего не публикует
	bus.Commit(ctx, bus.NewScope(newAgg("p2")))
	ok.AssertNumberOfCalls(t, "PublishEvents", 1)
}

func TestRing(t *testing.T) {
	r := events.NewRing(1)
	assert.Equal(t, events.MinRingCapacity, r.Cap())

	for i := range events.MinRingCapacity + 5 {
		id := "a"
		if i%2 == 1 {
			id = "b"
		}
		r.Append(models.GameEvent{PlayerID: id, Data: map[string]any{"i": i}})
	}
	assert.Equal(t, events.MinRingCapacity, r.Len())

	all := r.Recent("", 3)
	require.Len(t, all, 3)
	assert.Equal(t, events.MinRingCapacity+2, all[0].Data["i"])
	assert.Equal(t, events.MinRingCapacity+4, all[2].Data["i"])

	onlyB := r.Recent("b", 2)
	require.Len(t, onlyB, 2)
	for _, ev := range onlyB {
		assert.Equal(t, "b", ev.PlayerID)
	}
	assert.Equal(t, events.MinRingCapacity+3, onlyB[1].Data["i"])

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Recent("", 10))
}
