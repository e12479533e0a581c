package events

import (
	"context"
	"sync"
	"time"

	"summit-server/internal/models"

	"go.uber.org/zap"
)

// maxEventsPerScope ограничивает цепочки событий внутри одной операции.
const maxEventsPerScope = 4096

// DataUsingItem - ключ данных события: предмет, при использовании которого оно возникло.
const DataUsingItem = "usingItem"

// Subscriber получает события синхронно, внутри транзакции операции.
// Побочные эффекты подписчика применяются к агрегату из scope.
type Subscriber interface {
	HandleEvent(s *Scope, ev models.GameEvent)
}

// SubscriberFunc - адаптер функции к Subscriber.
type SubscriberFunc func(s *Scope, ev models.GameEvent)

func (f SubscriberFunc) HandleEvent(s *Scope, ev models.GameEvent) { f(s, ev) }

// Sink получает события только после успешного коммита операции.
type Sink interface {
	PublishEvents(ctx context.Context, evs []models.GameEvent) error
}

// Bus - синхронная шина игровых событий.
type Bus struct {
	mu     sync.RWMutex
	subs   []Subscriber
	sinks  []Sink
	ring   *Ring
	clock  func() time.Time
	logger *zap.Logger
}

// NewBus создает шину с кольцом истории.
func NewBus(ring *Ring, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		ring:   ring,
		clock:  time.Now,
		logger: logger.Named("EventBus"),
	}
}

// SetClock подменяет часы (тесты).
func (b *Bus) SetClock(clock func() time.Time) {
	b.clock = clock
}

// Subscribe регистрирует подписчика на все типы событий.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// AddSink регистрирует получателя закоммиченных событий.
func (b *Bus) AddSink(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Ring возвращает историю событий.
func (b *Bus) Ring() *Ring {
	return b.ring
}

// NewScope открывает область событий одной операции для агрегата игрока.
func (b *Bus) NewScope(agg *models.PlayerAggregate) *Scope {
	return &Scope{state: &scopeState{bus: b}, Agg: agg}
}

// Commit переносит события закрытой операции в историю и отдает их sink-ам.
// Ошибки sink-ов логируются и не влияют на результат операции.
func (b *Bus) Commit(ctx context.Context, s *Scope) {
	evs := s.Events()
	if len(evs) == 0 {
		return
	}
	b.ring.Append(evs...)

	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()
	for _, sink := range sinks {
		if err := sink.PublishEvents(ctx, evs); err != nil {
			b.logger.Warn("Failed to publish committed events", zap.Int("count", len(evs)), zap.Error(err))
		}
	}
}

func (b *Bus) subscribers() []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Subscriber(nil), b.subs...)
}

type queued struct {
	scope *Scope
	ev    models.GameEvent
}

type scopeState struct {
	bus         *Bus
	events      []models.GameEvent
	queue       []queued
	dispatching bool
	usingItem   string
	dropped     int
}

// Scope - события одной операции сервиса. Пока операция не закоммичена,
// события видны только подписчикам; при откате scope просто отбрасывается.
type Scope struct {
	state *scopeState
	// Agg - агрегат игрока, от имени которого генерируются события.
	Agg *models.PlayerAggregate
}

// ForPlayer возвращает scope той же операции для другого игрока (PvP).
func (s *Scope) ForPlayer(agg *models.PlayerAggregate) *Scope {
	return &Scope{state: s.state, Agg: agg}
}

// Emit фиксирует событие и синхронно раздает его подписчикам.
// События, порожденные подписчиками, обрабатываются по очереди после текущего.
func (s *Scope) Emit(t models.GameEventType, data map[string]any) models.GameEvent {
	st := s.state
	ev := models.GameEvent{
		Type:      t,
		PlayerID:  s.Agg.PlayerID(),
		SessionID: s.Agg.SessionID(),
		Data:      data,
		Timestamp: st.bus.clock(),
	}
	if st.usingItem != "" {
		if ev.Data == nil {
			ev.Data = make(map[string]any, 1)
		}
		ev.Data[DataUsingItem] = st.usingItem
	}
	if len(st.events) >= maxEventsPerScope {
		st.dropped++
		if st.dropped == 1 {
			st.bus.logger.Error("Event chain limit reached, dropping events",
				zap.String("playerID", ev.PlayerID), zap.String("eventType", string(t)))
		}
		return ev
	}
	st.events = append(st.events, ev)
	st.queue = append(st.queue, queued{scope: s, ev: ev})
	if st.dispatching {
		return ev
	}

	st.dispatching = true
	defer func() { st.dispatching = false }()
	subs := st.bus.subscribers()
	for len(st.queue) > 0 {
		next := st.queue[0]
		st.queue = st.queue[1:]
		for _, sub := range subs {
			sub.HandleEvent(next.scope, next.ev)
		}
	}
	return ev
}

// Events возвращает все события операции в порядке генерации.
func (s *Scope) Events() []models.GameEvent {
	return append([]models.GameEvent(nil), s.state.events...)
}

// WithItem выполняет fn, помечая, что события порождены использованием предмета.
func (s *Scope) WithItem(name string, fn func()) {
	prev := s.state.usingItem
	s.state.usingItem = name
	defer func() { s.state.usingItem = prev }()
	fn()
}

// Now - время шины.
func (s *Scope) Now() time.Time {
	return s.state.bus.clock()
}
