package maplayout

import (
	"fmt"
	"sort"
	"sync"

	"summit-server/internal/board"
	"summit-server/internal/content"
	"summit-server/internal/effects"
	"summit-server/internal/models"

	"go.uber.org/zap"
)

// Layout - раскладка событий карты: базовая раскладка реестра плюс слои ГМ.
// Производная таблица событий пересобирается под мьютексом при каждом изменении слоя.
type Layout struct {
	registry *content.Registry
	store    OverlayStore
	logger   *zap.Logger

	mu         sync.RWMutex
	traps      Overlay
	encounters Overlay
	events     map[string]models.MapEvent
	version    int64
}

// New загружает слои из хранилища и строит таблицу событий.
func New(registry *content.Registry, store OverlayStore, logger *zap.Logger) (*Layout, error) {
	if store == nil {
		store = NewMemoryOverlayStore()
	}
	l := &Layout{
		registry: registry,
		store:    store,
		logger:   logger.Named("MapLayout"),
	}
	var err error
	if l.traps, err = store.Load(OverlayTraps); err != nil {
		return nil, err
	}
	if l.encounters, err = store.Load(OverlayEncounters); err != nil {
		return nil, err
	}
	l.dropInvalid(OverlayTraps, l.traps, models.KindTrap)
	l.dropInvalid(OverlayEncounters, l.encounters, models.KindEncounter)
	l.rebuild()
	l.logger.Info("Map layout loaded",
		zap.Int("trapOverrides", len(l.traps)),
		zap.Int("encounterOverrides", len(l.encounters)),
		zap.Int("events", len(l.events)))
	return l, nil
}

// dropInvalid убирает записи слоя с неизвестными клетками или именами.
func (l *Layout) dropInvalid(kind OverlayKind, o Overlay, ek models.EventKind) {
	for key, name := range o {
		if _, _, err := board.ParsePositionKey(key); err != nil {
			l.logger.Warn("Skipping overlay entry with invalid position",
				zap.String("overlay", string(kind)), zap.String("positionKey", key))
			delete(o, key)
			continue
		}
		if name != "" && !l.registry.Exists(ek, name) {
			l.logger.Warn("Skipping overlay entry with unknown content",
				zap.String("overlay", string(kind)), zap.String("positionKey", key), zap.String("name", name))
			delete(o, key)
		}
	}
}

// rebuild пересчитывает таблицу событий. Вызывается под l.mu.
// Приоритет: слой ловушек, затем слой встреч, затем базовая раскладка.
func (l *Layout) rebuild() {
	evs := make(map[string]models.MapEvent, board.TotalCells())
	for _, c := range board.Columns() {
		for p := 1; p <= board.MustHeight(c); p++ {
			key := board.PositionKey(c, p)
			kind, name, found := l.resolve(key)
			if !found {
				continue
			}
			evs[key] = l.makeEvent(c, p, kind, name)
		}
	}
	l.events = evs
	l.version++
}

func (l *Layout) resolve(key string) (models.EventKind, string, bool) {
	base, hasBase := l.registry.BaselineAt(key)
	if name, ok := l.traps[key]; ok {
		if name != "" {
			return models.KindTrap, name, true
		}
		if hasBase && base.Kind == models.KindTrap {
			hasBase = false
		}
	}
	if name, ok := l.encounters[key]; ok {
		if name != "" {
			return models.KindEncounter, name, true
		}
		if hasBase && base.Kind == models.KindEncounter {
			hasBase = false
		}
	}
	if hasBase {
		return base.Kind, base.Name, true
	}
	return "", "", false
}

func (l *Layout) makeEvent(c, p int, kind models.EventKind, name string) models.MapEvent {
	ev := models.MapEvent{
		PositionKey: board.PositionKey(c, p),
		Column:      c,
		Position:    p,
		Kind:        kind,
		Name:        name,
		ContentID:   l.registry.ContentID(kind, name),
	}
	if kind == models.KindItem {
		if it, ok := l.registry.Item(name); ok {
			switch it.Faction {
			case content.ItemAdopter:
				f := models.FactionAdopter
				ev.Faction = &f
			case content.ItemAeonreth:
				f := models.FactionAeonreth
				ev.Faction = &f
			}
		}
	}
	return ev
}

// EventAt возвращает событие клетки.
func (l *Layout) EventAt(c, p int) (models.MapEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ev, ok := l.events[board.PositionKey(c, p)]
	return ev, ok
}

// Events возвращает все события, отсортированные по колонке и позиции.
func (l *Layout) Events() []models.MapEvent {
	evs, _ := l.Snapshot()
	return evs
}

// Snapshot возвращает события и номер версии таблицы.
func (l *Layout) Snapshot() ([]models.MapEvent, int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.MapEvent, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev)
	}
	sortEvents(out)
	return out, l.version
}

func sortEvents(evs []models.MapEvent) {
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].Column != evs[j].Column {
			return evs[i].Column < evs[j].Column
		}
		return evs[i].Position < evs[j].Position
	})
}

// SetTrap ставит ловушку на клетку.
func (l *Layout) SetTrap(c, p int, name string) (models.MapEvent, error) {
	trap, ok := l.registry.Trap(name)
	if !ok {
		return models.MapEvent{}, models.NewGameError(models.ErrUnknownTrap, "未知陷阱：%s", name)
	}
	return l.set(OverlayTraps, c, p, trap.Name)
}

// SetEncounter ставит встречу на клетку. Клетка с ловушкой ГМ отклоняется:
// слой ловушек перекрыл бы встречу.
func (l *Layout) SetEncounter(c, p int, name string) (models.MapEvent, error) {
	enc, ok := l.registry.Encounter(name)
	if !ok {
		return models.MapEvent{}, models.NewGameError(models.ErrUnknownEncounter, "未知遭遇：%s", name)
	}
	return l.set(OverlayEncounters, c, p, enc.Name)
}

func (l *Layout) set(kind OverlayKind, c, p int, name string) (models.MapEvent, error) {
	if !board.IsValidPosition(c, p) {
		return models.MapEvent{}, models.NewGameError(models.ErrInvalidPosition, "无效的位置：第%d列第%d格", c, p)
	}
	key := board.PositionKey(c, p)

	l.mu.Lock()
	defer l.mu.Unlock()
	if kind == OverlayEncounters && l.traps[key] != "" {
		return models.MapEvent{}, models.NewGameError(models.ErrInvalidOverlayPlacement,
			"第%d列第%d格已有陷阱「%s」，请先移除陷阱。", c, p, l.traps[key])
	}
	layer := l.layer(kind)
	prev, had := layer[key]
	layer[key] = name
	if err := l.store.Save(kind, layer); err != nil {
		restore(layer, key, prev, had)
		return models.MapEvent{}, fmt.Errorf("%w: save %s overlay: %v", models.ErrPersistence, kind, err)
	}
	l.rebuild()
	l.logger.Info("Overlay cell set",
		zap.String("overlay", string(kind)), zap.String("positionKey", key), zap.String("name", name))
	return l.events[key], nil
}

// ClearTrap убирает ловушку с клетки. Возвращает false, если ловушки не было.
func (l *Layout) ClearTrap(c, p int) (string, bool, error) {
	return l.clear(OverlayTraps, models.KindTrap, c, p)
}

// ClearEncounter убирает встречу с клетки.
func (l *Layout) ClearEncounter(c, p int) (string, bool, error) {
	return l.clear(OverlayEncounters, models.KindEncounter, c, p)
}

func (l *Layout) clear(kind OverlayKind, ek models.EventKind, c, p int) (string, bool, error) {
	if !board.IsValidPosition(c, p) {
		return "", false, models.NewGameError(models.ErrInvalidPosition, "无效的位置：第%d列第%d格", c, p)
	}
	key := board.PositionKey(c, p)

	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.events[key]
	if !ok || cur.Kind != ek {
		return "", false, nil
	}
	layer := l.layer(kind)
	prev, had := layer[key]
	if base, isBase := l.registry.BaselineAt(key); isBase && base.Kind == ek {
		layer[key] = ""
	} else {
		delete(layer, key)
	}
	if err := l.store.Save(kind, layer); err != nil {
		restore(layer, key, prev, had)
		return "", false, fmt.Errorf("%w: save %s overlay: %v", models.ErrPersistence, kind, err)
	}
	l.rebuild()
	l.logger.Info("Overlay cell cleared",
		zap.String("overlay", string(kind)), zap.String("positionKey", key), zap.String("removed", cur.Name))
	return cur.Name, true, nil
}

// RegenerateTraps заново расставляет все ловушки реестра по случайным клеткам
// без предметов и встреч. Базовые ловушки на невыбранных клетках помечаются удаленными.
func (l *Layout) RegenerateTraps(roller effects.Roller) (map[string]string, error) {
	traps := l.registry.Traps()

	l.mu.Lock()
	defer l.mu.Unlock()
	var free []string
	for _, c := range board.Columns() {
		for p := 1; p <= board.MustHeight(c); p++ {
			key := board.PositionKey(c, p)
			if l.occupiedBelowTraps(key) {
				continue
			}
			free = append(free, key)
		}
	}
	if len(free) < len(traps) {
		return nil, models.NewGameError(models.ErrInvalidOverlayPlacement, "可用格子不足以放置 %d 个陷阱。", len(traps))
	}
	for i := len(free) - 1; i > 0; i-- {
		j := roller.IntN(i + 1)
		free[i], free[j] = free[j], free[i]
	}

	next := Overlay{}
	for _, cell := range l.registry.Baseline() {
		if cell.Kind == models.KindTrap {
			next[cell.Key] = ""
		}
	}
	placed := make(map[string]string, len(traps))
	for i, t := range traps {
		next[free[i]] = t.Name
		placed[free[i]] = t.Name
	}
	if err := l.store.Save(OverlayTraps, next); err != nil {
		return nil, fmt.Errorf("%w: save traps overlay: %v", models.ErrPersistence, err)
	}
	l.traps = next
	l.rebuild()
	l.logger.Info("Traps regenerated", zap.Int("placed", len(placed)))
	return placed, nil
}

// occupiedBelowTraps - на клетке есть предмет или встреча без учета слоя ловушек.
// Вызывается под l.mu.
func (l *Layout) occupiedBelowTraps(key string) bool {
	if name, ok := l.encounters[key]; ok {
		return name != ""
	}
	base, ok := l.registry.BaselineAt(key)
	return ok && base.Kind != models.KindTrap
}

// ResetOverlays возвращает карту к базовой раскладке.
func (l *Layout) ResetOverlays() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, kind := range []OverlayKind{OverlayTraps, OverlayEncounters} {
		if err := l.store.Save(kind, Overlay{}); err != nil {
			return fmt.Errorf("%w: reset %s overlay: %v", models.ErrPersistence, kind, err)
		}
	}
	l.traps, l.encounters = Overlay{}, Overlay{}
	l.rebuild()
	return nil
}

func (l *Layout) layer(kind OverlayKind) Overlay {
	if kind == OverlayTraps {
		return l.traps
	}
	return l.encounters
}

func restore(layer Overlay, key, prev string, had bool) {
	if had {
		layer[key] = prev
	} else {
		delete(layer, key)
	}
}
