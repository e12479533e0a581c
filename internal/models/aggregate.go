package models

import "time"

// PlayerAggregate - всё, что принадлежит одному игроку и меняется под его блокировкой:
// строка игрока, прогресс, инвентарь, достижения, баффы, отложенные эффекты и текущая сессия.
// Новые транзакции и записи истории копятся в outbox-полях до сохранения.
type PlayerAggregate struct {
	Player         *Player                       `json:"player"`
	Progress       *PlayerProgress               `json:"progress"`
	Inventory      map[string]*InventoryItem     `json:"inventory"`
	Achievements   map[string]*PlayerAchievement `json:"achievements"`
	Buffs          []ActiveBuff                  `json:"buffs"`
	DelayedEffects []DelayedEffect               `json:"delayedEffects"`
	Session        *GameSession                  `json:"session,omitempty"`

	NewTransactions     []ScoreTransaction `json:"-"`
	NewEncounterRecords []EncounterRecord  `json:"-"`
}

// NewPlayerAggregate собирает пустой агрегат для нового игрока.
func NewPlayerAggregate(p *Player) *PlayerAggregate {
	return &PlayerAggregate{
		Player:       p,
		Progress:     NewPlayerProgress(),
		Inventory:    make(map[string]*InventoryItem),
		Achievements: make(map[string]*PlayerAchievement),
	}
}

// PlayerID - короткий доступ к идентификатору.
func (a *PlayerAggregate) PlayerID() string {
	return a.Player.PlayerID
}

// SessionID возвращает id текущей сессии или пустую строку.
func (a *PlayerAggregate) SessionID() string {
	if a.Session == nil {
		return ""
	}
	return a.Session.SessionID
}

// ActiveSession возвращает сессию, если она активна.
func (a *PlayerAggregate) ActiveSession() *GameSession {
	if a.Session.IsActive() {
		return a.Session
	}
	return nil
}

// ItemQuantity возвращает количество предмета в инвентаре.
func (a *PlayerAggregate) ItemQuantity(name string) int {
	if it, ok := a.Inventory[name]; ok {
		return it.Quantity
	}
	return 0
}

// AddItem добавляет предметы в инвентарь.
func (a *PlayerAggregate) AddItem(name string, itemType ItemType, quantity int, at time.Time) *InventoryItem {
	it, ok := a.Inventory[name]
	if !ok {
		it = &InventoryItem{
			PlayerID:   a.PlayerID(),
			ItemName:   name,
			ItemType:   itemType,
			AcquiredAt: at,
		}
		a.Inventory[name] = it
	}
	it.Quantity += quantity
	return it
}

// RemoveItem списывает предметы. Строка удаляется при нулевом количестве.
// Возвращает false, если предметов недостаточно.
func (a *PlayerAggregate) RemoveItem(name string, quantity int, used bool) bool {
	it, ok := a.Inventory[name]
	if !ok || it.Quantity < quantity {
		return false
	}
	it.Quantity -= quantity
	if used {
		it.UsedCount += quantity
	}
	if it.Quantity == 0 {
		delete(a.Inventory, name)
	}
	return true
}

// HasAchievement проверяет, открыто ли достижение.
func (a *PlayerAggregate) HasAchievement(name string) bool {
	_, ok := a.Achievements[name]
	return ok
}

// Result - ответ любой операции сервиса: (ok, сообщение, данные).
type Result struct {
	OK      bool        `json:"ok"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
	Data    any         `json:"data,omitempty"`
	Events  []GameEvent `json:"events,omitempty"`
}

// Fail строит неуспешный результат из ошибки валидации.
func Fail(err error) *Result {
	return &Result{OK: false, Code: ErrorCode(err), Message: err.Error()}
}
