package models

import (
	"sort"
	"time"
)

// Faction - сторона игрока. Влияет на доступность предметов и ветки ловушек.
type Faction string

const (
	FactionAdopter  Faction = "Adopter"
	FactionAeonreth Faction = "Aeonreth"
)

// ParseFaction принимает как внутренние, так и отображаемые названия.
func ParseFaction(s string) (Faction, bool) {
	switch s {
	case string(FactionAdopter), "adopter", "收养人":
		return FactionAdopter, true
	case string(FactionAeonreth), "aeonreth", "ae", "Ae":
		return FactionAeonreth, true
	}
	return "", false
}

// Player - учетная запись игрока и его пожизненная статистика.
type Player struct {
	PlayerID       string      `db:"player_id" json:"playerId"`
	Username       string      `db:"username" json:"username"`
	Faction        Faction     `db:"faction" json:"faction"`
	CurrentScore   int         `db:"current_score" json:"currentScore"`
	TotalScore     int         `db:"total_score" json:"totalScore"`
	GamesPlayed    int         `db:"games_played" json:"gamesPlayed"`
	GamesWon       int         `db:"games_won" json:"gamesWon"`
	TotalDiceRolls int         `db:"total_dice_rolls" json:"totalDiceRolls"`
	TotalTurns     int         `db:"total_turns" json:"totalTurns"`
	IsActive       bool        `db:"is_active" json:"isActive"`
	Stats          PlayerStats `db:"stats" json:"stats"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
	LastActive     time.Time   `db:"last_active" json:"lastActive"`
}

// PlayerStats - служебные счетчики игрока, хранятся одним JSONB полем.
type PlayerStats struct {
	// EventCounters - пожизненные счетчики событий для достижений.
	EventCounters map[GameEventType]int `json:"eventCounters,omitempty"`
	// TrapHistory - ловушки, которые игрок уже активировал хотя бы раз.
	TrapHistory []string `json:"trapHistory,omitempty"`
	// LastTrapAt - время последней активации ловушки.
	LastTrapAt *time.Time `json:"lastTrapAt,omitempty"`
	// ChoiceKinds - последние типы выборов во встречах (новые в конце).
	ChoiceKinds []EncounterKind `json:"choiceKinds,omitempty"`
	// ConsumedEvents - клетки карты (предметы и встречи), уже использованные игроком.
	ConsumedEvents []string `json:"consumedEvents,omitempty"`
	// UnlockedCommands - разблокированные команды и их дневной лимит.
	UnlockedCommands map[string]int `json:"unlockedCommands,omitempty"`
	// CommandUsage - использование команд по дням ("2006-01-02:команда" -> счетчик).
	CommandUsage map[string]int `json:"commandUsage,omitempty"`
	// TotalSpent - сумма всех списаний, для сверки с журналом транзакций.
	TotalSpent int `json:"totalSpent"`
}

const maxChoiceHistory = 20

// HasTriggeredTrap проверяет историю ловушек.
func (s *PlayerStats) HasTriggeredTrap(name string) bool {
	for _, t := range s.TrapHistory {
		if t == name {
			return true
		}
	}
	return false
}

// RecordTrap добавляет ловушку в историю. Возвращает true, если это первая активация.
func (s *PlayerStats) RecordTrap(name string, at time.Time) bool {
	s.LastTrapAt = &at
	if s.HasTriggeredTrap(name) {
		return false
	}
	s.TrapHistory = append(s.TrapHistory, name)
	return true
}

// RecordChoiceKind сохраняет тип выбора, оставляя только последние записи.
func (s *PlayerStats) RecordChoiceKind(kind EncounterKind) {
	s.ChoiceKinds = append(s.ChoiceKinds, kind)
	if len(s.ChoiceKinds) > maxChoiceHistory {
		s.ChoiceKinds = s.ChoiceKinds[len(s.ChoiceKinds)-maxChoiceHistory:]
	}
}

// IsConsumed проверяет, использована ли клетка игроком.
func (s *PlayerStats) IsConsumed(positionKey string) bool {
	for _, k := range s.ConsumedEvents {
		if k == positionKey {
			return true
		}
	}
	return false
}

// Consume помечает клетку использованной.
func (s *PlayerStats) Consume(positionKey string) {
	if !s.IsConsumed(positionKey) {
		s.ConsumedEvents = append(s.ConsumedEvents, positionKey)
	}
}

// Increment увеличивает пожизненный счетчик события.
func (s *PlayerStats) Increment(t GameEventType) int {
	if s.EventCounters == nil {
		s.EventCounters = make(map[GameEventType]int)
	}
	s.EventCounters[t]++
	return s.EventCounters[t]
}

// PlayerProgress - постоянный прогресс игрока по колонкам.
// Инвариант: колонка в Completed тогда и только тогда, когда Permanent[c] = L(c).
type PlayerProgress struct {
	Permanent map[int]int       `json:"permanent"`
	Completed map[int]time.Time `json:"completed"`
}

// NewPlayerProgress создает пустой прогресс.
func NewPlayerProgress() *PlayerProgress {
	return &PlayerProgress{
		Permanent: make(map[int]int),
		Completed: make(map[int]time.Time),
	}
}

// Get возвращает постоянный прогресс колонки.
func (p *PlayerProgress) Get(c int) int {
	return p.Permanent[c]
}

// IsCompleted сообщает, покорена ли колонка.
func (p *PlayerProgress) IsCompleted(c int) bool {
	_, ok := p.Completed[c]
	return ok
}

// CompletedColumns возвращает покоренные колонки по возрастанию.
func (p *PlayerProgress) CompletedColumns() []int {
	cols := make([]int, 0, len(p.Completed))
	for c := range p.Completed {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	return cols
}

// WinningColumns - число покоренных колонок, достаточное для победы.
const WinningColumns = 3

// IsWinner - игрок с тремя и более покоренными колонками.
func (p *PlayerProgress) IsWinner() bool {
	return len(p.Completed) >= WinningColumns
}

// Set устанавливает прогресс, поддерживая инвариант завершенности.
// height - L(c) колонки, значение обрезается в [0, height].
func (p *PlayerProgress) Set(c, value, height int, at time.Time) (completedNow bool) {
	if value < 0 {
		value = 0
	}
	if value > height {
		value = height
	}
	p.Permanent[c] = value
	if value == height {
		if !p.IsCompleted(c) {
			p.Completed[c] = at
			return true
		}
		return false
	}
	delete(p.Completed, c)
	return false
}

// LeaderboardEntry - строка рейтинга.
type LeaderboardEntry struct {
	Rank             int     `db:"-" json:"rank"`
	PlayerID         string  `db:"player_id" json:"playerId"`
	Username         string  `db:"username" json:"username"`
	Faction          Faction `db:"faction" json:"faction"`
	CurrentScore     int     `db:"current_score" json:"currentScore"`
	TotalScore       int     `db:"total_score" json:"totalScore"`
	GamesWon         int     `db:"games_won" json:"gamesWon"`
	CompletedColumns int     `db:"completed_columns" json:"completedColumns"`
}
