package models

import (
	"encoding/json"
	"sort"
	"time"
)

// SessionState - жизненный цикл игровой сессии.
type SessionState string

const (
	SessionActive    SessionState = "Active"
	SessionPaused    SessionState = "Paused"
	SessionCompleted SessionState = "Completed"
	SessionFailed    SessionState = "Failed"
)

// TurnState - состояние хода внутри активной сессии.
type TurnState string

const (
	TurnDiceRoll       TurnState = "DiceRoll"
	TurnMoveMarkers    TurnState = "MoveMarkers"
	TurnDecision       TurnState = "Decision"
	TurnWaitingSummit  TurnState = "WaitingSummit"
	TurnWaitingCheckin TurnState = "WaitingCheckin"
	TurnEnded          TurnState = "Ended"
)

// MaxTemporaryMarkers - не больше трех временных маркеров за сессию.
const MaxTemporaryMarkers = 3

// TemporaryMarker - смещение поверх постоянного прогресса в рамках хода.
type TemporaryMarker struct {
	Column   int `db:"column_number" json:"column"`
	Position int `db:"current_position" json:"position"`
}

// GameSession - игровая сессия игрока. Владеет временными маркерами и отложенными действиями.
type GameSession struct {
	SessionID            string            `db:"session_id" json:"sessionId"`
	PlayerID             string            `db:"player_id" json:"playerId"`
	State                SessionState      `db:"session_state" json:"state"`
	TurnState            TurnState         `db:"turn_state" json:"turnState"`
	TurnNumber           int               `db:"turn_number" json:"turnNumber"`
	CurrentDice          []int             `db:"dice_results" json:"currentDice,omitempty"`
	ForcedDiceResult     []int             `db:"forced_dice_result" json:"forcedDiceResult,omitempty"`
	TemporaryMarkers     []TemporaryMarker `db:"-" json:"temporaryMarkers"`
	FirstTurn            bool              `db:"first_turn" json:"firstTurn"`
	NeedsCheckin         bool              `db:"needs_checkin" json:"needsCheckin"`
	PendingSummitColumns []int             `db:"pending_summit_columns" json:"pendingSummitColumns,omitempty"`
	Pending              *PendingAction    `db:"pending_action" json:"pending,omitempty"`
	FollowUp             *FollowUp         `db:"follow_up" json:"followUp,omitempty"`
	Data                 SessionData       `db:"session_data" json:"data"`
	CreatedAt            time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time         `db:"updated_at" json:"updatedAt"`
	CompletedAt          *time.Time        `db:"completed_at" json:"completedAt,omitempty"`
}

// SessionData - параметры текущего хода, которые выставляют эффекты.
type SessionData struct {
	// NextDiceCount - число кубиков следующего броска (0 - стандартное).
	NextDiceCount int `json:"nextDiceCount,omitempty"`
	// ExtraDiceRisk - значение лишнего кубика, при котором ход аннулируется (0 - риска нет).
	ExtraDiceRisk int `json:"extraDiceRisk,omitempty"`
	// RerollsThisTurn - использованные перебросы в текущем ходу.
	RerollsThisTurn int `json:"rerollsThisTurn,omitempty"`
	// RollsThisTurn - число бросков в текущем ходу.
	RollsThisTurn int `json:"rollsThisTurn,omitempty"`
	// UnplacedColumns - колонки пары, которые можно продвинуть после одиночного хода.
	UnplacedColumns []int `json:"unplacedColumns,omitempty"`
	// Counters - счетчики событий в рамках сессии.
	Counters map[GameEventType]int `json:"counters,omitempty"`
}

// IsActive - сессия принимает игровые действия.
func (s *GameSession) IsActive() bool {
	return s != nil && s.State == SessionActive
}

// IsOpen - сессию еще можно продолжить (активна или на паузе).
func (s *GameSession) IsOpen() bool {
	return s != nil && (s.State == SessionActive || s.State == SessionPaused)
}

// MarkerAt возвращает маркер колонки или nil.
func (s *GameSession) MarkerAt(c int) *TemporaryMarker {
	for i := range s.TemporaryMarkers {
		if s.TemporaryMarkers[i].Column == c {
			return &s.TemporaryMarkers[i]
		}
	}
	return nil
}

// MarkerColumns возвращает колонки с маркерами по возрастанию.
func (s *GameSession) MarkerColumns() []int {
	cols := make([]int, 0, len(s.TemporaryMarkers))
	for _, m := range s.TemporaryMarkers {
		cols = append(cols, m.Column)
	}
	sort.Ints(cols)
	return cols
}

// RemoveMarker удаляет маркер колонки. Возвращает true, если он был.
func (s *GameSession) RemoveMarker(c int) bool {
	for i := range s.TemporaryMarkers {
		if s.TemporaryMarkers[i].Column == c {
			s.TemporaryMarkers = append(s.TemporaryMarkers[:i], s.TemporaryMarkers[i+1:]...)
			return true
		}
	}
	return false
}

// ClearMarkers удаляет все временные маркеры.
func (s *GameSession) ClearMarkers() {
	s.TemporaryMarkers = []TemporaryMarker{}
}

// HasPendingSummit сообщает, ждет ли колонка подтверждения вершины.
func (s *GameSession) HasPendingSummit(c int) bool {
	for _, p := range s.PendingSummitColumns {
		if p == c {
			return true
		}
	}
	return false
}

// AddPendingSummit добавляет колонку без дубликатов.
func (s *GameSession) AddPendingSummit(c int) {
	if !s.HasPendingSummit(c) {
		s.PendingSummitColumns = append(s.PendingSummitColumns, c)
	}
}

// RemovePendingSummit удаляет колонку из ожидающих.
func (s *GameSession) RemovePendingSummit(c int) {
	out := s.PendingSummitColumns[:0]
	for _, p := range s.PendingSummitColumns {
		if p != c {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = nil
	}
	s.PendingSummitColumns = out
}

// IncrementCounter увеличивает счетчик события в рамках сессии.
func (s *GameSession) IncrementCounter(t GameEventType) int {
	if s.Data.Counters == nil {
		s.Data.Counters = make(map[GameEventType]int)
	}
	s.Data.Counters[t]++
	return s.Data.Counters[t]
}

// PendingKind - вариант отложенного действия.
type PendingKind string

const (
	PendingEncounterChoice PendingKind = "encounter_choice"
	PendingTrapChoice      PendingKind = "trap_choice"
	PendingMarkerChoice    PendingKind = "marker_choice"
	PendingPvPChallenge    PendingKind = "pvp_challenge"
)

// PendingOption - вариант выбора в отложенном действии.
type PendingOption struct {
	Name        string          `json:"name"`
	Kind        EncounterKind   `json:"kind,omitempty"`
	Description string          `json:"description,omitempty"`
	Effect      json.RawMessage `json:"effect,omitempty"`
	Cost        int             `json:"cost,omitempty"`
	CostItem    string          `json:"costItem,omitempty"`
	FollowUp    *FollowUpDef    `json:"followUp,omitempty"`
}

// PendingAction - единственное обязательство сессии, блокирующее бросок, ход и завершение хода.
// Подтверждение вершины хранится отдельно в PendingSummitColumns.
type PendingAction struct {
	Kind        PendingKind     `json:"kind"`
	Source      string          `json:"source"`
	Column      int             `json:"column,omitempty"`
	Position    int             `json:"position,omitempty"`
	Description string          `json:"description,omitempty"`
	Options     []PendingOption `json:"options,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
}

// Expired сообщает, истек ли срок отложенного действия.
func (p *PendingAction) Expired(now time.Time) bool {
	return p != nil && p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// FollowUpDef - описание продолжения встречи в контенте.
type FollowUpDef struct {
	TriggerPhrase  string          `json:"trigger_phrase"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	Reward         json.RawMessage `json:"reward"`
	Description    string          `json:"description,omitempty"`
}

// FollowUp - установленное продолжение: фраза-триггер и награда до дедлайна.
// Не блокирует остальные действия.
type FollowUp struct {
	Source        string          `json:"source"`
	TriggerPhrase string          `json:"triggerPhrase"`
	Deadline      time.Time       `json:"deadline"`
	Reward        json.RawMessage `json:"reward"`
	Description   string          `json:"description,omitempty"`
}

// Expired сообщает, истек ли дедлайн.
func (f *FollowUp) Expired(now time.Time) bool {
	return f != nil && now.After(f.Deadline)
}
