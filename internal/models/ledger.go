package models

import (
	"strings"
	"time"
)

// TransactionKind - направление изменения счета.
type TransactionKind string

const (
	TransactionEarn  TransactionKind = "earn"
	TransactionSpend TransactionKind = "spend"
)

// ScoreTransaction - append-only запись аудита. Amount всегда положителен,
// направление задает Kind.
type ScoreTransaction struct {
	TransactionID string          `db:"transaction_id" json:"transactionId"`
	PlayerID      string          `db:"player_id" json:"playerId"`
	Kind          TransactionKind `db:"kind" json:"kind"`
	Amount        int             `db:"amount" json:"amount"`
	Source        string          `db:"source" json:"source"`
	Description   string          `db:"description" json:"description"`
	Data          map[string]any  `db:"data" json:"data,omitempty"`
	Timestamp     time.Time       `db:"timestamp" json:"timestamp"`
}

// Signed возвращает изменение счета со знаком.
func (t ScoreTransaction) Signed() int {
	if t.Kind == TransactionSpend {
		return -t.Amount
	}
	return t.Amount
}

// Источники транзакций.
const (
	SourceRegistration = "registration"
	SourceDiceRoll     = "dice_roll"
	SourceSummitBonus  = "summit_bonus"
	SourceEffect       = "effect"
	SourceShop         = "shop"
	SourceAdmin        = "admin"
	SourceAchievement  = "achievement"
	SourceEncounter    = "encounter"
	SourceTrap         = "trap"
	SourcePvP          = "pvp"
)

// EncounterKind - тип выбора во встрече.
type EncounterKind string

const (
	EncounterPeaceful EncounterKind = "peaceful"
	EncounterNormal   EncounterKind = "normal"
	EncounterSpecial  EncounterKind = "special"
)

// EncounterRecord - история встреч игрока.
type EncounterRecord struct {
	HistoryID      string    `db:"history_id" json:"historyId"`
	PlayerID       string    `db:"player_id" json:"playerId"`
	EncounterName  string    `db:"encounter_name" json:"encounterName"`
	SelectedChoice *string   `db:"selected_choice" json:"selectedChoice,omitempty"`
	Result         *string   `db:"result" json:"result,omitempty"`
	TriggeredAt    time.Time `db:"triggered_at" json:"triggeredAt"`
}

// EventKind - тип события карты.
type EventKind string

const (
	KindTrap      EventKind = "trap"
	KindItem      EventKind = "item"
	KindEncounter EventKind = "encounter"
)

// MapEvent - событие на клетке карты, производное от раскладки и реестра контента.
type MapEvent struct {
	PositionKey string    `db:"position_key" json:"positionKey"`
	Column      int       `db:"column_number" json:"column"`
	Position    int       `db:"position" json:"position"`
	Kind        EventKind `db:"event_type" json:"kind"`
	Name        string    `db:"event_name" json:"name"`
	ContentID   int       `db:"content_id" json:"id"`
	Faction     *Faction  `db:"faction_specific" json:"faction,omitempty"`
}

// EncounterStateKind - стадия незавершенной встречи.
type EncounterStateKind string

const (
	EncounterAwaitingChoice   EncounterStateKind = "awaiting_choice"
	EncounterAwaitingFollowUp EncounterStateKind = "awaiting_follow_up"
)

// EncounterState - незавершенная встреча игрока. Производная от сессии,
// пересобирается при каждом сохранении агрегата.
type EncounterState struct {
	StateID         string             `db:"state_id" json:"stateId"`
	PlayerID        string             `db:"player_id" json:"playerId"`
	EncounterName   string             `db:"encounter_name" json:"encounterName"`
	State           EncounterStateKind `db:"state" json:"state"`
	SelectedChoice  *string            `db:"selected_choice" json:"selectedChoice,omitempty"`
	FollowUpTrigger *string            `db:"follow_up_trigger" json:"followUpTrigger,omitempty"`
	ContextData     map[string]any     `db:"context_data" json:"contextData,omitempty"`
	ExpiresAt       *time.Time         `db:"expires_at" json:"expiresAt,omitempty"`
}

const encounterSourcePrefix = "encounter:"

// EncounterStates выводит незавершенные встречи из открытой сессии агрегата.
func (a *PlayerAggregate) EncounterStates() []EncounterState {
	sess := a.Session
	if !sess.IsOpen() {
		return nil
	}
	var out []EncounterState
	if p := sess.Pending; p != nil && p.Kind == PendingEncounterChoice {
		out = append(out, EncounterState{
			PlayerID:      a.PlayerID(),
			EncounterName: strings.TrimPrefix(p.Source, encounterSourcePrefix),
			State:         EncounterAwaitingChoice,
			ContextData:   map[string]any{"column": p.Column, "position": p.Position, "sessionId": sess.SessionID},
			ExpiresAt:     p.ExpiresAt,
		})
	}
	if f := sess.FollowUp; f != nil && strings.HasPrefix(f.Source, encounterSourcePrefix) {
		trigger := f.TriggerPhrase
		deadline := f.Deadline
		out = append(out, EncounterState{
			PlayerID:        a.PlayerID(),
			EncounterName:   strings.TrimPrefix(f.Source, encounterSourcePrefix),
			State:           EncounterAwaitingFollowUp,
			FollowUpTrigger: &trigger,
			ContextData:     map[string]any{"sessionId": sess.SessionID},
			ExpiresAt:       &deadline,
		})
	}
	return out
}
