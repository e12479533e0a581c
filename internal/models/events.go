package models

import "time"

// GameEventType - тип игрового события на шине.
type GameEventType string

const (
	EventPlayerRegistered    GameEventType = "PlayerRegistered"
	EventGameStarted         GameEventType = "GameStarted"
	EventGameResumed         GameEventType = "GameResumed"
	EventDiceRolled          GameEventType = "DiceRolled"
	EventDiceRerolled        GameEventType = "DiceRerolled"
	EventMarkersMoved        GameEventType = "MarkersMoved"
	EventSummitPending       GameEventType = "SummitPending"
	EventColumnCompleted     GameEventType = "ColumnCompleted"
	EventTurnEnded           GameEventType = "TurnEnded"
	EventTurnStarted         GameEventType = "TurnStarted"
	EventTurnVoided          GameEventType = "TurnVoided"
	EventTurnSkipped         GameEventType = "TurnSkipped"
	EventPassiveStop         GameEventType = "PassiveStop"
	EventCheckinCompleted    GameEventType = "CheckinCompleted"
	EventGameWon             GameEventType = "GameWon"
	EventSessionEnded        GameEventType = "SessionEnded"
	EventTrapTriggered       GameEventType = "TrapTriggered"
	EventTrapFirstTime       GameEventType = "TrapFirstTime"
	EventTrapAvoided         GameEventType = "TrapAvoided"
	EventEncounterTriggered  GameEventType = "EncounterTriggered"
	EventEncounterResolved   GameEventType = "EncounterResolved"
	EventFollowUpCompleted   GameEventType = "FollowUpCompleted"
	EventItemAcquired        GameEventType = "ItemAcquired"
	EventItemPurchased       GameEventType = "ItemPurchased"
	EventItemSold            GameEventType = "ItemSold"
	EventItemUsed            GameEventType = "ItemUsed"
	EventScoreGained         GameEventType = "ScoreGained"
	EventScoreLost           GameEventType = "ScoreLost"
	EventBuffApplied         GameEventType = "BuffApplied"
	EventBuffExpired         GameEventType = "BuffExpired"
	EventDelayedEffectQueued GameEventType = "DelayedEffectQueued"
	EventDiceCheck           GameEventType = "DiceCheck"
	EventPvPBattle           GameEventType = "PvPBattle"
	EventAchievementUnlocked GameEventType = "AchievementUnlocked"
	EventRewardClaimed       GameEventType = "RewardClaimed"
	EventProgressLost        GameEventType = "ProgressLost"
	EventMapUpdated          GameEventType = "MapUpdated"
)

// AllEventTypes - все типы событий; достижения подписаны на каждый.
var AllEventTypes = []GameEventType{
	EventPlayerRegistered, EventGameStarted, EventGameResumed, EventDiceRolled, EventDiceRerolled,
	EventMarkersMoved, EventSummitPending, EventColumnCompleted, EventTurnEnded, EventTurnStarted,
	EventTurnVoided, EventTurnSkipped, EventPassiveStop, EventCheckinCompleted, EventGameWon,
	EventSessionEnded, EventTrapTriggered, EventTrapFirstTime, EventTrapAvoided,
	EventEncounterTriggered, EventEncounterResolved, EventFollowUpCompleted, EventItemAcquired,
	EventItemPurchased, EventItemSold, EventItemUsed, EventScoreGained, EventScoreLost,
	EventBuffApplied, EventBuffExpired, EventDelayedEffectQueued, EventDiceCheck, EventPvPBattle,
	EventAchievementUnlocked, EventRewardClaimed, EventProgressLost, EventMapUpdated,
}

// IsKnownEventType проверяет имя типа события из конфигурации.
func IsKnownEventType(t GameEventType) bool {
	for _, k := range AllEventTypes {
		if k == t {
			return true
		}
	}
	return false
}

// GameEvent - неизменяемая запись о событии.
type GameEvent struct {
	Type      GameEventType  `json:"type"`
	PlayerID  string         `json:"playerId"`
	SessionID string         `json:"sessionId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
