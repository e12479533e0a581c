package models

import (
	"errors"
	"fmt"
)

// Стандартные ошибки игрового ядра
var (
	// Общие ошибки ресурсов/БД
	ErrNotFound = errors.New("resource not found")

	// Игрок
	ErrPlayerNotFound = errors.New("player not found")
	ErrPlayerExists   = errors.New("player already exists")

	// Сессия и состояние хода
	ErrSessionNotFound      = errors.New("session not found")
	ErrInvalidSessionState  = errors.New("invalid session state")
	ErrActiveSessionExists  = errors.New("active session already exists")
	ErrCheckinRequired      = errors.New("checkin required")
	ErrSummitPending        = errors.New("summit confirmation pending")
	ErrPendingAction        = errors.New("pending action must be resolved first")
	ErrEndTurnPrevented     = errors.New("end turn is prevented")
	ErrNoPendingAction      = errors.New("no pending action")
	ErrInvalidChoice        = errors.New("invalid choice")
	ErrFollowUpExpired      = errors.New("follow-up expired")
	ErrRerollUnavailable    = errors.New("reroll unavailable")
	ErrArtworkRequired      = errors.New("artwork required")
	ErrSkipTurnActive       = errors.New("turn is skipped")
	ErrNoMovableMarkers     = errors.New("no movable markers")
	ErrInvalidDiceSelection = errors.New("invalid dice selection")

	// Доска и маркеры
	ErrInvalidColumn           = errors.New("invalid column")
	ErrColumnCompleted         = errors.New("column already completed")
	ErrTooManyMarkers          = errors.New("too many temporary markers")
	ErrInvalidDiceCombination  = errors.New("invalid dice combination")
	ErrColumnOverflow          = errors.New("column height exceeded")
	ErrInvalidPosition         = errors.New("invalid position")
	ErrSummitAlreadyConfirmed  = errors.New("summit not pending for column")
	ErrInsufficientScore       = errors.New("insufficient score")
	ErrInvalidScoreAdjustment  = errors.New("invalid score adjustment")
	ErrAchievementNotFound     = errors.New("achievement not found")
	ErrRewardAlreadyClaimed    = errors.New("reward already claimed")
	ErrRewardNotClaimable      = errors.New("reward is not manually claimable")
	ErrCommandLimitExceeded    = errors.New("command daily limit exceeded")
	ErrOpponentUnavailable     = errors.New("pvp opponent unavailable")
	ErrPendingKindMismatch     = errors.New("pending action kind mismatch")
	ErrInvalidOverlayPlacement = errors.New("invalid overlay placement")

	// Контент
	ErrUnknownEffect    = errors.New("unknown effect")
	ErrUnknownItem      = errors.New("unknown item")
	ErrUnknownEncounter = errors.New("unknown encounter")
	ErrUnknownTrap      = errors.New("unknown trap")

	// Предметы
	ErrItemNotOwned      = errors.New("item not owned")
	ErrItemNotTradable   = errors.New("item is not tradable")
	ErrItemNotUsable     = errors.New("item cannot be used")
	ErrFactionMismatch   = errors.New("item not available for faction")
	ErrItemAlreadyOwned  = errors.New("non-stackable item already owned")
	ErrItemLocked        = errors.New("item is locked")
	ErrItemOutOfStock    = errors.New("limited item out of stock")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidInput      = errors.New("invalid input data")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Инфраструктура
	ErrPersistence = errors.New("persistence error")
	ErrConfig      = errors.New("config error")
)

// GameError - ошибка валидации, которую ядро возвращает как (ok=false, message).
// Kind - один из sentinel-ов выше, Message - локализованный текст для игрока.
type GameError struct {
	Kind    error
	Message string
	Details map[string]any
}

func (e *GameError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *GameError) Unwrap() error { return e.Kind }

// NewGameError создает ошибку с форматированным сообщением.
func NewGameError(kind error, format string, args ...any) *GameError {
	return &GameError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail добавляет диагностическое поле.
func (e *GameError) WithDetail(key string, value any) *GameError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// InsufficientScore - сообщение всегда содержит текущее и требуемое значение.
func InsufficientScore(current, required int) *GameError {
	return NewGameError(ErrInsufficientScore, "积分不足（当前：%d，需要：%d）", current, required).
		WithDetail("current", current).
		WithDetail("required", required)
}

// InvalidSessionState описывает ожидаемое и текущее состояние.
func InvalidSessionState(current TurnState, expected ...TurnState) *GameError {
	return NewGameError(ErrInvalidSessionState, "当前状态为 %s，无法执行该操作（需要：%v）", current, expected).
		WithDetail("current", current).
		WithDetail("expected", expected)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrPlayerNotFound, "PlayerNotFound"},
	{ErrPlayerExists, "PlayerExists"},
	{ErrSessionNotFound, "SessionNotFound"},
	{ErrInvalidSessionState, "InvalidSessionState"},
	{ErrActiveSessionExists, "ActiveSessionExists"},
	{ErrInvalidColumn, "InvalidColumn"},
	{ErrColumnCompleted, "ColumnCompleted"},
	{ErrTooManyMarkers, "TooManyMarkers"},
	{ErrInvalidDiceCombination, "InvalidDiceCombination"},
	{ErrNoMovableMarkers, "NoMovableMarkers"},
	{ErrCheckinRequired, "CheckinRequired"},
	{ErrSummitPending, "SummitPending"},
	{ErrInsufficientScore, "InsufficientScore"},
	{ErrUnknownEffect, "UnknownEffect"},
	{ErrUnknownItem, "UnknownItem"},
	{ErrUnknownEncounter, "UnknownEncounter"},
	{ErrUnknownTrap, "UnknownTrap"},
	{ErrPersistence, "PersistenceError"},
	{ErrConfig, "ConfigError"},
	{ErrRateLimitExceeded, "RateLimitExceeded"},
	{ErrPendingAction, "PendingAction"},
	{ErrNoPendingAction, "NoPendingAction"},
	{ErrInvalidChoice, "InvalidChoice"},
	{ErrEndTurnPrevented, "EndTurnPrevented"},
	{ErrFollowUpExpired, "FollowUpExpired"},
	{ErrRerollUnavailable, "RerollUnavailable"},
	{ErrArtworkRequired, "ArtworkRequired"},
	{ErrSkipTurnActive, "SkipTurn"},
	{ErrInvalidDiceSelection, "InvalidDiceSelection"},
	{ErrColumnOverflow, "ColumnOverflow"},
	{ErrInvalidPosition, "InvalidPosition"},
	{ErrSummitAlreadyConfirmed, "SummitNotPending"},
	{ErrInvalidScoreAdjustment, "InvalidScoreAdjustment"},
	{ErrAchievementNotFound, "AchievementNotFound"},
	{ErrRewardAlreadyClaimed, "RewardAlreadyClaimed"},
	{ErrRewardNotClaimable, "RewardNotClaimable"},
	{ErrCommandLimitExceeded, "CommandLimitExceeded"},
	{ErrOpponentUnavailable, "OpponentUnavailable"},
	{ErrPendingKindMismatch, "PendingKindMismatch"},
	{ErrInvalidOverlayPlacement, "InvalidOverlayPlacement"},
	{ErrItemNotOwned, "ItemNotOwned"},
	{ErrItemNotTradable, "ItemNotTradable"},
	{ErrItemNotUsable, "ItemNotUsable"},
	{ErrFactionMismatch, "FactionMismatch"},
	{ErrItemAlreadyOwned, "ItemAlreadyOwned"},
	{ErrItemLocked, "ItemLocked"},
	{ErrItemOutOfStock, "ItemOutOfStock"},
	{ErrInvalidQuantity, "InvalidQuantity"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrForbidden, "Forbidden"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrNotFound, "NotFound"},
}

// ErrorCode возвращает стабильный код ошибки для адаптеров.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "InternalError"
}
