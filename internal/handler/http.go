package handler

import (
	"context"
	"errors"
	"net/http"

	"summit-server/internal/middleware"
	"summit-server/internal/models"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// GameService - операции игрового фасада, доступные по HTTP.
type GameService interface {
	RegisterPlayer(ctx context.Context, playerID, username, faction string) (*models.Result, error)
	StartNewGame(ctx context.Context, playerID string) (*models.Result, error)
	ResumeGame(ctx context.Context, playerID string) (*models.Result, error)
	RollDice(ctx context.Context, playerID string) (*models.Result, error)
	ContinueTurn(ctx context.Context, playerID string) (*models.Result, error)
	RerollDice(ctx context.Context, playerID string) (*models.Result, error)
	SelectiveReroll(ctx context.Context, playerID string, indices []int) (*models.Result, error)
	MoveMarkers(ctx context.Context, playerID string, columns []int) (*models.Result, error)
	ConfirmSummit(ctx context.Context, playerID string, column int) (*models.Result, error)
	EndTurn(ctx context.Context, playerID string) (*models.Result, error)
	CompleteCheckin(ctx context.Context, playerID string, artwork bool) (*models.Result, error)
	ForceFailTurn(ctx context.Context, playerID, reason string) (*models.Result, error)
	ResolveChoice(ctx context.Context, playerID, choice string) (*models.Result, error)
	SubmitFollowUp(ctx context.Context, playerID, phrase string) (*models.Result, error)
	ResolvePvP(ctx context.Context, challengerID, opponentID string) (*models.Result, error)

	GetGameStatus(ctx context.Context, playerID string) (*models.Result, error)
	GetInventory(ctx context.Context, playerID string) (*models.Result, error)
	GetAchievements(ctx context.Context, playerID string) (*models.Result, error)
	GetHistory(ctx context.Context, playerID string, limit int) (*models.Result, error)
	GetRecentEvents(ctx context.Context, playerID string, limit int) (*models.Result, error)
	ClaimReward(ctx context.Context, playerID, achievement string) (*models.Result, error)
	AddScore(ctx context.Context, playerID string, delta int, reason string) (*models.Result, error)
	GetLeaderboard(ctx context.Context, limit int) (*models.Result, error)

	PurchaseItem(ctx context.Context, playerID, item string, quantity int) (*models.Result, error)
	SellItem(ctx context.Context, playerID, item string, quantity int) (*models.Result, error)
	UseItem(ctx context.Context, playerID, item string) (*models.Result, error)

	SetManualTrap(ctx context.Context, column, position int, trap string) (*models.Result, error)
	RemoveTrapAtPosition(ctx context.Context, column, position int) (*models.Result, error)
	SetManualEncounter(ctx context.Context, column, position int, encounter string) (*models.Result, error)
	RemoveEncounterAtPosition(ctx context.Context, column, position int) (*models.Result, error)
	RegenerateTraps(ctx context.Context) (*models.Result, error)
	ResetMapOverlays(ctx context.Context) (*models.Result, error)
	GetMapEvents(ctx context.Context) (*models.Result, error)
	ResetAllGameData(ctx context.Context) (*models.Result, error)
}

// Pinger - проверка готовности хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// GameHandler обрабатывает HTTP запросы игрового сервиса.
type GameHandler struct {
	service   GameService
	health    Pinger
	metrics   http.Handler
	jwtSecret string
	logger    *zap.Logger
}

// NewGameHandler создает GameHandler. health и metrics необязательны.
func NewGameHandler(s GameService, health Pinger, metrics http.Handler, jwtSecret string, logger *zap.Logger) *GameHandler {
	return &GameHandler{
		service:   s,
		health:    health,
		metrics:   metrics,
		jwtSecret: jwtSecret,
		logger:    logger.Named("GameHandler"),
	}
}

// RegisterRoutes регистрирует маршруты и валидатор запросов.
func (h *GameHandler) RegisterRoutes(e *echo.Echo) {
	e.Validator = NewRequestValidator()

	e.GET("/healthz", h.healthz)
	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}

	auth := middleware.JWTAuth(h.jwtSecret, h.logger)
	api := e.Group("/api/v1", auth)
	{
		api.POST("/players", h.registerPlayer)
		api.GET("/leaderboard", h.getLeaderboard)
	}

	me := api.Group("/me")
	{
		me.GET("/status", h.getGameStatus)
		me.GET("/inventory", h.getInventory)
		me.GET("/achievements", h.getAchievements)
		me.POST("/achievements/claim", h.claimReward)
		me.GET("/history", h.getHistory)
		me.GET("/events", h.getRecentEvents)
	}

	game := api.Group("/game")
	{
		game.POST("/start", h.startNewGame)
		game.POST("/resume", h.resumeGame)
		game.POST("/roll", h.rollDice)
		game.POST("/continue", h.continueTurn)
		game.POST("/reroll", h.rerollDice)
		game.POST("/reroll/selective", h.selectiveReroll)
		game.POST("/move", h.moveMarkers)
		game.POST("/summit", h.confirmSummit)
		game.POST("/end-turn", h.endTurn)
		game.POST("/checkin", h.completeCheckin)
		game.POST("/choice", h.resolveChoice)
		game.POST("/follow-up", h.submitFollowUp)
		game.POST("/pvp", h.resolvePvP)
	}

	shop := api.Group("/shop")
	{
		shop.POST("/purchase", h.purchaseItem)
		shop.POST("/sell", h.sellItem)
	}
	api.POST("/items/use", h.useItem)

	gm := api.Group("/gm", middleware.RequireRole(middleware.RoleGM))
	{
		gm.POST("/score", h.addScore)
		gm.POST("/fail-turn", h.forceFailTurn)
		gm.GET("/map", h.getMapEvents)
		gm.PUT("/map/traps", h.setManualTrap)
		gm.DELETE("/map/traps/:column/:position", h.removeTrap)
		gm.PUT("/map/encounters", h.setManualEncounter)
		gm.DELETE("/map/encounters/:column/:position", h.removeEncounter)
		gm.POST("/map/regenerate", h.regenerateTraps)
		gm.POST("/map/reset", h.resetMapOverlays)
		gm.POST("/reset", h.resetAllGameData)
	}
}

func (h *GameHandler) healthz(c echo.Context) error {
	if h.health != nil {
		if err := h.health.Ping(c.Request().Context()); err != nil {
			h.logger.Warn("Health check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, APIError{Code: models.ErrorCode(err), Message: "storage unavailable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// respond отдает результат операции. Отказ без событий отображается в HTTP-статус
// по коду ошибки; результат с событиями уже закоммичен и отдается как 200.
func respond(c echo.Context, res *models.Result, err error) error {
	if err != nil {
		return handleServiceError(c, err)
	}
	status := http.StatusOK
	if !res.OK && len(res.Events) == 0 {
		status = statusForCode(res.Code)
	}
	return c.JSON(status, res)
}

func statusForCode(code string) int {
	switch code {
	case "Unauthorized":
		return http.StatusUnauthorized
	case "Forbidden":
		return http.StatusForbidden
	case "PlayerNotFound", "SessionNotFound", "NotFound", "AchievementNotFound":
		return http.StatusNotFound
	case "PlayerExists", "ActiveSessionExists", "InvalidSessionState", "PendingAction", "SummitPending",
		"CheckinRequired", "RewardAlreadyClaimed", "EndTurnPrevented", "SkipTurn":
		return http.StatusConflict
	case "RateLimitExceeded", "CommandLimitExceeded":
		return http.StatusTooManyRequests
	case "InvalidInput", "InvalidQuantity", "InvalidColumn", "InvalidPosition", "InvalidDiceSelection",
		"UnknownItem", "UnknownTrap", "UnknownEncounter":
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

// handleServiceError переводит инфраструктурные ошибки сервиса в ответ.
func handleServiceError(c echo.Context, err error) error {
	var statusCode int
	var apiErr APIError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		statusCode = http.StatusServiceUnavailable
		apiErr = APIError{Code: "Canceled", Message: "Request canceled"}
	case errors.Is(err, models.ErrPersistence):
		statusCode = http.StatusServiceUnavailable
		apiErr = APIError{Code: models.ErrorCode(err), Message: "Storage temporarily unavailable"}
	case errors.Is(err, models.ErrConfig):
		statusCode = http.StatusInternalServerError
		apiErr = APIError{Code: models.ErrorCode(err), Message: "Server misconfigured"}
	default:
		statusCode = http.StatusInternalServerError
		apiErr = APIError{Code: "InternalError", Message: "Internal server error"}
	}
	return c.JSON(statusCode, apiErr)
}

// invalidInput - ответ 400 с телом APIError.
func invalidInput(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, APIError{Code: models.ErrorCode(models.ErrInvalidInput), Message: msg})
}

// playerID извлекает идентификатор игрока, установленный JWTAuth.
func playerID(c echo.Context) (string, error) {
	id, ok := middleware.PlayerID(c)
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "player_id не найден в контексте")
	}
	return id, nil
}
