package handler

import (
	"context"
	"net/http"

	"summit-server/internal/models"

	"github.com/labstack/echo/v4"
)

// bind разбирает запрос в req и проверяет его валидатором.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return invalidInput("Invalid request: " + err.Error())
	}
	if err := c.Validate(req); err != nil {
		return invalidInput(err.Error())
	}
	return nil
}

func (h *GameHandler) registerPlayer(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var req registerPlayerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.RegisterPlayer(c.Request().Context(), id, req.Username, req.Faction)
	if err == nil && res.OK {
		return c.JSON(http.StatusCreated, res)
	}
	return respond(c, res, err)
}

func (h *GameHandler) startNewGame(c echo.Context) error {
	return h.simple(c, h.service.StartNewGame)
}

func (h *GameHandler) resumeGame(c echo.Context) error {
	return h.simple(c, h.service.ResumeGame)
}

func (h *GameHandler) rollDice(c echo.Context) error {
	return h.simple(c, h.service.RollDice)
}

func (h *GameHandler) continueTurn(c echo.Context) error {
	return h.simple(c, h.service.ContinueTurn)
}

func (h *GameHandler) rerollDice(c echo.Context) error {
	return h.simple(c, h.service.RerollDice)
}

func (h *GameHandler) endTurn(c echo.Context) error {
	return h.simple(c, h.service.EndTurn)
}

func (h *GameHandler) getGameStatus(c echo.Context) error {
	return h.simple(c, h.service.GetGameStatus)
}

func (h *GameHandler) getInventory(c echo.Context) error {
	return h.simple(c, h.service.GetInventory)
}

func (h *GameHandler) getAchievements(c echo.Context) error {
	return h.simple(c, h.service.GetAchievements)
}

func (h *GameHandler) selectiveReroll(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var req selectiveRerollRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.SelectiveReroll(c.Request().Context(), id, req.Indices)
	return respond(c, res, err)
}

func (h *GameHandler) moveMarkers(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var req moveMarkersRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.MoveMarkers(c.Request().Context(), id, req.Columns)
	return respond(c, res, err)
}

func (h *GameHandler) confirmSummit(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var req confirmSummitRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.ConfirmSummit(c.Request().Context(), id, req.Column)
	return respond(c, res, err)
}

func (h *GameHandler) completeCheckin(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var req checkinRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.CompleteCheckin(c.Request().Context(), id, req.Artwork)
	return respond(c, res, err)
}

func (h *GameHandler) resolveChoice(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var req choiceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.ResolveChoice(c.Request().Context(), id, req.Choice)
	return respond(c, res, err)
}

func (h *GameHandler) submitFollowUp(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var req followUpRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.SubmitFollowUp(c.Request().Context(), id, req.Phrase)
	return respond(c, res, err)
}

func (h *GameHandler) resolvePvP(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var req pvpRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.ResolvePvP(c.Request().Context(), id, req.OpponentID)
	return respond(c, res, err)
}

func (h *GameHandler) claimReward(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var req claimRewardRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.ClaimReward(c.Request().Context(), id, req.Achievement)
	return respond(c, res, err)
}

func (h *GameHandler) getHistory(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var q limitQuery
	if err := bind(c, &q); err != nil {
		return err
	}
	res, err := h.service.GetHistory(c.Request().Context(), id, q.Limit)
	return respond(c, res, err)
}

func (h *GameHandler) getRecentEvents(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var q limitQuery
	if err := bind(c, &q); err != nil {
		return err
	}
	res, err := h.service.GetRecentEvents(c.Request().Context(), id, q.Limit)
	return respond(c, res, err)
}

func (h *GameHandler) getLeaderboard(c echo.Context) error {
	var q limitQuery
	if err := bind(c, &q); err != nil {
		return err
	}
	res, err := h.service.GetLeaderboard(c.Request().Context(), q.Limit)
	return respond(c, res, err)
}

func (h *GameHandler) purchaseItem(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var req itemRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.PurchaseItem(c.Request().Context(), id, req.Item, quantityOrOne(req.Quantity))
	return respond(c, res, err)
}

func (h *GameHandler) sellItem(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var req itemRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.SellItem(c.Request().Context(), id, req.Item, quantityOrOne(req.Quantity))
	return respond(c, res, err)
}

func (h *GameHandler) useItem(c echo.Context) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	var req itemRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.UseItem(c.Request().Context(), id, req.Item)
	return respond(c, res, err)
}

// simple - операция игрока без тела запроса.
func (h *GameHandler) simple(c echo.Context, op func(ctx context.Context, playerID string) (*models.Result, error)) error {
	id, err := playerID(c)
	if err != nil {
		return err
	}
	res, err := op(c.Request().Context(), id)
	return respond(c, res, err)
}

func quantityOrOne(q int) int {
	if q == 0 {
		return 1
	}
	return q
}
