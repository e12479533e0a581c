package handler

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (h *GameHandler) addScore(c echo.Context) error {
	var req addScoreRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	h.logger.Info("GM score adjustment", zap.String("playerID", req.PlayerID), zap.Int("delta", req.Delta), zap.String("reason", req.Reason))
	res, err := h.service.AddScore(c.Request().Context(), req.PlayerID, req.Delta, req.Reason)
	return respond(c, res, err)
}

func (h *GameHandler) forceFailTurn(c echo.Context) error {
	var req failTurnRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.ForceFailTurn(c.Request().Context(), req.PlayerID, req.Reason)
	return respond(c, res, err)
}

func (h *GameHandler) getMapEvents(c echo.Context) error {
	res, err := h.service.GetMapEvents(c.Request().Context())
	return respond(c, res, err)
}

func (h *GameHandler) setManualTrap(c echo.Context) error {
	var req placementRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.SetManualTrap(c.Request().Context(), req.Column, req.Position, req.Name)
	return respond(c, res, err)
}

func (h *GameHandler) removeTrap(c echo.Context) error {
	var p positionParams
	if err := bind(c, &p); err != nil {
		return err
	}
	res, err := h.service.RemoveTrapAtPosition(c.Request().Context(), p.Column, p.Position)
	return respond(c, res, err)
}

func (h *GameHandler) setManualEncounter(c echo.Context) error {
	var req placementRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.SetManualEncounter(c.Request().Context(), req.Column, req.Position, req.Name)
	return respond(c, res, err)
}

func (h *GameHandler) removeEncounter(c echo.Context) error {
	var p positionParams
	if err := bind(c, &p); err != nil {
		return err
	}
	res, err := h.service.RemoveEncounterAtPosition(c.Request().Context(), p.Column, p.Position)
	return respond(c, res, err)
}

func (h *GameHandler) regenerateTraps(c echo.Context) error {
	res, err := h.service.RegenerateTraps(c.Request().Context())
	return respond(c, res, err)
}

func (h *GameHandler) resetMapOverlays(c echo.Context) error {
	gm, _ := playerID(c)
	h.logger.Info("GM reset map overlays", zap.String("gm", gm))
	res, err := h.service.ResetMapOverlays(c.Request().Context())
	return respond(c, res, err)
}

func (h *GameHandler) resetAllGameData(c echo.Context) error {
	gm, _ := playerID(c)
	h.logger.Warn("GM requested full game data reset", zap.String("gm", gm))
	res, err := h.service.ResetAllGameData(c.Request().Context())
	return respond(c, res, err)
}
