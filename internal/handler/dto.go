package handler

import (
	"github.com/go-playground/validator/v10"
)

// RequestValidator подключает go-playground/validator к echo.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator создает валидатор со стандартными тегами.
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate реализует echo.Validator.
func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

type registerPlayerRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Faction  string `json:"faction" validate:"required"`
}

type selectiveRerollRequest struct {
	Indices []int `json:"indices" validate:"required,min=1,dive,gte=0"`
}

type moveMarkersRequest struct {
	Columns []int `json:"columns" validate:"required,min=1,max=2,dive,gte=3,lte=18"`
}

type confirmSummitRequest struct {
	Column int `json:"column" validate:"gte=3,lte=18"`
}

type checkinRequest struct {
	Artwork bool `json:"artwork"`
}

type choiceRequest struct {
	Choice string `json:"choice" validate:"required"`
}

type followUpRequest struct {
	Phrase string `json:"phrase" validate:"required"`
}

type pvpRequest struct {
	OpponentID string `json:"opponentId" validate:"required"`
}

type claimRewardRequest struct {
	Achievement string `json:"achievement" validate:"required"`
}

type itemRequest struct {
	Item     string `json:"item" validate:"required"`
	Quantity int    `json:"quantity" validate:"omitempty,gte=1"`
}

type addScoreRequest struct {
	PlayerID string `json:"playerId" validate:"required"`
	Delta    int    `json:"delta" validate:"ne=0"`
	Reason   string `json:"reason" validate:"max=200"`
}

type failTurnRequest struct {
	PlayerID string `json:"playerId" validate:"required"`
	Reason   string `json:"reason" validate:"max=200"`
}

type placementRequest struct {
	Column   int    `json:"column" validate:"gte=3,lte=18"`
	Position int    `json:"position" validate:"gte=1"`
	Name     string `json:"name" validate:"required"`
}

type positionParams struct {
	Column   int `param:"column" validate:"gte=3,lte=18"`
	Position int `param:"position" validate:"gte=1"`
}

type limitQuery struct {
	Limit int `query:"limit" validate:"gte=0,lte=1000"`
}
