package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"summit-server/internal/engine"
	"summit-server/internal/handler"
	"summit-server/internal/memstore"
	"summit-server/internal/metrics"
	"summit-server/internal/middleware"
	"summit-server/internal/models"
	"summit-server/internal/service"
	"summit-server/internal/testutil"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const jwtSecret = "handler-test-secret"

type server struct {
	e   *echo.Echo
	env *testutil.Env
}

func newServer(t *testing.T) *server {
	t.Helper()
	env := testutil.NewEnv(t, engine.DefaultConfig())
	store := memstore.New(zap.NewNop())
	m := metrics.New()
	svc, err := service.New(service.Deps{
		Store:        store,
		Engine:       env.Engine,
		Achievements: env.Achievements,
		Layout:       env.Layout,
		Registry:     env.Registry,
		Bus:          env.Bus,
		Metrics:      m,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Init(context.Background()))

	e := echo.New()
	handler.NewGameHandler(svc, store, m.Handler(), jwtSecret, zap.NewNop()).RegisterRoutes(e)
	return &server{e: e, env: env}
}

func token(t *testing.T, playerID string, roles ...string) string {
	t.Helper()
	tok, err := middleware.GenerateTestJWT(playerID, roles, jwtSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *server) call(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) models.Result {
	t.Helper()
	var res models.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return res
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	rec := s.call(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	p1 := token(t, "p1")
	s.call(t, http.MethodPost, "/api/v1/players", p1, map[string]string{"username": "阿一", "faction": "收养人"})

	rec = s.call(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `summit_operations_total{op="registerPlayer",result="ok"} 1`)
}

func TestPlayerFlow(t *testing.T) {
	s := newServer(t)
	p1 := token(t, "p1")

	assert.Equal(t, http.StatusUnauthorized, s.call(t, http.MethodGet, "/api/v1/me/status", "", nil).Code)

	rec := s.call(t, http.MethodPost, "/api/v1/players", p1, map[string]string{"username": "阿一", "faction": "收养人"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.call(t, http.MethodPost, "/api/v1/players", p1, map[string]string{"username": "阿一", "faction": "收养人"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PlayerExists", decode(t, rec).Code)

	rec = s.call(t, http.MethodPost, "/api/v1/game/start", p1, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode(t, rec).OK)

	rec = s.call(t, http.MethodPost, "/api/v1/game/start", p1, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ActiveSessionExists", decode(t, rec).Code)

	s.env.Dice.Push(1, 1, 1, 2, 2, 2)
	rec = s.call(t, http.MethodPost, "/api/v1/game/roll", p1, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.True(t, res.OK, res.Message)
	assert.NotEmpty(t, res.Events)

	rec = s.call(t, http.MethodPost, "/api/v1/game/move", p1, map[string][]int{"columns": {2}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "columns are validated before reaching the service")

	rec = s.call(t, http.MethodPost, "/api/v1/game/move", p1, map[string][]int{"columns": {3, 6}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode(t, rec).OK)

	rec = s.call(t, http.MethodGet, "/api/v1/me/status", p1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.NotEmpty(t, status.Data)

	for _, path := range []string{"/api/v1/me/inventory", "/api/v1/me/achievements", "/api/v1/me/history?limit=5", "/api/v1/me/events", "/api/v1/leaderboard?limit=3"} {
		rec = s.call(t, http.MethodGet, path, p1, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, http.StatusBadRequest, s.call(t, http.MethodGet, "/api/v1/leaderboard?limit=5000", p1, nil).Code)

	rec = s.call(t, http.MethodGet, "/api/v1/me/status", token(t, "ghost"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PlayerNotFound", decode(t, rec).Code)
}

func TestShopValidation(t *testing.T) {
	s := newServer(t)
	p1 := token(t, "p1")
	s.call(t, http.MethodPost, "/api/v1/players", p1, map[string]string{"username": "阿一", "faction": "收养人"})

	rec := s.call(t, http.MethodPost, "/api/v1/shop/purchase", p1, map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.call(t, http.MethodPost, "/api/v1/shop/purchase", p1, map[string]any{"item": testutil.ItemKettle})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode(t, rec).OK)

	rec = s.call(t, http.MethodPost, "/api/v1/shop/purchase", p1, map[string]any{"item": "龙蛋"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UnknownItem", decode(t, rec).Code)
}

func TestGMRoutes(t *testing.T) {
	s := newServer(t)
	p1 := token(t, "p1")
	gm := token(t, "gm1", middleware.RoleGM)
	s.call(t, http.MethodPost, "/api/v1/players", p1, map[string]string{"username": "阿一", "faction": "收养人"})

	assert.Equal(t, http.StatusForbidden, s.call(t, http.MethodGet, "/api/v1/gm/map", p1, nil).Code)

	rec := s.call(t, http.MethodGet, "/api/v1/gm/map", gm, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec).OK)

	rec = s.call(t, http.MethodPut, "/api/v1/gm/map/traps", gm, map[string]any{"column": 7, "position": 2, "name": "不存在"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UnknownTrap", decode(t, rec).Code)

	rec = s.call(t, http.MethodPut, "/api/v1/gm/map/traps", gm, map[string]any{"column": 7, "position": 2, "name": testutil.TrapScore})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.call(t, http.MethodDelete, "/api/v1/gm/map/traps/4/1", gm, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.call(t, http.MethodDelete, "/api/v1/gm/map/traps/4/1", gm, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusBadRequest, s.call(t, http.MethodDelete, "/api/v1/gm/map/traps/2/1", gm, nil).Code)

	rec = s.call(t, http.MethodPut, "/api/v1/gm/map/encounters", gm, map[string]any{"column": 7, "position": 2, "name": testutil.EncounterShop})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InvalidOverlayPlacement", decode(t, rec).Code)

	assert.Equal(t, http.StatusForbidden, s.call(t, http.MethodPost, "/api/v1/gm/map/reset", p1, nil).Code)
	rec = s.call(t, http.MethodPost, "/api/v1/gm/map/reset", gm, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusOK, s.call(t, http.MethodDelete, "/api/v1/gm/map/traps/4/1", gm, nil).Code, "baseline trap is back after reset")

	rec = s.call(t, http.MethodPost, "/api/v1/gm/score", gm, map[string]any{"playerId": "p1", "delta": 5, "reason": "画作"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, s.call(t, http.MethodPost, "/api/v1/gm/score", gm, map[string]any{"playerId": "p1"}).Code)

	rec = s.call(t, http.MethodPost, "/api/v1/gm/reset", gm, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodGet, "/api/v1/me/status", p1, nil).Code)
}

// brokenService отдает ошибку хранилища на бросок кубиков.
type brokenService struct {
	handler.GameService
	err error
}

func (b brokenService) RollDice(context.Context, string) (*models.Result, error) {
	return nil, b.err
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"persistence", fmt.Errorf("rollDice: %w", models.ErrPersistence), http.StatusServiceUnavailable},
		{"canceled", context.Canceled, http.StatusServiceUnavailable},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			handler.NewGameHandler(brokenService{err: tt.err}, nil, nil, jwtSecret, zap.NewNop()).RegisterRoutes(e)
			s := &server{e: e}
			rec := s.call(t, http.MethodPost, "/api/v1/game/roll", token(t, "p1"), nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
