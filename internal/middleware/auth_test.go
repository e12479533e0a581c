package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "test-secret"

func newServer() *echo.Echo {
	e := echo.New()
	e.Use(EchoZapLogger(zap.NewNop()))
	auth := JWTAuth(secret, zap.NewNop())
	e.GET("/me", func(c echo.Context) error {
		id, _ := PlayerID(c)
		return c.String(http.StatusOK, id)
	}, auth)
	e.GET("/gm", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, auth, RequireRole(RoleGM))
	return e
}

func do(e *echo.Echo, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := newServer()

	token, err := GenerateTestJWT("p1", nil, secret, time.Hour)
	require.NoError(t, err)
	rec := do(e, "/me", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", rec.Body.String())

	expired, err := GenerateTestJWT("p1", nil, secret, -time.Hour)
	require.NoError(t, err)
	foreign, err := GenerateTestJWT("p1", nil, "other", time.Hour)
	require.NoError(t, err)
	anonymous, err := GenerateTestJWT("", nil, secret, time.Hour)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":        "",
		"wrong scheme":   "Basic " + token,
		"malformed":      "Bearer abc",
		"expired":        "Bearer " + expired,
		"wrong secret":   "Bearer " + foreign,
		"empty playerID": "Bearer " + anonymous,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, do(e, "/me", header).Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := newServer()

	player, err := GenerateTestJWT("p1", []string{"player"}, secret, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do(e, "/gm", "Bearer "+player).Code)

	gm, err := GenerateTestJWT("gm1", []string{RoleGM}, secret, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, do(e, "/gm", "Bearer "+gm).Code)
}
