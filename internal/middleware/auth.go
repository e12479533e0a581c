package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Ключи echo.Context, которые заполняет JWTAuth.
const (
	ContextPlayerID = "player_id"
	ContextRoles    = "roles"
)

// RoleGM - роль ведущего: управление картой и сброс данных.
const RoleGM = "gm"

// Claims - пользовательские клеймы JWT.
type Claims struct {
	PlayerID string   `json:"player_id"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth проверяет bearer-токен (HMAC) и кладет player_id и роли в контекст.
func JWTAuth(secretKey string, logger *zap.Logger) echo.MiddlewareFunc {
	logger = logger.Named("JWTAuth")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header missing")
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secretKey), nil
			})
			if err != nil {
				logger.Warn("JWT parsing/validation error", zap.Error(err))
				switch {
				case errors.Is(err, jwt.ErrTokenExpired):
					return echo.NewHTTPError(http.StatusUnauthorized, "Token has expired")
				case errors.Is(err, jwt.ErrTokenMalformed):
					return echo.NewHTTPError(http.StatusUnauthorized, "Token is malformed")
				case errors.Is(err, jwt.ErrTokenSignatureInvalid):
					return echo.NewHTTPError(http.StatusUnauthorized, "Token signature is invalid")
				default:
					return echo.NewHTTPError(http.StatusUnauthorized, "Token validation failed")
				}
			}
			if !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "Token is invalid")
			}
			if strings.TrimSpace(claims.PlayerID) == "" {
				logger.Warn("PlayerID missing in JWT claims")
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token: player_id missing")
			}

			c.Set(ContextPlayerID, claims.PlayerID)
			c.Set(ContextRoles, claims.Roles)
			return next(c)
		}
	}
}

// RequireRole пропускает только запросы с ролью role. Ставится после JWTAuth.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			roles, _ := c.Get(ContextRoles).([]string)
			if !slices.Contains(roles, role) {
				return echo.NewHTTPError(http.StatusForbidden, "Insufficient role")
			}
			return next(c)
		}
	}
}

// PlayerID возвращает идентификатор игрока из контекста.
func PlayerID(c echo.Context) (string, bool) {
	id, ok := c.Get(ContextPlayerID).(string)
	return id, ok && id != ""
}

// GenerateTestJWT создает токен для тестов и локальной отладки.
func GenerateTestJWT(playerID string, roles []string, secretKey string, validity time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		PlayerID: playerID,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign test JWT: %w", err)
	}
	return signed, nil
}
