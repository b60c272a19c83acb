package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"agromarket/internal/domain/entity"
	"agromarket/pkg/logger"
)

const (
	ctxUID      = "uid"
	ctxIdentity = "identity"
	ctxRole     = "role"
)

// TokenVerifier turns a bearer token into the identity it was issued for.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (entity.Identity, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate requires a valid token, taken from the Authorization header
// or, for WebSocket upgrades, the "token" query parameter.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		idToken, ok := bearerToken(c)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
		}

		identity, err := m.verifier.VerifyToken(c.Request().Context(), idToken)
		if err != nil {
			logger.Debug("Authenticate: token rejected: %v", err)
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		c.Set(ctxUID, identity.UID)
		c.Set(ctxIdentity, identity)

		// The active role is a client-side choice; an absent or unknown
		// value means "look it up".
		role := c.Request().Header.Get("X-Active-Role")
		if role == "" {
			role = c.QueryParam("role")
		}
		c.Set(ctxRole, entity.ParseRole(role))

		return next(c)
	}
}

func bearerToken(c echo.Context) (string, bool) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		token := c.QueryParam("token")
		return token, token != ""
	}

	// Only the scheme is split off; development tokens may carry spaces.
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// SessionFrom builds the request's session from what Authenticate stored.
func SessionFrom(c echo.Context) entity.Session {
	identity, _ := c.Get(ctxIdentity).(entity.Identity)
	if identity.UID == "" {
		identity.UID, _ = c.Get(ctxUID).(string)
	}
	role, _ := c.Get(ctxRole).(entity.Role)
	return entity.Session{Identity: identity, Role: role}
}
