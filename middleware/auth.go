package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"mrv/auth"
	"mrv/models"

	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

// TokenValidator is satisfied by *auth.JWTService.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// AuthRequired resolves the bearer token into a models.Actor and stores it
// on the gin context.
func AuthRequired(validator TokenValidator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		authHeader := c.GetHeader("Authorization")

		if authHeader == "" {
			logger.WarnContext(ctx, "unauthorized access - missing token", "request_id", GetRequestID(c))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			logger.WarnContext(ctx, "unauthorized access - malformed header", "request_id", GetRequestID(c))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		claims, err := validator.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			logger.WarnContext(ctx, "unauthorized access - invalid token",
				"error", err,
				"request_id", GetRequestID(c),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(actorKey, claims.Actor())
		c.Next()
	}
}

// AdminRequired rejects actors without the admin role. Must run after
// AuthRequired.
func AdminRequired(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok || !actor.Elevated() {
			logger.WarnContext(c.Request.Context(), "admin access denied",
				"actor", actor.ID,
				"role", actor.Role,
				"request_id", GetRequestID(c),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// ActorFrom returns the authenticated actor set by AuthRequired.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}
