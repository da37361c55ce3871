package app

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/boardflow/orchestrator/internal/config"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

// Middleware bundles gin middleware the router attaches, mirroring the
// teacher's app.Middleware grouping.
type Middleware struct {
	AdminAuth gin.HandlerFunc
}

func wireMiddleware(cfg *config.Config, lg *logger.Logger) Middleware {
	mlog := lg.With("middleware", "admin_auth")
	return Middleware{AdminAuth: requireAdminBearer(cfg.AdminBearerToken, mlog)}
}

// requireAdminBearer guards the admin API the way the teacher's
// AuthMiddleware.RequireAuth guards its session routes, generalized from a
// per-user session JWT lookup to a single HS256 signing secret shared with
// whatever issues admin tokens out of band.
func requireAdminBearer(secret string, lg *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			lg.Warn("admin bearer secret not configured, rejecting all admin requests")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin api not configured"})
			return
		}
		tokenString := extractBearer(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		_, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil {
			lg.Debug("admin token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return auth[7:]
	}
	return ""
}
