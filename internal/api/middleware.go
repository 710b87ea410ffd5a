package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// adminMiddleware проверяет админский JWT в заголовке Authorization.
// Без Issuer проверка выключена.
func (rs *RestServer) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rs.issuer == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			rs.abort(c, http.StatusUnauthorized, "Missing authorization token")
			return
		}

		// Проверяем формат "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			rs.abort(c, http.StatusUnauthorized, "Invalid authorization header")
			return
		}

		claims, err := rs.issuer.Validate(parts[1])
		if err != nil {
			rs.log.Warn("⚠️ Отклонён токен от %s: %v", c.ClientIP(), err)
			rs.abort(c, http.StatusUnauthorized, "Invalid token")
			return
		}
		if !claims.IsAdmin {
			rs.abort(c, http.StatusForbidden, "Admin rights required")
			return
		}

		c.Set("subject", claims.Subject)
		c.Next()
	}
}

func (rs *RestServer) abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, GenericResponse{Success: false, Message: message})
}
