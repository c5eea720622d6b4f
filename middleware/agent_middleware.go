package middleware

import (
	"net/http"

	"github.com/Coworker2000/acr/services"
	"github.com/labstack/echo/v4"
)

// AgentMiddleware 只放行 type=agent 的 token
func AgentMiddleware(agentService *services.AgentService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, err := ExtractToken(c)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"success": false,
					"message": "No token provided",
				})
			}

			identity, err := agentService.ValidateToken(tokenString)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"success": false,
					"message": "Invalid token type",
				})
			}

			c.Set("identity", identity)
			return next(c)
		}
	}
}
