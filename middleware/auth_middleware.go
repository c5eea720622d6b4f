package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Coworker2000/acr/services"
	"github.com/labstack/echo/v4"
)

// ExtractToken 从 Authorization 头或 ?token= 取 bearer token。
// WebSocket 握手没法带自定义头，走 query 参数
func ExtractToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", errors.New("invalid authorization header")
		}
		return parts[1], nil
	}
	tokenString := c.QueryParam("token")
	if tokenString == "" {
		return "", errors.New("missing authorization token")
	}
	return strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer ")), nil
}

// AuthMiddleware 校验用户 token 并把归一化身份放进 context
func AuthMiddleware(authService *services.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, err := ExtractToken(c)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": err.Error(),
				})
			}

			identity, err := authService.ValidateToken(c.Request().Context(), tokenString)
			if err != nil {
				if errors.Is(err, services.ErrLegacyToken) {
					return c.JSON(http.StatusUnauthorized, map[string]string{
						"error": "Authentication error: Missing user information in token. Please login again.",
					})
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "invalid token",
				})
			}

			c.Set("identity", identity)
			return next(c)
		}
	}
}

// Identity 取出 AuthMiddleware 放入的身份
func Identity(c echo.Context) *services.Identity {
	identity, _ := c.Get("identity").(*services.Identity)
	return identity
}
