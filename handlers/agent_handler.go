package handlers

import (
	"errors"
	"net/http"

	"github.com/Coworker2000/acr/middleware"
	"github.com/Coworker2000/acr/services"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type AgentHandler struct {
	agentService *services.AgentService
}

func NewAgentHandler(agentService *services.AgentService) *AgentHandler {
	return &AgentHandler{agentService: agentService}
}

func (h *AgentHandler) Login(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "invalid request",
		})
	}

	token, agent, err := h.agentService.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"success": false,
				"message": "Invalid credentials",
			})
		}
		log.Errorf("Agent login error: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Login error",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
		"agent":   agent,
	})
}

func (h *AgentHandler) GetInfo(c echo.Context) error {
	identity := middleware.Identity(c)
	if identity == nil || identity.Role != services.RoleAgent {
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"message": "Invalid token type",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"agent": map[string]string{
			"name": identity.Name,
		},
	})
}
