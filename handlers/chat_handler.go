package handlers

import (
	"errors"
	"net/http"

	"github.com/Coworker2000/acr/middleware"
	"github.com/Coworker2000/acr/models"
	"github.com/Coworker2000/acr/services"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type ChatHandler struct {
	chatService  *services.ChatService
	authService  *services.AuthService
	agentService *services.AgentService
}

func NewChatHandler(chatService *services.ChatService, authService *services.AuthService, agentService *services.AgentService) *ChatHandler {
	return &ChatHandler{
		chatService:  chatService,
		authService:  authService,
		agentService: agentService,
	}
}

// POST /chat/create：查或建当前用户的会话。身份以 token 为准，body 只取套餐快照
func (h *ChatHandler) CreateOrGetChat(c echo.Context) error {
	identity := middleware.Identity(c)

	var req struct {
		UserEmail    string               `json:"userEmail"`
		UserName     string               `json:"userName"`
		SelectedPlan *models.PlanSnapshot `json:"selectedPlan"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "invalid request",
		})
	}

	chat, err := h.chatService.CreateOrGetChat(c.Request().Context(), identity, req.SelectedPlan)
	if err != nil {
		if errors.Is(err, services.ErrIncompleteIdentity) {
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"success": false,
				"message": "Authentication error: Missing user information in token. Please login again.",
			})
		}
		log.Errorf("Error creating or fetching chat: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Server error",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"chat":    chat.Projection(),
	})
}

// GET /chat/history/:chatId：属主才能看
func (h *ChatHandler) GetChatHistory(c echo.Context) error {
	identity := middleware.Identity(c)
	chatID := c.Param("chatId")

	chat, err := h.chatService.History(c.Request().Context(), chatID, identity, services.RoleUser)
	if err != nil {
		return h.chatError(c, err, "Error retrieving chat history")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"chat":    chat.Projection(),
	})
}

// GET /chat/agent/history/:chatId：客服可以看任意会话
func (h *ChatHandler) GetAgentChatHistory(c echo.Context) error {
	chatID := c.Param("chatId")

	chat, err := h.chatService.History(c.Request().Context(), chatID, nil, services.RoleAgent)
	if err != nil {
		return h.chatError(c, err, "Error retrieving chat history")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"chat":    chat.Projection(),
	})
}

// GET /chat/active：客服面板的会话列表
func (h *ChatHandler) GetActiveChats(c echo.Context) error {
	chats, err := h.chatService.ActiveChats(c.Request().Context())
	if err != nil {
		log.Errorf("Error getting active chats: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Error retrieving chats",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"chats":   chats,
	})
}

// GET /chat/user/chats：当前用户自己的会话
func (h *ChatHandler) GetUserChats(c echo.Context) error {
	identity := middleware.Identity(c)

	chats, err := h.chatService.UserChats(c.Request().Context(), identity)
	if err != nil {
		log.Errorf("Error getting user chats: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Error retrieving chats",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"chats":   chats,
	})
}

// POST /chat/message：REST 发消息。
// sender=user 用用户 token 验属主，sender=agent 用客服 token，
// 所以这条路由不挂统一的鉴权中间件
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req struct {
		ChatID string `json:"chatId"`
		Text   string `json:"text"`
		Sender string `json:"sender"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "invalid request",
		})
	}

	identity, role, err := h.resolveSender(c, req.Sender)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"message": "Authentication required",
		})
	}

	message, _, err := h.chatService.AppendMessage(c.Request().Context(), req.ChatID, req.Text, req.Sender, identity, role)
	if err != nil {
		return h.chatError(c, err, "Error sending message")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
	})
}

func (h *ChatHandler) resolveSender(c echo.Context, sender string) (*services.Identity, services.Role, error) {
	tokenString, err := middleware.ExtractToken(c)
	if err != nil {
		return nil, "", err
	}
	if sender == "agent" {
		identity, err := h.agentService.ValidateToken(tokenString)
		if err != nil {
			return nil, "", err
		}
		return identity, services.RoleAgent, nil
	}
	identity, err := h.authService.ValidateToken(c.Request().Context(), tokenString)
	if err != nil {
		return nil, "", err
	}
	return identity, services.RoleUser, nil
}

// PUT /chat/status/:chatId：属主改状态。closed 之后不可再改
func (h *ChatHandler) UpdateChatStatus(c echo.Context) error {
	identity := middleware.Identity(c)
	chatID := c.Param("chatId")

	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "invalid request",
		})
	}

	chat, err := h.chatService.UpdateStatus(c.Request().Context(), chatID, req.Status, identity)
	if err != nil {
		return h.chatError(c, err, "Error updating chat status")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"chat": map[string]string{
			"chatId": chat.ChatID,
			"status": chat.Status,
		},
	})
}

func (h *ChatHandler) chatError(c echo.Context, err error, fallback string) error {
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"success": false,
			"message": "Chat not found or access denied",
		})
	case errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrInvalidSender),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrChatClosed):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
	default:
		log.Errorf("%s: %v", fallback, err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": fallback,
		})
	}
}
