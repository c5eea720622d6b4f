package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/Coworker2000/acr/middleware"
	"github.com/Coworker2000/acr/services"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 事件帧：{"type": "...", "payload": {...}}
// 入站事件：join_chat / leave_chat / send_message / typing_start / typing_stop
// 出站事件：receive_message / new_message_notification / user_typing /
//
//	agent_status / error / message_error
type ChatWebSocketHandler struct {
	chatService  *services.ChatService
	authService  *services.AuthService
	agentService *services.AgentService
	hub          *Hub
}

func NewChatWebSocketHandler(chatService *services.ChatService, authService *services.AuthService, agentService *services.AgentService, hub *Hub) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{
		chatService:  chatService,
		authService:  authService,
		agentService: agentService,
		hub:          hub,
	}
}

// HandleWebSocket 握手时鉴权，token 无效直接拒绝连接（不升级）。
// 用户 token 和客服 token 都接受，角色跟着 token 走
func (h *ChatWebSocketHandler) HandleWebSocket(c echo.Context) error {
	tokenString, err := middleware.ExtractToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
	}

	identity, err := h.agentService.ValidateToken(tokenString)
	if err != nil {
		identity, err = h.authService.ValidateToken(c.Request().Context(), tokenString)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &ChatClient{
		ID:       uuid.New().String(),
		Identity: identity,
		Role:     identity.Role,
		Conn:     ws,
		Send:     make(chan map[string]interface{}, 256),
		ctx:      ctx,
		cancel:   cancel,
	}

	h.hub.Register(client)

	go h.writePump(client)
	h.readPump(client)

	return nil
}

func (h *ChatWebSocketHandler) readPump(client *ChatClient) {
	defer func() {
		client.cancel()
		// 断线等同显式离开：客服掉线也要清掉在线/输入中标记
		if roomID := h.hub.RoomOf(client); roomID != "" {
			h.leaveRoom(client, roomID)
		}
		h.hub.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var frame struct {
			Type    string                 `json:"type"`
			Payload map[string]interface{} `json:"payload"`
		}
		err := client.Conn.ReadJSON(&frame)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		h.handleEvent(client, frame.Type, frame.Payload)
	}
}

func (h *ChatWebSocketHandler) writePump(client *ChatClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case <-client.ctx.Done():
			return

		case message := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteJSON(message); err != nil {
				log.Printf("WriteJSON error: %v", err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *ChatWebSocketHandler) handleEvent(client *ChatClient, eventType string, payload map[string]interface{}) {
	chatID, _ := payload["chatId"].(string)

	switch eventType {
	case "join_chat":
		h.handleJoin(client, chatID)
	case "leave_chat":
		h.handleLeave(client, chatID)
	case "send_message":
		text, _ := payload["text"].(string)
		senderName, _ := payload["senderName"].(string)
		h.handleSendMessage(client, chatID, text, senderName)
	case "typing_start":
		h.handleTyping(client, chatID, true)
	case "typing_stop":
		h.handleTyping(client, chatID, false)
	}
	// 未知事件直接忽略
}

// 加入房间。客户要过所有权检查，客服随意且顺带把在线标记置位并广播
func (h *ChatWebSocketHandler) handleJoin(client *ChatClient, chatID string) {
	ctx := client.ctx
	if _, err := h.chatService.FindAuthorized(ctx, chatID, client.Identity, client.Role); err != nil {
		h.emitError(client, "error", err)
		return
	}

	h.hub.JoinRoom(client, chatID)

	if client.Role == services.RoleAgent {
		if err := h.chatService.SetAgentPresence(ctx, chatID, true); err != nil {
			log.Printf("Failed to set agent presence: %v", err)
		}
		h.hub.BroadcastToRoom(chatID, map[string]interface{}{
			"type": "agent_status",
			"payload": map[string]interface{}{
				"isOnline": true,
			},
		}, "")
	}
}

func (h *ChatWebSocketHandler) handleLeave(client *ChatClient, chatID string) {
	if h.hub.RoomOf(client) != chatID {
		return
	}
	h.leaveRoom(client, chatID)
}

func (h *ChatWebSocketHandler) leaveRoom(client *ChatClient, chatID string) {
	h.hub.LeaveRoom(client, chatID)

	if client.Role == services.RoleAgent {
		if err := h.chatService.SetAgentPresence(context.Background(), chatID, false); err != nil {
			log.Printf("Failed to clear agent presence: %v", err)
		}
		h.hub.BroadcastToRoom(chatID, map[string]interface{}{
			"type": "agent_status",
			"payload": map[string]interface{}{
				"isOnline": false,
			},
		}, "")
	}
}

// 发消息：先落库再广播，落库失败只回错误给发送者，不广播。
// 同一会话内的顺序由"追加+广播在同一条处理路径上"保证
func (h *ChatWebSocketHandler) handleSendMessage(client *ChatClient, chatID, text, senderName string) {
	sender := client.userType()
	message, chat, err := h.chatService.AppendMessage(client.ctx, chatID, text, sender, client.Identity, client.Role)
	if err != nil {
		if errors.Is(err, services.ErrChatNotFound) || errors.Is(err, services.ErrEmptyMessage) {
			h.emitError(client, "error", err)
			return
		}
		h.emitError(client, "message_error", err)
		return
	}

	h.hub.BroadcastToRoom(chatID, map[string]interface{}{
		"type": "receive_message",
		"payload": map[string]interface{}{
			"chatId":     chatID,
			"text":       message.Text,
			"sender":     message.Sender,
			"senderName": senderName,
			"timestamp":  message.Timestamp,
		},
	}, "")

	// 大厅里的连接（客服面板）收轻量通知，不用进房间也能刷新列表
	h.hub.BroadcastToLobby(map[string]interface{}{
		"type": "new_message_notification",
		"payload": map[string]interface{}{
			"chatId":      chat.ChatID,
			"userName":    chat.UserName,
			"userEmail":   chat.UserEmail,
			"lastMessage": message.Text,
			"sender":      message.Sender,
		},
	})
}

// 输入中状态：过所有权检查但失败时静默丢弃，
// 页面切换时的竞态不值得给用户弹错误。
// 客服的输入中状态落到会话标记上，客户的只转发不存
func (h *ChatWebSocketHandler) handleTyping(client *ChatClient, chatID string, isTyping bool) {
	ctx := client.ctx
	if _, err := h.chatService.FindAuthorized(ctx, chatID, client.Identity, client.Role); err != nil {
		return
	}

	if client.Role == services.RoleAgent {
		if err := h.chatService.SetAgentTyping(ctx, chatID, isTyping); err != nil {
			log.Printf("Failed to update typing flag: %v", err)
		}
	}

	h.hub.BroadcastToRoom(chatID, map[string]interface{}{
		"type": "user_typing",
		"payload": map[string]interface{}{
			"userType": client.userType(),
			"isTyping": isTyping,
		},
	}, client.ID)
}

func (h *ChatWebSocketHandler) emitError(client *ChatClient, eventType string, err error) {
	message := "Server error"
	if errors.Is(err, services.ErrChatNotFound) ||
		errors.Is(err, services.ErrEmptyMessage) ||
		errors.Is(err, services.ErrInvalidSender) {
		message = err.Error()
	}
	h.hub.Emit(client, map[string]interface{}{
		"type": eventType,
		"payload": map[string]interface{}{
			"message": message,
		},
	})
}
