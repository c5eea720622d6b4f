package handlers

import (
	"context"
	"log"
	"sync"

	"github.com/Coworker2000/acr/services"
	"github.com/gorilla/websocket"
)

// 聊天客户端，代表一个 WebSocket 连接
type ChatClient struct {
	ID       string // 连接唯一标识（UUID）
	Identity *services.Identity
	Role     services.Role
	Conn     *websocket.Conn
	Send     chan map[string]interface{} // 发送队列（缓冲256条）
	ctx      context.Context
	cancel   context.CancelFunc
}

func (c *ChatClient) userType() string {
	if c.Role == services.RoleAgent {
		return "agent"
	}
	return "user"
}

// Hub 按 chatId 分房间的进程内广播器。
// 没进房间的连接留在大厅，收全局的新消息通知（客服面板刷新用）。
// 消息先落库再广播，所以这里不再需要每房间一个分发协程，
// 事件处理线程内直接扇出
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*ChatClient            // 所有在线连接
	rooms   map[string]map[string]*ChatClient // chatId -> clientID -> client
	inRoom  map[string]string                 // clientID -> chatId
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*ChatClient),
		rooms:   make(map[string]map[string]*ChatClient),
		inRoom:  make(map[string]string),
	}
}

func (h *Hub) Register(client *ChatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

// Unregister 摘除连接并返回它离开前所在的房间（没进房间返回空串）
func (h *Hub) Unregister(client *ChatClient) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	roomID := h.inRoom[client.ID]
	h.removeFromRoomLocked(client.ID, roomID)
	delete(h.clients, client.ID)
	// Send 通道不关闭，writePump 靠 ctx 退出，避免并发投递时写已关闭通道
	client.cancel()
	return roomID
}

// JoinRoom 把连接挪进房间。一个连接同时只在一个房间里
func (h *Hub) JoinRoom(client *ChatClient, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev := h.inRoom[client.ID]; prev != "" {
		h.removeFromRoomLocked(client.ID, prev)
	}
	room := h.rooms[chatID]
	if room == nil {
		room = make(map[string]*ChatClient)
		h.rooms[chatID] = room
	}
	room[client.ID] = client
	h.inRoom[client.ID] = chatID
}

func (h *Hub) LeaveRoom(client *ChatClient, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inRoom[client.ID] != chatID {
		return
	}
	h.removeFromRoomLocked(client.ID, chatID)
}

func (h *Hub) removeFromRoomLocked(clientID, chatID string) {
	if chatID == "" {
		return
	}
	if room, ok := h.rooms[chatID]; ok {
		delete(room, clientID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
	delete(h.inRoom, clientID)
}

// RoomOf 返回连接当前所在房间
func (h *Hub) RoomOf(client *ChatClient) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inRoom[client.ID]
}

// BroadcastToRoom 给房间内所有连接发事件，exceptID 非空时跳过该连接
func (h *Hub) BroadcastToRoom(chatID string, data map[string]interface{}, exceptID string) {
	h.mu.RLock()
	targets := make([]*ChatClient, 0, len(h.rooms[chatID]))
	for id, client := range h.rooms[chatID] {
		if id == exceptID {
			continue
		}
		targets = append(targets, client)
	}
	h.mu.RUnlock()
	h.deliver(targets, data)
}

// BroadcastToLobby 给所有不在任何房间里的连接发事件
func (h *Hub) BroadcastToLobby(data map[string]interface{}) {
	h.mu.RLock()
	targets := make([]*ChatClient, 0, len(h.clients))
	for id, client := range h.clients {
		if h.inRoom[id] != "" {
			continue
		}
		targets = append(targets, client)
	}
	h.mu.RUnlock()
	h.deliver(targets, data)
}

// Emit 只发给单个连接（错误反馈用）
func (h *Hub) Emit(client *ChatClient, data map[string]interface{}) {
	h.deliver([]*ChatClient{client}, data)
}

func (h *Hub) deliver(targets []*ChatClient, data map[string]interface{}) {
	for _, client := range targets {
		select {
		case client.Send <- data:
		default:
			// 发送缓冲满说明消费端已经挂了，直接断开
			log.Printf("Client %s send buffer full, disconnecting", client.ID)
			client.cancel()
		}
	}
}
