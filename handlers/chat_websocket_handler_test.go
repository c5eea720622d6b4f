package handlers

import (
	"context"
	"testing"

	"github.com/Coworker2000/acr/config"
	"github.com/Coworker2000/acr/models"
	"github.com/Coworker2000/acr/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type wsFixture struct {
	db      *gorm.DB
	chats   *services.ChatService
	hub     *Hub
	handler *ChatWebSocketHandler
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrateAll(db))

	authCfg := &config.AuthConfig{JWTSecret: "test-secret", TokenExpiry: 2, AgentTokenExpiry: 24}
	chatService := services.NewChatService(db)
	authService := services.NewAuthService(db, authCfg, nil)
	agentService := services.NewAgentService(authCfg, config.AgentConfig{Username: "admin", Password: "agent123", Name: "Agent"})
	hub := NewHub()
	return &wsFixture{
		db:      db,
		chats:   chatService,
		hub:     hub,
		handler: NewChatWebSocketHandler(chatService, authService, agentService, hub),
	}
}

func (f *wsFixture) connect(t *testing.T, id string, identity *services.Identity) *ChatClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	client := &ChatClient{
		ID:       id,
		Identity: identity,
		Role:     identity.Role,
		Send:     make(chan map[string]interface{}, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
	f.hub.Register(client)
	return client
}

func (f *wsFixture) createChat(t *testing.T, identity *services.Identity) *models.Chat {
	t.Helper()
	chat, err := f.chats.CreateOrGetChat(context.Background(), identity, nil)
	require.NoError(t, err)
	return chat
}

func (f *wsFixture) storedChat(t *testing.T, chatID string) models.Chat {
	t.Helper()
	var chat models.Chat
	require.NoError(t, f.db.Where("chat_id = ?", chatID).First(&chat).Error)
	return chat
}

func customerIdentity() *services.Identity {
	return &services.Identity{UserID: 1, Email: "a@x.com", Name: "Alice", Role: services.RoleUser}
}

func agentIdentity() *services.Identity {
	return &services.Identity{Name: "Agent", Role: services.RoleAgent}
}

func TestAgentJoinLeaveTogglesPresence(t *testing.T) {
	f := newWSFixture(t)
	owner := customerIdentity()
	chat := f.createChat(t, owner)

	customer := f.connect(t, "cust", owner)
	agent := f.connect(t, "agent", agentIdentity())

	f.handler.handleEvent(customer, "join_chat", map[string]interface{}{"chatId": chat.ChatID, "userType": "user"})
	require.Nil(t, nextEvent(customer)) // 客户加入没有广播

	f.handler.handleEvent(agent, "join_chat", map[string]interface{}{"chatId": chat.ChatID, "userType": "agent"})

	assert.True(t, f.storedChat(t, chat.ChatID).IsAgentOnline)
	for _, client := range []*ChatClient{customer, agent} {
		event := nextEvent(client)
		require.NotNil(t, event)
		assert.Equal(t, "agent_status", event["type"])
		payload := event["payload"].(map[string]interface{})
		assert.Equal(t, true, payload["isOnline"])
	}

	f.handler.handleEvent(agent, "leave_chat", map[string]interface{}{"chatId": chat.ChatID, "userType": "agent"})
	stored := f.storedChat(t, chat.ChatID)
	assert.False(t, stored.IsAgentOnline)
	assert.False(t, stored.AgentTyping)

	event := nextEvent(customer)
	require.NotNil(t, event)
	assert.Equal(t, "agent_status", event["type"])
	assert.Equal(t, false, event["payload"].(map[string]interface{})["isOnline"])
}

func TestCustomerCannotJoinForeignChat(t *testing.T) {
	f := newWSFixture(t)
	chat := f.createChat(t, customerIdentity())

	intruder := f.connect(t, "intruder", &services.Identity{UserID: 2, Email: "b@x.com", Name: "Bob", Role: services.RoleUser})
	f.handler.handleEvent(intruder, "join_chat", map[string]interface{}{"chatId": chat.ChatID, "userType": "user"})

	event := nextEvent(intruder)
	require.NotNil(t, event)
	assert.Equal(t, "error", event["type"])
	assert.Equal(t, "", f.hub.RoomOf(intruder))
}

func TestSendMessagePersistsThenBroadcasts(t *testing.T) {
	f := newWSFixture(t)
	owner := customerIdentity()
	chat := f.createChat(t, owner)

	customer := f.connect(t, "cust", owner)
	agent := f.connect(t, "agent", agentIdentity())
	dashboard := f.connect(t, "dash", agentIdentity()) // 大厅里的面板连接

	f.handler.handleEvent(customer, "join_chat", map[string]interface{}{"chatId": chat.ChatID})
	f.handler.handleEvent(agent, "join_chat", map[string]interface{}{"chatId": chat.ChatID})
	// 清掉 join 产生的 agent_status
	for nextEvent(customer) != nil {
	}
	for nextEvent(agent) != nil {
	}
	for nextEvent(dashboard) != nil {
	}

	f.handler.handleEvent(customer, "send_message", map[string]interface{}{
		"chatId":     chat.ChatID,
		"text":       "I need help with my credit report",
		"senderName": "Alice",
	})

	// 落库在广播之前
	history, err := f.chats.History(context.Background(), chat.ChatID, owner, services.RoleUser)
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "user", history.Messages[0].Sender)

	// 房间内（含发送者）收 receive_message
	for _, client := range []*ChatClient{customer, agent} {
		event := nextEvent(client)
		require.NotNil(t, event)
		assert.Equal(t, "receive_message", event["type"])
		payload := event["payload"].(map[string]interface{})
		assert.Equal(t, "I need help with my credit report", payload["text"])
		assert.Equal(t, "Alice", payload["senderName"])
		assert.Equal(t, chat.ChatID, payload["chatId"])
	}

	// 大厅连接收轻量通知
	event := nextEvent(dashboard)
	require.NotNil(t, event)
	assert.Equal(t, "new_message_notification", event["type"])
	payload := event["payload"].(map[string]interface{})
	assert.Equal(t, chat.ChatID, payload["chatId"])
	assert.Equal(t, "a@x.com", payload["userEmail"])
	assert.Equal(t, "I need help with my credit report", payload["lastMessage"])
}

func TestSendMessageToForeignChatReturnsError(t *testing.T) {
	f := newWSFixture(t)
	chat := f.createChat(t, customerIdentity())

	intruder := f.connect(t, "intruder", &services.Identity{UserID: 2, Email: "b@x.com", Name: "Bob", Role: services.RoleUser})
	f.handler.handleEvent(intruder, "send_message", map[string]interface{}{
		"chatId": chat.ChatID,
		"text":   "let me in",
	})

	event := nextEvent(intruder)
	require.NotNil(t, event)
	assert.Equal(t, "error", event["type"])

	// 什么都没写进去
	history, err := f.chats.History(context.Background(), chat.ChatID, nil, services.RoleAgent)
	require.NoError(t, err)
	assert.Empty(t, history.Messages)
}

func TestTypingFlagLifecycle(t *testing.T) {
	f := newWSFixture(t)
	owner := customerIdentity()
	chat := f.createChat(t, owner)

	customer := f.connect(t, "cust", owner)
	agent := f.connect(t, "agent", agentIdentity())
	f.handler.handleEvent(customer, "join_chat", map[string]interface{}{"chatId": chat.ChatID})
	f.handler.handleEvent(agent, "join_chat", map[string]interface{}{"chatId": chat.ChatID})
	for nextEvent(customer) != nil {
	}
	for nextEvent(agent) != nil {
	}

	// 客服开始输入：标记落库，房间内除发送者外收 user_typing
	f.handler.handleEvent(agent, "typing_start", map[string]interface{}{"chatId": chat.ChatID, "userType": "agent"})
	assert.True(t, f.storedChat(t, chat.ChatID).AgentTyping)
	assert.Nil(t, nextEvent(agent))
	event := nextEvent(customer)
	require.NotNil(t, event)
	assert.Equal(t, "user_typing", event["type"])
	payload := event["payload"].(map[string]interface{})
	assert.Equal(t, "agent", payload["userType"])
	assert.Equal(t, true, payload["isTyping"])

	// 没有 stop 就一直是 true
	assert.True(t, f.storedChat(t, chat.ChatID).AgentTyping)

	f.handler.handleEvent(agent, "typing_stop", map[string]interface{}{"chatId": chat.ChatID, "userType": "agent"})
	assert.False(t, f.storedChat(t, chat.ChatID).AgentTyping)

	// 客户的输入状态只转发，不落库
	f.handler.handleEvent(customer, "typing_start", map[string]interface{}{"chatId": chat.ChatID, "userType": "user"})
	assert.False(t, f.storedChat(t, chat.ChatID).AgentTyping)
	event = nextEvent(agent)
	require.NotNil(t, event)
	assert.Equal(t, "user_typing", event["type"])
}

func TestTypingFromForeignChatSilentlyDropped(t *testing.T) {
	f := newWSFixture(t)
	chat := f.createChat(t, customerIdentity())

	intruder := f.connect(t, "intruder", &services.Identity{UserID: 2, Email: "b@x.com", Name: "Bob", Role: services.RoleUser})
	f.handler.handleEvent(intruder, "typing_start", map[string]interface{}{"chatId": chat.ChatID})

	// 静默：不回错误事件
	assert.Nil(t, nextEvent(intruder))
}

func TestUnknownEventIgnored(t *testing.T) {
	f := newWSFixture(t)
	client := f.connect(t, "c", customerIdentity())
	f.handler.handleEvent(client, "play_music", map[string]interface{}{})
	assert.Nil(t, nextEvent(client))
}
