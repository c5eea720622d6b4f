package services

import (
	"context"
	"testing"
	"time"

	"github.com/Coworker2000/acr/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	// 内存库是按连接隔离的，锁死单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrateAll(db))
	return db
}

func userIdentity(id uint, email, name string) *Identity {
	return &Identity{UserID: id, Email: email, Name: name, Role: RoleUser}
}

func TestCreateOrGetChatIdempotent(t *testing.T) {
	svc := NewChatService(newTestDB(t))
	ctx := context.Background()
	identity := userIdentity(1, "a@x.com", "Alice")

	first, err := svc.CreateOrGetChat(ctx, identity, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ChatID)
	assert.Equal(t, "active", first.Status)
	assert.Equal(t, "a@x.com", first.UserEmail)

	_, _, err = svc.AppendMessage(ctx, first.ChatID, "hello", "user", identity, RoleUser)
	require.NoError(t, err)

	second, err := svc.CreateOrGetChat(ctx, identity, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ChatID, second.ChatID)
	require.Len(t, second.Messages, 1)
	assert.Equal(t, "hello", second.Messages[0].Text)
}

func TestCreateOrGetChatRejectsIncompleteIdentity(t *testing.T) {
	svc := NewChatService(newTestDB(t))

	_, err := svc.CreateOrGetChat(context.Background(), &Identity{UserID: 1, Email: "a@x.com"}, nil)
	assert.ErrorIs(t, err, ErrIncompleteIdentity)

	_, err = svc.CreateOrGetChat(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrIncompleteIdentity)
}

func TestCreateOrGetChatEmailFallbackForLegacyChat(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db)
	ctx := context.Background()

	// 老数据：没有 user_id，只有邮箱
	legacy := models.Chat{
		ChatID:       "chat_1_legacy",
		UserEmail:    "old@x.com",
		UserName:     "Old",
		Status:       "active",
		LastActivity: time.Now(),
	}
	require.NoError(t, db.Create(&legacy).Error)

	chat, err := svc.CreateOrGetChat(ctx, userIdentity(7, "old@x.com", "Old"), nil)
	require.NoError(t, err)
	assert.Equal(t, "chat_1_legacy", chat.ChatID)
}

func TestCreateOrGetChatKeepsExistingPlanSnapshot(t *testing.T) {
	svc := NewChatService(newTestDB(t))
	ctx := context.Background()
	identity := userIdentity(2, "b@x.com", "Bob")

	first, err := svc.CreateOrGetChat(ctx, identity, &models.PlanSnapshot{PlanID: "super-sale", Title: "Super Sale", Price: "$399"})
	require.NoError(t, err)

	// 第二次带不同套餐进来，快照不可变
	second, err := svc.CreateOrGetChat(ctx, identity, &models.PlanSnapshot{PlanID: "vip-fast-track", Title: "VIP", Price: "$750"})
	require.NoError(t, err)
	assert.Equal(t, first.ChatID, second.ChatID)
	require.NotNil(t, second.Plan())
	assert.Equal(t, "super-sale", second.Plan().PlanID)
}

func TestAppendMessageAdvancesActivity(t *testing.T) {
	svc := NewChatService(newTestDB(t))
	ctx := context.Background()
	identity := userIdentity(3, "c@x.com", "Cara")

	chat, err := svc.CreateOrGetChat(ctx, identity, nil)
	require.NoError(t, err)
	created := chat.LastActivity

	time.Sleep(5 * time.Millisecond)
	msg, updated, err := svc.AppendMessage(ctx, chat.ChatID, "first", "user", identity, RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "user", msg.Sender)
	assert.True(t, updated.LastActivity.After(created))

	history, err := svc.History(ctx, chat.ChatID, identity, RoleUser)
	require.NoError(t, err)
	assert.Len(t, history.Messages, 1)

	_, _, err = svc.AppendMessage(ctx, chat.ChatID, "second", "agent", nil, RoleAgent)
	require.NoError(t, err)
	history, err = svc.History(ctx, chat.ChatID, identity, RoleUser)
	require.NoError(t, err)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "first", history.Messages[0].Text)
	assert.Equal(t, "second", history.Messages[1].Text)
}

func TestAppendMessageValidation(t *testing.T) {
	svc := NewChatService(newTestDB(t))
	ctx := context.Background()
	identity := userIdentity(4, "d@x.com", "Dan")
	chat, err := svc.CreateOrGetChat(ctx, identity, nil)
	require.NoError(t, err)

	_, _, err = svc.AppendMessage(ctx, chat.ChatID, "", "user", identity, RoleUser)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, _, err = svc.AppendMessage(ctx, chat.ChatID, "hi", "system", identity, RoleUser)
	assert.ErrorIs(t, err, ErrInvalidSender)
}

func TestOwnershipEnforcement(t *testing.T) {
	svc := NewChatService(newTestDB(t))
	ctx := context.Background()
	alice := userIdentity(1, "a@x.com", "Alice")
	bob := userIdentity(2, "b@x.com", "Bob")

	chat, err := svc.CreateOrGetChat(ctx, alice, nil)
	require.NoError(t, err)

	// 非属主读写都挡掉，错误不区分"不存在"和"无权"
	_, err = svc.History(ctx, chat.ChatID, bob, RoleUser)
	assert.ErrorIs(t, err, ErrChatNotFound)
	_, _, err = svc.AppendMessage(ctx, chat.ChatID, "intrude", "user", bob, RoleUser)
	assert.ErrorIs(t, err, ErrChatNotFound)
	_, err = svc.History(ctx, "chat_does_not_exist", bob, RoleUser)
	assert.ErrorIs(t, err, ErrChatNotFound)

	// 客服不受限
	_, err = svc.History(ctx, chat.ChatID, nil, RoleAgent)
	assert.NoError(t, err)
	_, _, err = svc.AppendMessage(ctx, chat.ChatID, "hi, this is support", "agent", nil, RoleAgent)
	assert.NoError(t, err)
}

func TestUpdateStatusTransitions(t *testing.T) {
	svc := NewChatService(newTestDB(t))
	ctx := context.Background()
	identity := userIdentity(5, "e@x.com", "Eve")
	other := userIdentity(6, "f@x.com", "Frank")

	chat, err := svc.CreateOrGetChat(ctx, identity, nil)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, chat.ChatID, "archived", identity)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.UpdateStatus(ctx, chat.ChatID, "closed", other)
	assert.ErrorIs(t, err, ErrChatNotFound)

	updated, err := svc.UpdateStatus(ctx, chat.ChatID, "closed", identity)
	require.NoError(t, err)
	assert.Equal(t, "closed", updated.Status)

	// closed 是终态
	_, err = svc.UpdateStatus(ctx, chat.ChatID, "active", identity)
	assert.ErrorIs(t, err, ErrChatClosed)
}

func TestActiveChatsSummaries(t *testing.T) {
	svc := NewChatService(newTestDB(t))
	ctx := context.Background()
	alice := userIdentity(1, "a@x.com", "Alice")
	bob := userIdentity(2, "b@x.com", "Bob")

	chatA, err := svc.CreateOrGetChat(ctx, alice, nil)
	require.NoError(t, err)
	chatB, err := svc.CreateOrGetChat(ctx, bob, nil)
	require.NoError(t, err)

	_, _, err = svc.AppendMessage(ctx, chatB.ChatID, "newest", "user", bob, RoleUser)
	require.NoError(t, err)

	// 关掉的会话不出现在面板里
	closed, err := svc.CreateOrGetChat(ctx, userIdentity(3, "c@x.com", "Cara"), nil)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, closed.ChatID, "closed", userIdentity(3, "c@x.com", "Cara"))
	require.NoError(t, err)

	summaries, err := svc.ActiveChats(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	// 最近活跃在前
	assert.Equal(t, chatB.ChatID, summaries[0].ChatID)
	assert.Equal(t, chatA.ChatID, summaries[1].ChatID)
	assert.Equal(t, 1, summaries[0].MessageCount)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "newest", summaries[0].LastMessage.Text)
	assert.Nil(t, summaries[1].LastMessage)
}

func TestUserChatsOnlyOwn(t *testing.T) {
	svc := NewChatService(newTestDB(t))
	ctx := context.Background()
	alice := userIdentity(1, "a@x.com", "Alice")
	bob := userIdentity(2, "b@x.com", "Bob")

	chatA, err := svc.CreateOrGetChat(ctx, alice, nil)
	require.NoError(t, err)
	_, err = svc.CreateOrGetChat(ctx, bob, nil)
	require.NoError(t, err)

	chats, err := svc.UserChats(ctx, alice)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, chatA.ChatID, chats[0].ChatID)
}

func TestAgentPresenceFlags(t *testing.T) {
	db := newTestDB(t)
	svc := NewChatService(db)
	ctx := context.Background()
	identity := userIdentity(1, "a@x.com", "Alice")

	chat, err := svc.CreateOrGetChat(ctx, identity, nil)
	require.NoError(t, err)

	require.NoError(t, svc.SetAgentPresence(ctx, chat.ChatID, true))
	require.NoError(t, svc.SetAgentTyping(ctx, chat.ChatID, true))

	var stored models.Chat
	require.NoError(t, db.Where("chat_id = ?", chat.ChatID).First(&stored).Error)
	assert.True(t, stored.IsAgentOnline)
	assert.True(t, stored.AgentTyping)

	// 下线顺带清输入中标记
	require.NoError(t, svc.SetAgentPresence(ctx, chat.ChatID, false))
	require.NoError(t, db.Where("chat_id = ?", chat.ChatID).First(&stored).Error)
	assert.False(t, stored.IsAgentOnline)
	assert.False(t, stored.AgentTyping)
}

func TestGenerateChatIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateChatID()
		assert.False(t, seen[id])
		seen[id] = true
		assert.Contains(t, id, "chat_")
	}
}
