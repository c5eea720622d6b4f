package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Coworker2000/acr/models"
	"gorm.io/gorm"
)

var (
	// 查不到和无权访问故意不区分，避免向非属主泄露会话是否存在
	ErrChatNotFound       = errors.New("chat not found or access denied")
	ErrIncompleteIdentity = errors.New("missing user information, please login again")
	ErrEmptyMessage       = errors.New("message text is required")
	ErrInvalidSender      = errors.New("invalid sender")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrChatClosed         = errors.New("chat is closed")
)

type ChatService struct {
	db *gorm.DB
}

func NewChatService(db *gorm.DB) *ChatService {
	return &ChatService{db: db}
}

// 会话 ID：毫秒时间戳 + 16 字节随机数，碰撞概率可忽略
func generateChatID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand 不可用时没有降级余地
	}
	return fmt.Sprintf("chat_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}

func preloadMessages(db *gorm.DB) *gorm.DB {
	return db.Order("chat_messages.id ASC")
}

// CreateOrGetChat 返回调用者唯一的会话，没有则新建。
// 先按 user_id 找，找不到再按邮箱兜底（早期会话没有 user_id）。
func (s *ChatService) CreateOrGetChat(ctx context.Context, identity *Identity, plan *models.PlanSnapshot) (*models.Chat, error) {
	if identity == nil || identity.Email == "" || identity.Name == "" {
		return nil, ErrIncompleteIdentity
	}

	chat, err := s.lookupOwned(ctx, identity)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	userID := identity.UserID
	newChat := models.Chat{
		ChatID:       generateChatID(),
		UserEmail:    identity.Email,
		UserName:     identity.Name,
		Status:       "active",
		LastActivity: time.Now(),
		Messages:     []models.ChatMessage{},
	}
	if userID != 0 {
		newChat.UserID = &userID
	}
	if plan != nil {
		newChat.SelectedPlan = *plan
	}
	if err := s.db.WithContext(ctx).Create(&newChat).Error; err != nil {
		// 两个标签页同时首次进聊天:唯一索引挡下后来者，重查返回先建的那条
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.lookupOwned(ctx, identity)
		}
		return nil, err
	}
	return &newChat, nil
}

func (s *ChatService) lookupOwned(ctx context.Context, identity *Identity) (*models.Chat, error) {
	var chat models.Chat
	query := s.db.WithContext(ctx).Preload("Messages", preloadMessages)
	if identity.UserID != 0 {
		err := query.Where("user_id = ?", identity.UserID).First(&chat).Error
		if err == nil {
			return &chat, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		query = s.db.WithContext(ctx).Preload("Messages", preloadMessages)
	}
	if err := query.Where("user_email = ?", identity.Email).First(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

// FindAuthorized 是 REST 和 WebSocket 共用的所有权检查：
// 客户必须是会话属主（按 id，老会话按邮箱），客服不受限
func (s *ChatService) FindAuthorized(ctx context.Context, chatID string, identity *Identity, role Role) (*models.Chat, error) {
	var chat models.Chat
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	if role == RoleAgent {
		return &chat, nil
	}
	if identity == nil {
		return nil, ErrChatNotFound
	}
	if chat.UserID != nil {
		if *chat.UserID != identity.UserID {
			return nil, ErrChatNotFound
		}
	} else if chat.UserEmail != identity.Email {
		return nil, ErrChatNotFound
	}
	return &chat, nil
}

// History 返回带完整消息记录的会话视图
func (s *ChatService) History(ctx context.Context, chatID string, identity *Identity, role Role) (*models.Chat, error) {
	chat, err := s.FindAuthorized(ctx, chatID, identity, role)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).
		Where("chat_id = ?", chat.ChatID).
		Order("id ASC").
		Find(&chat.Messages).Error; err != nil {
		return nil, err
	}
	return chat, nil
}

// AppendMessage 追加一条消息并推进 last_activity，两者在同一事务里。
// 时间戳由服务端在此处赋值，同一会话内追加串行所以单调。
// 返回所属会话，方便调用方拿属主信息做通知
func (s *ChatService) AppendMessage(ctx context.Context, chatID, text, sender string, identity *Identity, role Role) (*models.ChatMessage, *models.Chat, error) {
	if text == "" {
		return nil, nil, ErrEmptyMessage
	}
	if sender != "user" && sender != "agent" {
		return nil, nil, ErrInvalidSender
	}
	chat, err := s.FindAuthorized(ctx, chatID, identity, role)
	if err != nil {
		return nil, nil, err
	}

	message := models.ChatMessage{
		ChatID:    chat.ChatID,
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&message).Error; err != nil {
			return err
		}
		return tx.Model(&models.Chat{}).
			Where("chat_id = ?", chat.ChatID).
			Update("last_activity", message.Timestamp).Error
	})
	if err != nil {
		return nil, nil, err
	}
	chat.LastActivity = message.Timestamp
	return &message, chat, nil
}

// ActiveChats 客服面板：所有 active 会话按最近活跃倒序，不分页
func (s *ChatService) ActiveChats(ctx context.Context) ([]models.ChatSummary, error) {
	var chats []models.Chat
	err := s.db.WithContext(ctx).
		Preload("Messages", preloadMessages).
		Where("status = ?", "active").
		Order("last_activity DESC").
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	return summarize(chats), nil
}

// UserChats 当前用户自己的会话列表
func (s *ChatService) UserChats(ctx context.Context, identity *Identity) ([]models.ChatSummary, error) {
	if identity == nil {
		return nil, ErrIncompleteIdentity
	}
	var chats []models.Chat
	err := s.db.WithContext(ctx).
		Preload("Messages", preloadMessages).
		Where("user_id = ? OR (user_id IS NULL AND user_email = ?)", identity.UserID, identity.Email).
		Order("last_activity DESC").
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	return summarize(chats), nil
}

func summarize(chats []models.Chat) []models.ChatSummary {
	summaries := make([]models.ChatSummary, 0, len(chats))
	for i := range chats {
		chat := &chats[i]
		summary := models.ChatSummary{
			ChatID:        chat.ChatID,
			UserName:      chat.UserName,
			UserEmail:     chat.UserEmail,
			SelectedPlan:  chat.Plan(),
			Status:        chat.Status,
			LastActivity:  chat.LastActivity,
			MessageCount:  len(chat.Messages),
			IsAgentOnline: chat.IsAgentOnline,
			AgentTyping:   chat.AgentTyping,
		}
		if n := len(chat.Messages); n > 0 {
			last := chat.Messages[n-1]
			summary.LastMessage = &last
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// UpdateStatus 属主改会话状态。closed 是终态，不允许改回
func (s *ChatService) UpdateStatus(ctx context.Context, chatID, status string, identity *Identity) (*models.Chat, error) {
	if status != "active" && status != "pending" && status != "closed" {
		return nil, ErrInvalidStatus
	}
	chat, err := s.FindAuthorized(ctx, chatID, identity, RoleUser)
	if err != nil {
		return nil, err
	}
	if chat.Status == "closed" {
		return nil, ErrChatClosed
	}
	now := time.Now()
	err = s.db.WithContext(ctx).Model(&models.Chat{}).
		Where("chat_id = ?", chat.ChatID).
		Updates(map[string]interface{}{"status": status, "last_activity": now}).Error
	if err != nil {
		return nil, err
	}
	chat.Status = status
	chat.LastActivity = now
	return chat, nil
}

// SetAgentPresence 客服上线/下线，下线时顺带清掉输入中标记
func (s *ChatService) SetAgentPresence(ctx context.Context, chatID string, online bool) error {
	updates := map[string]interface{}{"is_agent_online": online}
	if !online {
		updates["agent_typing"] = false
	}
	return s.db.WithContext(ctx).Model(&models.Chat{}).
		Where("chat_id = ?", chatID).
		Updates(updates).Error
}

func (s *ChatService) SetAgentTyping(ctx context.Context, chatID string, typing bool) error {
	return s.db.WithContext(ctx).Model(&models.Chat{}).
		Where("chat_id = ?", chatID).
		Update("agent_typing", typing).Error
}
