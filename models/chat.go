package models

import "time"

// 聊天会话，一个客户一个 active 会话
type Chat struct {
	ID            uint          `json:"id" gorm:"primaryKey"`
	ChatID        string        `json:"chat_id" gorm:"uniqueIndex"`
	UserID        *uint         `json:"user_id" gorm:"uniqueIndex"` // 兼容老会话可为空，唯一索引防止并发重复建会话
	UserEmail     string        `json:"user_email" gorm:"index"`
	UserName      string        `json:"user_name"`
	SelectedPlan  PlanSnapshot  `json:"selected_plan" gorm:"embedded;embeddedPrefix:plan_"`
	Messages      []ChatMessage `json:"messages" gorm:"foreignKey:ChatID;references:ChatID"`
	Status        string        `json:"status" gorm:"default:'active'"` // active, pending, closed
	LastActivity  time.Time     `json:"last_activity"`
	IsAgentOnline bool          `json:"is_agent_online"`
	AgentTyping   bool          `json:"agent_typing"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// 消息只增不改
type ChatMessage struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	ChatID    string    `json:"-" gorm:"index"`
	Text      string    `json:"text" gorm:"type:text"`
	Sender    string    `json:"sender"` // user, agent
	Timestamp time.Time `json:"timestamp"`
}

// 套餐快照，创建会话时从前端带入，之后不可变
type PlanSnapshot struct {
	PlanID        string `json:"id"`
	Title         string `json:"title"`
	Subtitle      string `json:"subtitle,omitempty"`
	Price         string `json:"price"`
	OriginalPrice string `json:"originalPrice,omitempty"`
}

func (p PlanSnapshot) IsZero() bool {
	return p.PlanID == "" && p.Title == ""
}

// Plan 返回快照指针，未选套餐时为 nil（JSON 里省略）
func (c *Chat) Plan() *PlanSnapshot {
	if c.SelectedPlan.IsZero() {
		return nil
	}
	p := c.SelectedPlan
	return &p
}

// 对外的完整会话视图，不暴露数据库主键
type ChatProjection struct {
	ChatID       string        `json:"chatId"`
	Messages     []ChatMessage `json:"messages"`
	SelectedPlan *PlanSnapshot `json:"selectedPlan,omitempty"`
	Status       string        `json:"status"`
	UserName     string        `json:"userName"`
	UserEmail    string        `json:"userEmail"`
}

// 列表视图（客服面板、用户会话列表）
type ChatSummary struct {
	ChatID        string        `json:"chatId"`
	UserName      string        `json:"userName,omitempty"`
	UserEmail     string        `json:"userEmail,omitempty"`
	SelectedPlan  *PlanSnapshot `json:"selectedPlan,omitempty"`
	Status        string        `json:"status"`
	LastActivity  time.Time     `json:"lastActivity"`
	MessageCount  int           `json:"messageCount"`
	LastMessage   *ChatMessage  `json:"lastMessage"`
	IsAgentOnline bool          `json:"isAgentOnline"`
	AgentTyping   bool          `json:"agentTyping"`
}

func (c *Chat) Projection() ChatProjection {
	messages := c.Messages
	if messages == nil {
		messages = []ChatMessage{}
	}
	return ChatProjection{
		ChatID:       c.ChatID,
		Messages:     messages,
		SelectedPlan: c.Plan(),
		Status:       c.Status,
		UserName:     c.UserName,
		UserEmail:    c.UserEmail,
	}
}
