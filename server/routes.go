package server

import (
	"time"

	"github.com/Coworker2000/acr/limiter"
	custommiddleware "github.com/Coworker2000/acr/middleware"
	"github.com/labstack/echo/v4"
)

func (s *Server) SetupRoutes(authMiddleware echo.MiddlewareFunc, agentMiddleware echo.MiddlewareFunc) {
	e := s.Echo

	// 注册/登录这类接口挂限流，按 IP 固定窗口
	rateLimiter := limiter.NewManager(s.Redis.Client, &limiter.FixedWindowStrategy{})
	loginLimit := custommiddleware.NewRateLimitMiddleware(rateLimiter, custommiddleware.RateLimitConfig{
		Limit:  10,
		Window: time.Minute,
	})

	// Auth routes (unprotected)
	e.POST("/register", s.AuthHandler.Register, loginLimit)
	e.POST("/login", s.AuthHandler.Login, loginLimit)
	e.GET("/auth/providers", s.AuthHandler.GetProviders)
	e.GET("/auth/oauth/:provider", s.AuthHandler.OAuthLogin)
	e.GET("/auth/oauth/:provider/callback", s.AuthHandler.OAuthCallback)

	// 公开路由
	e.GET("/plans", s.PlanHandler.GetPlans)

	// 需要用户认证
	e.GET("/user", s.AuthHandler.GetCurrentUser, authMiddleware)

	chat := e.Group("/chat")
	{
		chat.POST("/create", s.ChatHandler.CreateOrGetChat, authMiddleware)        // 查或建会话
		chat.GET("/history/:chatId", s.ChatHandler.GetChatHistory, authMiddleware) // 属主查历史
		chat.GET("/user/chats", s.ChatHandler.GetUserChats, authMiddleware)        // 自己的会话列表
		chat.PUT("/status/:chatId", s.ChatHandler.UpdateChatStatus, authMiddleware)
		// sender 决定校验哪种 token，鉴权在 handler 里做
		chat.POST("/message", s.ChatHandler.SendMessage)
		// 客服面板
		chat.GET("/active", s.ChatHandler.GetActiveChats, agentMiddleware)
		chat.GET("/agent/history/:chatId", s.ChatHandler.GetAgentChatHistory, agentMiddleware)
	}

	agent := e.Group("/agent")
	{
		agent.POST("/login", s.AgentHandler.Login, loginLimit)
		agent.GET("/info", s.AgentHandler.GetInfo, agentMiddleware)
	}

	// WebSocket：握手时在 handler 内鉴权（用户/客服 token 都接受）
	e.GET("/ws", s.ChatWebSocketHandler.HandleWebSocket)
}
