package server

import (
	"github.com/Coworker2000/acr/config"
	"github.com/Coworker2000/acr/handlers"
	custommiddleware "github.com/Coworker2000/acr/middleware"
	"github.com/Coworker2000/acr/models"
	"github.com/Coworker2000/acr/redis"
	"github.com/Coworker2000/acr/services"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Server struct {
	Echo                 *echo.Echo
	DB                   *gorm.DB
	Config               *config.Config
	Redis                *redis.RedisClient
	Hub                  *handlers.Hub
	AuthHandler          *handlers.AuthHandler
	AgentHandler         *handlers.AgentHandler
	ChatHandler          *handlers.ChatHandler
	ChatWebSocketHandler *handlers.ChatWebSocketHandler
	PlanHandler          *handlers.PlanHandler
	AuthService          *services.AuthService
	AgentService         *services.AgentService
}

func NewServer() *Server {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// TranslateError 让唯一索引冲突映射成 gorm.ErrDuplicatedKey，
	// 会话的并发首建去重依赖它
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := models.AutoMigrateAll(db); err != nil {
		log.Fatal("Failed to auto-migrate database:", err)
	}

	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}

	// 初始化 Echo
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.Server.ClientURL},
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.PATCH},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		ExposeHeaders:    []string{echo.HeaderContentLength},
		MaxAge:           86400,
	}))

	profileCache := redis.NewProfileCache(redisClient)
	authService := services.NewAuthService(db, &cfg.Auth, profileCache)
	oauthService := services.NewOAuthService(&cfg.Auth)
	agentService := services.NewAgentService(&cfg.Auth, cfg.Agent)
	chatService := services.NewChatService(db)

	// Hub 在入口处构造并显式传入，不做包级单例
	hub := handlers.NewHub()

	authHandler := handlers.NewAuthHandler(authService, oauthService, cfg.Server.ClientURL)
	agentHandler := handlers.NewAgentHandler(agentService)
	chatHandler := handlers.NewChatHandler(chatService, authService, agentService)
	chatWebSocketHandler := handlers.NewChatWebSocketHandler(chatService, authService, agentService, hub)
	planHandler := handlers.NewPlanHandler()

	s := &Server{
		Echo:                 e,
		DB:                   db,
		Config:               &cfg,
		Redis:                redisClient,
		Hub:                  hub,
		AuthHandler:          authHandler,
		AgentHandler:         agentHandler,
		ChatHandler:          chatHandler,
		ChatWebSocketHandler: chatWebSocketHandler,
		PlanHandler:          planHandler,
		AuthService:          authService,
		AgentService:         agentService,
	}

	// --- 设置路由 ---
	authMiddleware := custommiddleware.AuthMiddleware(authService)
	agentMiddleware := custommiddleware.AgentMiddleware(agentService)
	s.SetupRoutes(authMiddleware, agentMiddleware)
	return s
}

func (s *Server) Start(addr string) {
	log.Fatal(s.Echo.Start(addr))
}
