package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"pomelo/internal/ai"
	"pomelo/internal/config"
	"pomelo/internal/handler"
	"pomelo/internal/pkg/cache"
	"pomelo/internal/pkg/jwt"
	"pomelo/internal/pkg/mongodb"
	"pomelo/internal/pkg/storagefactory"
	"pomelo/internal/pkg/tokencount"
	"pomelo/internal/repository"
	"pomelo/internal/server/middleware"
	"pomelo/internal/service/chat"
)

// Server HTTP 服务器
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	mongo  *mongodb.Client
	redis  *cache.RedisCache
}

// New 创建服务器实例
func New(cfg *config.Config) (*Server, error) {
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// 初始化 MongoDB (可选)
	var mongoClient *mongodb.Client
	if cfg.Mongo.URI != "" {
		client, err := mongodb.New(&cfg.Mongo)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to MongoDB, continuing without it")
		} else {
			mongoClient = client
			log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

			if err := mongodb.EnsureIndexes(mongoClient.Database()); err != nil {
				log.Warn().Err(err).Msg("failed to ensure indexes")
			}
		}
	}

	// 初始化 Redis (可选)
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without it")
		} else {
			redisCache = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	srv := &Server{
		cfg:    cfg,
		engine: engine,
		mongo:  mongoClient,
		redis:  redisCache,
	}

	if err := srv.setupRoutes(); err != nil {
		return nil, err
	}

	return srv, nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() error {
	// 全局中间件
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())

	// 健康检查
	healthHandler := handler.NewHealthHandler()
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 模型列表：免认证、按 IP 限速，供模型选择器拉取
	modelsHdl := handler.NewModelsHandler(s.cfg.AI.BaseURL, s.cfg.AI.APIKey, s.redis)
	s.engine.GET("/api/v1/models", modelsHdl.List)

	if s.mongo == nil {
		log.Warn().Msg("MongoDB not configured, API endpoints disabled")
		return nil
	}

	db := s.mongo.Database()
	convRepo := repository.NewConversationRepo(db)
	msgRepo := repository.NewMessageRepo(db)
	attRepo := repository.NewAttachmentRepo(db)
	userRepo := repository.NewUserRepo(db)

	jwtSecret := s.cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		log.Warn().Msg("JWT secret not configured, using default (NOT SECURE for production)")
	}
	jwtUtil := jwt.NewJWT(jwtSecret)

	// 附件存储 (可选)
	processor := chat.NewAttachmentProcessor(nil)
	if s.cfg.Storage.Type != "" {
		store, err := storagefactory.NewStorage(context.Background(), &s.cfg.Storage)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize storage, attachments kept inline only")
		} else {
			processor = chat.NewAttachmentProcessor(store)
		}
	}

	// 配额端点缺省指向本服务自己的 user-settings
	quotaEndpoint := s.cfg.Quota.Endpoint
	if quotaEndpoint == "" {
		quotaEndpoint = fmt.Sprintf("http://127.0.0.1:%d/api/v1/user-settings", s.cfg.Server.Port)
	}

	// token 估算器 (可选)
	var tokens chat.TokenCounter
	if est, err := tokencount.New(); err != nil {
		log.Warn().Err(err).Msg("failed to load token estimator dict, usage backfill disabled")
	} else {
		tokens = est
	}

	// 发送引擎：模型访问失败时服务降级为只读
	var manager *chat.Manager
	viewCache := chat.NewViewCache()
	if s.cfg.AI.APIKey != "" {
		client, err := ai.NewClient(context.Background(), &s.cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize AI client, chat endpoints disabled")
		} else {
			engine := chat.NewEngine(chat.EngineDeps{
				Conversations: convRepo,
				Messages:      msgRepo,
				Attachments:   attRepo,
				Quota:         chat.NewHTTPQuotaGate(quotaEndpoint),
				Completer:     ai.NewFallbackCompleter(client),
				Cache:         viewCache,
				Tokens:        tokens,
				DefaultModel:  s.cfg.AI.Model,
			})
			manager = chat.NewManager(engine)
			log.Info().Str("provider", s.cfg.AI.Provider).Str("model", s.cfg.AI.Model).Msg("initialized chat engine")
		}
	} else {
		log.Warn().Msg("AI API key not configured, chat endpoints disabled")
	}

	// API v1（全部需要认证）
	v1 := s.engine.Group("/api/v1")
	v1.Use(middleware.Auth(jwtUtil))
	{
		settingsHdl := handler.NewUserSettingsHandler(userRepo, s.redis, s.cfg.Quota.DailyLimit)
		v1.GET("/user-settings", settingsHdl.Get)
		v1.POST("/user-settings", settingsHdl.Update)
		v1.PATCH("/user-settings", settingsHdl.CheckQuota)

		attHdl := handler.NewAttachmentHandler(processor, attRepo)
		v1.POST("/attachments", attHdl.Upload)
		v1.GET("/attachments/:id", attHdl.Get)

		if manager != nil {
			convHdl := handler.NewConversationHandler(convRepo, msgRepo, s.redis, viewCache, manager)
			v1.POST("/conversations", convHdl.Create)
			v1.GET("/conversations", convHdl.List)
			v1.GET("/conversations/:id", convHdl.Get)
			v1.PATCH("/conversations/:id", convHdl.Update)
			v1.DELETE("/conversations/:id", convHdl.Delete)
			v1.GET("/conversations/:id/messages", convHdl.Messages)

			chatHdl := handler.NewChatHandler(manager, attRepo)
			v1.POST("/chat", chatHdl.Send)
			v1.POST("/chat/stream", chatHdl.SendStream)
		}
	}

	return nil
}

// Run 启动服务器
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		if s.mongo != nil {
			if err := s.mongo.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close MongoDB connection")
			}
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close Redis connection")
			}
		}

		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
