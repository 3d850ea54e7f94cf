// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"lingua-chat-go/internal/config"
	"lingua-chat-go/internal/handler"
	"lingua-chat-go/internal/middleware"
	"lingua-chat-go/internal/model"
	"lingua-chat-go/internal/pipeline"
	"lingua-chat-go/internal/realtime"
	"lingua-chat-go/internal/repository"
	"lingua-chat-go/internal/service"
	"lingua-chat-go/internal/tutor"
	"lingua-chat-go/pkg/database"
	"lingua-chat-go/pkg/es"
	"lingua-chat-go/pkg/kafka"
	"lingua-chat-go/pkg/llm"
	"lingua-chat-go/pkg/log"
	"lingua-chat-go/pkg/storage"
	"lingua-chat-go/pkg/token"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN,
		&model.User{},
		&model.LearningSet{},
		&model.VocabularyItem{},
		&model.GrammarTopic{},
		&model.ChatSession{},
		&model.ChatMessage{},
	)
	if err := database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB); err != nil {
		log.Warnf("Redis 初始化失败，将以单实例模式运行: %v", err)
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	learningSetRepo := repository.NewLearningSetRepository(database.DB)
	chatRepo := repository.NewChatRepository(database.DB)

	// 5. 实时连接注册表
	instanceID := cfg.Chat.InstanceID
	if instanceID == "" {
		host, _ := os.Hostname()
		instanceID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	fanout := realtime.NewFanout(rootCtx, database.RDB, instanceID, time.Duration(cfg.Chat.PresenceTTLSeconds)*time.Second)
	registry := realtime.NewRegistry(fanout)
	go func() {
		if err := registry.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			log.Errorf("跨实例广播订阅退出: %v", err)
		}
	}()

	// 6. 可选组件：Kafka、Elasticsearch、MinIO
	var publisher service.TurnPublisher
	var producer *kafka.Producer
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		publisher = producer
	} else {
		log.Warnf("未配置 Kafka，对话事件将不会发布")
	}

	var searchService service.SearchService
	var indexer pipeline.MessageIndexer
	if cfg.Elasticsearch.Addresses != "" {
		client, err := es.InitES(cfg.Elasticsearch)
		if err != nil {
			log.Errorf("es 初始化失败 %s", err)
			return
		}
		index := es.NewMessageIndex(client, cfg.Elasticsearch.IndexName)
		indexer = index
		searchService = service.NewSearchService(index)
	} else {
		log.Warnf("未配置 Elasticsearch，消息检索不可用")
	}

	var archive service.TranscriptArchive
	if cfg.MinIO.Endpoint != "" {
		client, err := storage.InitMinIO(rootCtx, cfg.MinIO)
		if err != nil {
			log.Errorf("MinIO 初始化失败 %s", err)
			return
		}
		expiry := time.Duration(cfg.MinIO.PresignExpiryMinutes) * time.Minute
		archive = service.NewTranscriptArchive(storage.NewObjectStore(client, cfg.MinIO.BucketName, expiry))
	} else {
		log.Warnf("未配置 MinIO，会话记录不会归档")
	}

	// 7. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	engine := tutor.NewEngine(llm.NewClient(cfg.LLM), cfg.LLM, cfg.Chat.HistoryLimit)
	userService := service.NewUserService(userRepo, jwtManager, database.RDB)
	sessionService := service.NewSessionService(chatRepo, learningSetRepo, registry, engine, archive)
	chatService := service.NewChatService(chatRepo, learningSetRepo, engine, registry, publisher, cfg.Chat.FallbackReply)

	// 8. 启动后台 Kafka 消费者
	if cfg.Kafka.Brokers != "" {
		processor := pipeline.NewProcessor(chatRepo, indexer)
		go kafka.StartConsumer(rootCtx, cfg.Kafka, database.RDB, processor)
	}

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	userHandler := handler.NewUserHandler(userService)
	sessionHandler := handler.NewSessionHandler(sessionService, engine)
	chatHandler := handler.NewChatHandler(chatService, sessionService, userService, jwtManager, registry, cfg.Chat)
	searchHandler := handler.NewSearchHandler(searchService)
	authMiddleware := middleware.AuthMiddleware(jwtManager, userService)

	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			authed := users.Group("/")
			authed.Use(authMiddleware)
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		chat := apiV1.Group("/chat")
		{
			// WebSocket 通过查询参数 token 认证，不经过 AuthMiddleware
			chat.GET("/ws/:sessionId", chatHandler.Handle)

			authed := chat.Group("")
			authed.Use(authMiddleware)
			{
				authed.POST("/sessions", sessionHandler.Create)
				authed.GET("/sessions", sessionHandler.List)
				authed.GET("/sessions/:id", sessionHandler.Get)
				authed.GET("/sessions/:id/messages", sessionHandler.Messages)
				authed.PUT("/sessions/:id/end", sessionHandler.End)
				authed.GET("/sessions/:id/starter", sessionHandler.Starter)
				authed.POST("/sessions/:id/analyze", sessionHandler.Analyze)
				authed.GET("/sessions/:id/participants", sessionHandler.Participants)
				authed.GET("/sessions/:id/transcript", sessionHandler.Transcript)
				authed.GET("/search", searchHandler.SearchMessages)
				authed.GET("/ai/health", sessionHandler.AIHealth)
				authed.GET("/connections", middleware.RequireRoles(model.RoleTeacher), chatHandler.Connections)
			}
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s, instance: %s", srv.Addr, instanceID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown 不会等待已劫持的 WebSocket 连接
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	if n := registry.CloseAll(websocket.CloseGoingAway, "server shutting down"); n > 0 {
		log.Infof("已关闭 %d 个 WebSocket 连接", n)
	}
	cancelRoot()
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("Kafka producer 关闭失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}
