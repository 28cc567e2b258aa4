// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/config"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/handler"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/middleware"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/model"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/pipeline"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/repository"
	"github.com/Pasterwitz/Quorial-SoftwareDev/internal/service"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/database"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/embedding"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/es"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/kafka"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/llm"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/log"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/storage"
	"github.com/Pasterwitz/Quorial-SoftwareDev/pkg/token"
	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与索引
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(&model.User{}, &model.ArticleChunk{}); err != nil {
		log.Fatalf("数据库表结构迁移失败: %v", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	esClient, err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatalf("es 初始化失败: %v", err)
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	chunkRepository := repository.NewChunkRepository(database.DB)
	sessionRepository := repository.NewSessionRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	userService := service.NewUserService(userRepository, jwtManager)
	searchService := service.NewSearchService(embeddingClient, esClient, cfg.Elasticsearch.IndexName)
	retrievalService := service.NewRetrievalService(searchService, chunkRepository, cfg.Retrieval.PageSize)
	ragService := service.NewRAGService(retrievalService, llmClient, cfg.Retrieval)
	chatService := service.NewChatService(ragService, llmClient, sessionRepository)

	// 6. 初始化语料入库管道 (Processor)
	processor := pipeline.NewProcessor(
		embeddingClient,
		esClient,
		cfg.Elasticsearch,
		cfg.MinIO,
		cfg.Embedding,
		chunkRepository,
	)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
			}
		}

		// Search 路由组：检索与问答
		searchHandler := handler.NewSearchHandler(retrievalService, ragService, cfg.Retrieval)
		search := apiV1.Group("/search")
		search.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			search.GET("/retrieve", searchHandler.Retrieve)
			search.POST("/complete", searchHandler.Complete)
		}

		// Chat 路由组：会话与流式问答
		chatHandler := handler.NewChatHandler(chatService, userService, jwtManager)
		chat := apiV1.Group("/chat")
		chat.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			chat.POST("/ask", chatHandler.Ask)
			chat.GET("/sessions", chatHandler.ListSessions)
			chat.GET("/sessions/:sessionId/messages", chatHandler.GetSessionMessages)
			chat.DELETE("/sessions/:sessionId", chatHandler.DeleteSession)
			chat.GET("/websocket-token", chatHandler.GetWebsocketStopToken)
		}
		r.GET("/chat/:token", chatHandler.Handle)

		// 管理员路由组：语料入库
		admin := apiV1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
		{
			admin.POST("/ingest", handler.NewIngestHandler().Ingest)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
