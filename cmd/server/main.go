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

	"regulus-go/internal/config"
	"regulus-go/internal/handler"
	"regulus-go/internal/middleware"
	"regulus-go/internal/model"
	"regulus-go/internal/repository"
	"regulus-go/internal/service"
	"regulus-go/pkg/assistant"
	"regulus-go/pkg/database"
	"regulus-go/pkg/kafka"
	"regulus-go/pkg/log"
	"regulus-go/pkg/mail"
	"regulus-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置（缺少关键密钥会在此处直接失败）
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	kafka.InitProducer(cfg.Kafka)

	// 3.1 本服务只负责自己这四张表的迁移
	if err := database.DB.AutoMigrate(&model.User{}, &model.Session{}, &model.Chat{}, &model.Message{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.DB)
	chatRepo := repository.NewChatRepository(database.DB)
	codeStore := repository.NewCodeStore(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTokenTTL(),
		cfg.JWT.RefreshTokenTTL(),
	)
	assistantClient := assistant.NewClient(cfg.Assistant)
	authService := service.NewAuthService(userRepo, sessionRepo, codeStore, jwtManager, kafka.Publisher{}, cfg.Auth)
	chatService := service.NewChatService(chatRepo, assistantClient, cfg.Assistant)

	// 6. 启动后台邮件消费者
	mailSender := mail.NewSender(cfg.SMTP)
	go kafka.StartConsumer(cfg.Kafka, mailSender)

	// 6.1 启动过期会话清理任务
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go sweepExpiredSessions(sweepCtx, authService, time.Duration(cfg.Auth.SweepIntervalMinutes)*time.Minute)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			authHandler := handler.NewAuthHandler(authService)
			auth.POST("/refreshToken", authHandler.RefreshToken)
			auth.POST("/verify-email", authHandler.VerifyEmail)
			auth.POST("/password-reset/request", authHandler.RequestPasswordReset)
			auth.POST("/password-reset", authHandler.ResetPassword)
		}

		users := apiV1.Group("/users")
		{
			userHandler := handler.NewUserHandler(authService)

			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(authService, codeStore))
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		// Chat 路由组，需要认证
		chats := apiV1.Group("/chats")
		chats.Use(middleware.AuthMiddleware(authService, codeStore))
		{
			chatHandler := handler.NewChatHandler(chatService, authService)
			chats.POST("", chatHandler.StartChat)
			chats.GET("", chatHandler.ListChats)
			chats.POST("/:chatId/messages", chatHandler.PostMessage)
			chats.GET("/:chatId/messages", chatHandler.ListMessages)
			chats.DELETE("/:chatId", chatHandler.DeleteChat)
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

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}

// sweepExpiredSessions 周期性清理过期的会话行，直到上下文被取消。
func sweepExpiredSessions(ctx context.Context, authService service.AuthService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := authService.SweepExpiredSessions(time.Now())
			if err != nil {
				log.Errorf("过期会话清理失败: %v", err)
				continue
			}
			if count > 0 {
				log.Infof("过期会话清理完成，删除 %d 行", count)
			}
		}
	}
}
