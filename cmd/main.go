package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Dollarchain/internal/api"
	"Dollarchain/internal/app"
	"Dollarchain/internal/config"
	"Dollarchain/internal/scheduler"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 加载配置文件
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}

	// 2. 初始化日志
	logger := app.NewLogger(&cfg.Logging)
	logger.Info("配置文件加载成功")

	// 3. 初始化 PostgreSQL 连接并迁移表结构
	db, err := app.OpenDatabase(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("连接PostgreSQL失败: %v", err)
	}
	logger.Info("PostgreSQL连接成功")

	// 4. 组装服务（Redis / NATS / RPC 可选）
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc, err := app.Build(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatalf("初始化服务失败: %v", err)
	}
	defer svc.Close()
	if err := svc.SubscribeNotifier(&cfg.Notify, logger); err != nil {
		logger.WithError(err).Warn("订阅入金通知失败")
	}

	// 5. 定时对账与到期结束
	if cfg.Game.ReconcileCron != "" {
		reconciler := scheduler.NewReconciler(cfg.Game.ReconcileCron, cfg.Game.AutoEnd, svc.Games, svc.Scoring, svc.Stats, logger)
		if err := reconciler.Start(); err != nil {
			logger.Fatalf("启动定时任务失败: %v", err)
		}
		defer reconciler.Stop()
	}

	// 6. 配置Gin运行模式（从配置读取：debug/release）
	gin.SetMode(cfg.Server.Mode)
	r := gin.Default()
	corsCfg := cors.DefaultConfig()
	if len(cfg.Server.AllowOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.AllowOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))

	// 注册ppof 方便调试和监测性能问题
	pprof.Register(r)
	logger.Infof("Gin运行模式: %s", cfg.Server.Mode)

	// 7. 注册API路由
	api.RegisterRoutes(r, api.Handlers{
		Deposits: api.NewDepositHandler(svc.Deposits, svc.Limiter, cfg.Redis.DepositAttemptsPerMinute, logger),
		Games:    api.NewGameHandler(svc.Games, svc.Stats, svc.Payouts, logger),
		Teams:    api.NewTeamHandler(svc.Teams, svc.Stats, logger),
	})

	// 8. 启动服务（从配置读取端口），收到信号后优雅退出
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("启动服务失败: %v", err)
		}
	}()
	logger.Infof("服务启动成功，端口：%d", cfg.Server.Port)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("服务关闭失败")
	}
	logger.Info("服务已停止")
}
