package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"campus-portal/config"
	"campus-portal/internal/academic"
	"campus-portal/internal/api/handler"
	"campus-portal/internal/api/router"
	"campus-portal/internal/repository"
	"campus-portal/internal/service"
	"campus-portal/pkg/database"
	"campus-portal/pkg/jwt"
	applogger "campus-portal/pkg/logger"
	"campus-portal/pkg/redis"
)

// 待确认同步请求在 Redis 中的保留时长
const pendingQueueTTL = 30 * 24 * time.Hour

func main() {
	// 1. 加载配置
	cfg, err := config.Load(os.Getenv("PORTAL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log, cfg.Store.Role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("role", cfg.Store.Role),
		zap.String("log_level", cfg.Log.Level),
	)

	loc, err := cfg.Calendar.Location()
	if err != nil {
		logger.Fatal("时区配置无效", zap.Error(err))
	}

	// 3. 打开存储：主库 PostgreSQL + 迁移，副本本地 SQLite
	db, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("存储初始化失败", zap.Error(err))
	}

	// 4. 学期与节次表
	tables, err := loadTables(&cfg.Academic, loc)
	if err != nil {
		logger.Fatal("加载学期与节次表失败", zap.Error(err))
	}

	// 5. 连接 Redis（可选：连接失败时降级为进程内实现，不中断启动）
	var rdb *redis.Client
	deps := service.Deps{Tables: tables}
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis 连接失败，Token 黑名单与同步队列使用进程内实现", zap.Error(err))
			rdb = nil
		}
	}
	if rdb != nil {
		deps.Blacklist = rdb
		deps.Queue = service.NewRedisPendingQueue(rdb, pendingQueueTTL)
	}

	// 6. 初始化 JWT 管理器
	jwtMgr := jwt.NewManager(&cfg.Auth)

	// 7. 依赖注入: Repository → Service → Handler
	role := repository.Role(cfg.Store.Role)
	deps.Repo = repository.NewRepository(db, repository.NewAdapter(loc), role)
	svc := service.NewService(cfg, deps, logger)
	h := handler.NewHandler(svc, cfg.Calendar.MaxWindowDays)

	// 8. 副本：后台复制
	var worker *service.ReplicationWorker
	if role == repository.RoleReplica && cfg.Sync.MasterURL != "" {
		client := service.NewHTTPMasterClient(cfg.Sync.MasterURL, cfg.Sync.Token, cfg.Sync.Timeout)
		worker = service.NewReplicationWorker(deps.Repo, client, cfg.Sync.UserID, cfg.Sync.BatchSize, cfg.Sync.Timeout, logger)
		if err := worker.Start(cfg.Sync.Schedule); err != nil {
			logger.Fatal("复制任务启动失败", zap.Error(err))
		}
		logger.Info("复制任务已启动",
			zap.String("master_url", cfg.Sync.MasterURL),
			zap.String("schedule", cfg.Sync.Schedule),
		)
	}

	// 9. 初始化路由
	engine := router.Setup(cfg, h, jwtMgr, svc.Auth, rdb, logger)

	// 10. 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 11. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// 等待进行中的一轮复制结束
	if worker != nil {
		worker.Stop()
	}

	// 关闭数据库连接
	if sqlDB, _ := db.DB(); sqlDB != nil {
		sqlDB.Close()
	}

	// 关闭 Redis 连接
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}

// openStore 按存储角色打开数据库
func openStore(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	if repository.Role(cfg.Store.Role) == repository.RoleReplica {
		return database.NewLocalDB(&cfg.Local, logger, repository.Models()...)
	}

	db, err := database.NewDB(&cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	return db, nil
}

// loadTables 未配置路径时使用内置表
func loadTables(cfg *config.AcademicConfig, loc *time.Location) (*academic.Tables, error) {
	if cfg.TablesPath == "" {
		return academic.Default(loc), nil
	}
	return academic.Load(cfg.TablesPath, loc)
}
