package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campus-portal/config"
	"campus-portal/internal/api/handler"
	"campus-portal/internal/api/middleware"
	"campus-portal/pkg/jwt"
	"campus-portal/pkg/redis"
)

// Setup 初始化并返回 Gin 路由引擎
// revocation 为 Token 注销检查（AuthService）；rdb 为 nil 时复制接口不限流
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, revocation middleware.RevocationChecker, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "role": cfg.Store.Role})
	})

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 门户前端（Access Token）
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtMgr, revocation, jwt.TokenTypeAccess))
		{
			authorized.POST("/auth/logout", h.Auth.Logout)

			// 日历模块
			events := authorized.Group("/events")
			{
				events.GET("", h.Calendar.ListEvents)
				events.POST("", h.Calendar.CreateEvent)
				events.GET("/conflicts", h.Calendar.Conflicts)
				events.POST("/import", h.Calendar.ImportICS)
				events.GET("/export.xlsx", h.Export.ExportXLSX)
				events.GET("/export.ics", h.Export.ExportICS)
				events.GET("/:id", h.Calendar.GetEvent)
				events.PUT("/:id/occurrence", h.Calendar.EditOccurrence)
				events.DELETE("/:id/occurrence", h.Calendar.DeleteOccurrence)
			}

			// 课表同步模块
			timetableSync := authorized.Group("/timetable/sync")
			{
				timetableSync.POST("/check", h.TimetableSync.Check)
				timetableSync.GET("/pending", h.TimetableSync.Pending)
				timetableSync.GET("/records", h.TimetableSync.Records)
				timetableSync.POST("/:semester/accept", h.TimetableSync.Accept)
				timetableSync.POST("/:semester/decline", h.TimetableSync.Decline)
			}
		}

		// 复制模块（副本 Token 或 Access Token，按用户限流）
		replication := v1.Group("/replication")
		replication.Use(
			middleware.JWTAuth(jwtMgr, revocation, jwt.TokenTypeAccess, jwt.TokenTypeReplica),
			middleware.RateLimit(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window),
		)
		{
			replication.POST("/events/push", h.Replication.Push)
			replication.GET("/events/pull", h.Replication.Pull)
		}
	}

	return r
}
