package service

import (
	"go.uber.org/zap"

	"campus-portal/config"
	"campus-portal/internal/academic"
	"campus-portal/internal/repository"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Auth          AuthService
	Calendar      CalendarService
	TimetableSync TimetableSyncService
	Replication   ReplicationService
	Export        ExportService
}

// Deps 外部依赖；Redis 未配置时 Blacklist / Queue 使用进程内实现
type Deps struct {
	Repo      *repository.Repository
	Tables    *academic.Tables
	Blacklist TokenBlacklist
	Queue     PendingQueue
}

// NewService 创建 Service 聚合
func NewService(cfg *config.Config, deps Deps, logger *zap.Logger) *Service {
	if deps.Blacklist == nil {
		deps.Blacklist = NewMemoryBlacklist()
	}
	if deps.Queue == nil {
		deps.Queue = NewMemoryPendingQueue()
	}
	role := repository.Role(cfg.Store.Role)

	return &Service{
		Auth:          NewAuthService(deps.Blacklist, logger),
		Calendar:      NewCalendarService(deps.Repo, logger),
		TimetableSync: NewTimetableSyncService(deps.Repo, NewProjector(deps.Tables), deps.Queue, cfg.Calendar.DefaultLanguage, logger),
		Replication:   NewReplicationService(deps.Repo, role, logger),
		Export:        NewExportService(deps.Repo, logger),
	}
}
