package handler

import "campus-portal/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Auth          *AuthHandler
	Calendar      *CalendarHandler
	TimetableSync *TimetableSyncHandler
	Replication   *ReplicationHandler
	Export        *ExportHandler
}

// NewHandler 创建 Handler 聚合；maxWindowDays 限制窗口查询跨度，0 表示不限制
func NewHandler(svc *service.Service, maxWindowDays int) *Handler {
	return &Handler{
		Auth:          NewAuthHandler(svc.Auth),
		Calendar:      NewCalendarHandler(svc.Calendar, maxWindowDays),
		TimetableSync: NewTimetableSyncHandler(svc.TimetableSync),
		Replication:   NewReplicationHandler(svc.Replication),
		Export:        NewExportHandler(svc.Export, maxWindowDays),
	}
}
