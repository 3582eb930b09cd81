package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"campus-portal/internal/dto"
	"campus-portal/internal/service"
	pkgerrors "campus-portal/pkg/errors"
	"campus-portal/pkg/response"
)

// TimetableSyncHandler 课表同步 HTTP 处理器
type TimetableSyncHandler struct {
	syncSvc service.TimetableSyncService
}

// NewTimetableSyncHandler 创建 TimetableSyncHandler
func NewTimetableSyncHandler(syncSvc service.TimetableSyncService) *TimetableSyncHandler {
	return &TimetableSyncHandler{syncSvc: syncSvc}
}

// Check 提交当前选课时段，检查是否需要同步
// POST /api/v1/timetable/sync/check
//
// 未指定 language 时使用 Accept-Language 请求头。
func (h *TimetableSyncHandler) Check(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.SyncCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}
	if req.Language == "" {
		req.Language = c.GetHeader("Accept-Language")
	}

	result, err := h.syncSvc.Evaluate(c.Request.Context(), userID, &req)
	if err != nil {
		handleSyncError(c, err)
		return
	}
	response.OK(c, result)
}

// Pending 待确认的同步请求（每次只返回一个）
// GET /api/v1/timetable/sync/pending
func (h *TimetableSyncHandler) Pending(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	result, err := h.syncSvc.Pending(c.Request.Context(), userID)
	if err != nil {
		handleSyncError(c, err)
		return
	}
	response.OK(c, result)
}

// Accept 接受某学期的同步请求
// POST /api/v1/timetable/sync/:semester/accept
func (h *TimetableSyncHandler) Accept(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	result, err := h.syncSvc.Accept(c.Request.Context(), userID, c.Param("semester"))
	if err != nil {
		handleSyncError(c, err)
		return
	}
	response.OK(c, result)
}

// Decline 拒绝某学期的同步请求
// POST /api/v1/timetable/sync/:semester/decline
func (h *TimetableSyncHandler) Decline(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	result, err := h.syncSvc.Decline(c.Request.Context(), userID, c.Param("semester"))
	if err != nil {
		handleSyncError(c, err)
		return
	}
	response.OK(c, result)
}

// Records 已确认的同步记录
// GET /api/v1/timetable/sync/records
func (h *TimetableSyncHandler) Records(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	records, err := h.syncSvc.Records(c.Request.Context(), userID)
	if err != nil {
		handleSyncError(c, err)
		return
	}
	response.OK(c, gin.H{"list": records})
}

// handleSyncError 统一课表同步模块错误映射
func handleSyncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSyncRequestNotFound):
		response.NotFound(c, 18001, "该学期没有待确认的同步请求")
	case errors.Is(err, service.ErrSyncProjectFailed):
		response.ErrorWithDetails(c, http.StatusBadRequest, 18002, "课程时段无法转换为日历事件", err.Error())
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 18003, "事件已被其他操作修改，请重试")
	default:
		response.InternalError(c)
	}
}
