package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"campus-portal/internal/calendar"
	"campus-portal/internal/dto"
	"campus-portal/internal/service"
	pkgerrors "campus-portal/pkg/errors"
	"campus-portal/pkg/response"
)

// CalendarHandler 日历模块 HTTP 处理器
type CalendarHandler struct {
	calendarSvc   service.CalendarService
	maxWindowDays int
}

// NewCalendarHandler 创建 CalendarHandler
func NewCalendarHandler(calendarSvc service.CalendarService, maxWindowDays int) *CalendarHandler {
	return &CalendarHandler{calendarSvc: calendarSvc, maxWindowDays: maxWindowDays}
}

// ListEvents 查询窗口内的发生
// GET /api/v1/events?start=&end=
func (h *CalendarHandler) ListEvents(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}
	q, ok := bindWindowQuery(c, h.maxWindowDays)
	if !ok {
		return
	}

	result, err := h.calendarSvc.List(c.Request.Context(), userID, q)
	if err != nil {
		handleCalendarError(c, err)
		return
	}
	response.OK(c, result)
}

// CreateEvent 创建事件
// POST /api/v1/events
func (h *CalendarHandler) CreateEvent(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}
	if err := req.Validate(); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, 10001, "参数校验失败", err.Error())
		return
	}

	result, err := h.calendarSvc.Create(c.Request.Context(), userID, &req)
	if err != nil {
		handleCalendarError(c, err)
		return
	}
	response.Created(c, result)
}

// GetEvent 获取事件定义
// GET /api/v1/events/:id
func (h *CalendarHandler) GetEvent(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	result, err := h.calendarSvc.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		handleCalendarError(c, err)
		return
	}
	response.OK(c, result)
}

// EditOccurrence 按范围编辑某次发生
// PUT /api/v1/events/:id/occurrence
func (h *CalendarHandler) EditOccurrence(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.EditOccurrenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}
	if err := req.Validate(); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, 10001, "参数校验失败", err.Error())
		return
	}

	result, err := h.calendarSvc.EditOccurrence(c.Request.Context(), userID, c.Param("id"), &req)
	if err != nil {
		handleCalendarError(c, err)
		return
	}
	response.OK(c, result)
}

// DeleteOccurrence 按范围删除某次发生
// DELETE /api/v1/events/:id/occurrence?scope=&occurrence_start=
func (h *CalendarHandler) DeleteOccurrence(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var q dto.DeleteOccurrenceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}
	if q.Scope != string(calendar.ScopeAll) && q.OccurrenceStart.IsZero() {
		response.BadRequest(c, 10001, "occurrence_start 不能为空")
		return
	}

	result, err := h.calendarSvc.DeleteOccurrence(c.Request.Context(), userID, c.Param("id"), &q)
	if err != nil {
		handleCalendarError(c, err)
		return
	}
	response.OK(c, result)
}

// Conflicts 窗口内的时间冲突
// GET /api/v1/events/conflicts?start=&end=
func (h *CalendarHandler) Conflicts(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}
	q, ok := bindWindowQuery(c, h.maxWindowDays)
	if !ok {
		return
	}

	result, err := h.calendarSvc.Conflicts(c.Request.Context(), userID, q)
	if err != nil {
		handleCalendarError(c, err)
		return
	}
	response.OK(c, gin.H{"list": result})
}

// ImportICS 导入 ICS
// POST /api/v1/events/import
//
// 支持两种方式：
//   - 文件上传: multipart/form-data, field="file"
//   - URL 导入: application/json, body={"url": "..."}
func (h *CalendarHandler) ImportICS(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	// 文件上传
	if file, _, err := c.Request.FormFile("file"); err == nil {
		defer file.Close()
		result, err := h.calendarSvc.ImportICS(c.Request.Context(), userID, file)
		if err != nil {
			handleCalendarError(c, err)
			return
		}
		response.Created(c, result)
		return
	}

	// URL 导入
	var req dto.ImportICSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 17000, "请上传 ICS 文件或提供 ICS URL")
		return
	}
	result, err := h.calendarSvc.ImportICSURL(c.Request.Context(), userID, req.URL)
	if err != nil {
		handleCalendarError(c, err)
		return
	}
	response.Created(c, result)
}

// bindWindowQuery 绑定并校验窗口参数
func bindWindowQuery(c *gin.Context, maxDays int) (*dto.WindowQuery, bool) {
	var q dto.WindowQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, 10001, "参数校验失败", "start / end 需为 RFC 3339 时间")
		return nil, false
	}
	if err := q.Validate(maxDays); err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, 10001, "参数校验失败", err.Error())
		return nil, false
	}
	return &q, true
}

// handleCalendarError 统一日历模块错误映射
func handleCalendarError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEventNotFound):
		response.NotFound(c, 17001, "日历事件不存在")
	case errors.Is(err, service.ErrEventInvalid),
		errors.Is(err, calendar.ErrInvalidEvent),
		errors.Is(err, calendar.ErrInvalidFrequency),
		errors.Is(err, calendar.ErrInvalidRepeat):
		response.ErrorWithDetails(c, http.StatusBadRequest, 17002, "日历事件参数无效", err.Error())
	case errors.Is(err, calendar.ErrOccurrenceNotFound):
		response.ErrorWithDetails(c, http.StatusBadRequest, 17003, "该日期不是此事件的发生日期", err.Error())
	case errors.Is(err, calendar.ErrInvalidScope):
		response.ErrorWithDetails(c, http.StatusBadRequest, 17004, "无效的编辑范围", err.Error())
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 17005, "事件已被其他操作修改，请刷新后重试")
	case errors.Is(err, service.ErrICSParseFailed):
		response.ErrorWithDetails(c, http.StatusBadRequest, 17006, "ICS 文件解析失败", err.Error())
	case errors.Is(err, service.ErrICSEmpty):
		response.BadRequest(c, 17007, "ICS 文件中未发现可导入的事件")
	default:
		response.InternalError(c)
	}
}
