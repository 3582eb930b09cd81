package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"campus-portal/internal/service"
	"campus-portal/pkg/response"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeICS  = "text/calendar; charset=utf-8"
)

// ExportHandler 导出模块 HTTP 处理器
type ExportHandler struct {
	exportSvc     service.ExportService
	maxWindowDays int
}

// NewExportHandler 创建 ExportHandler
func NewExportHandler(exportSvc service.ExportService, maxWindowDays int) *ExportHandler {
	return &ExportHandler{exportSvc: exportSvc, maxWindowDays: maxWindowDays}
}

// ExportXLSX 导出窗口内的日程
// GET /api/v1/events/export.xlsx?start=&end=
func (h *ExportHandler) ExportXLSX(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}
	q, ok := bindWindowQuery(c, h.maxWindowDays)
	if !ok {
		return
	}

	buf, filename, err := h.exportSvc.ExportXLSX(c.Request.Context(), userID, q)
	if err != nil {
		h.handleExportError(c, err)
		return
	}
	response.Attachment(c, filename, contentTypeXLSX, buf.Bytes())
}

// ExportICS 导出全部事件为 iCalendar
// GET /api/v1/events/export.ics
func (h *ExportHandler) ExportICS(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	buf, filename, err := h.exportSvc.ExportICS(c.Request.Context(), userID)
	if err != nil {
		h.handleExportError(c, err)
		return
	}
	response.Attachment(c, filename, contentTypeICS, buf.Bytes())
}

func (h *ExportHandler) handleExportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExportNoEvents):
		response.NotFound(c, 16101, "所选时间范围内没有日程")
	case errors.Is(err, service.ErrExportGenerateFail):
		response.InternalError(c)
	default:
		response.InternalError(c)
	}
}
