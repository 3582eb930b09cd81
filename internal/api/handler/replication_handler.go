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

// ReplicationHandler 主库复制端点
type ReplicationHandler struct {
	replicationSvc service.ReplicationService
}

// NewReplicationHandler 创建 ReplicationHandler
func NewReplicationHandler(replicationSvc service.ReplicationService) *ReplicationHandler {
	return &ReplicationHandler{replicationSvc: replicationSvc}
}

// Push 接收副本推送
// POST /api/v1/replication/events/push
func (h *ReplicationHandler) Push(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	result, err := h.replicationSvc.Push(c.Request.Context(), userID, &req)
	if err != nil {
		handleReplicationError(c, err)
		return
	}
	response.OK(c, result)
}

// Pull 按检查点拉取
// GET /api/v1/replication/events/pull?id=&server_timestamp=&batch_size=
func (h *ReplicationHandler) Pull(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var q dto.PullQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	result, err := h.replicationSvc.Pull(c.Request.Context(), userID, &q)
	if err != nil {
		handleReplicationError(c, err)
		return
	}
	response.OK(c, result)
}

// handleReplicationError 统一复制模块错误映射
func handleReplicationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrReadOnlyRole):
		response.Forbidden(c, 19001, "当前实例不是主库")
	case errors.Is(err, service.ErrReplicationInvalidRow):
		response.ErrorWithDetails(c, http.StatusBadRequest, 19002, "推送的记录无效", err.Error())
	default:
		response.InternalError(c)
	}
}
