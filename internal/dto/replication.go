package dto

import (
	"time"

	"campus-portal/internal/model"
)

// ── 事件复制（主库端点与副本客户端共用） ──

// PushRow 副本推送的一行：副本认为主库当前的版本 + 新的完整文档
type PushRow struct {
	AssumedMasterVersion int               `json:"assumed_master_version" binding:"min=0"`
	NewDocumentState     model.EventRecord `json:"new_document_state"`
}

// PushRequest 推送请求
type PushRequest struct {
	Rows []PushRow `json:"rows" binding:"required,max=1000"`
}

// PushResponse 推送响应：版本冲突的行以主库当前状态返回
type PushResponse struct {
	Conflicts []model.EventRecord `json:"conflicts"`
}

// PullQuery 拉取参数；检查点为空表示从头拉取
type PullQuery struct {
	ID              string    `form:"id"`
	ServerTimestamp time.Time `form:"server_timestamp"`
	BatchSize       int       `form:"batch_size" binding:"omitempty,min=1,max=1000"`
}

// CheckpointPayload 拉取进度
type CheckpointPayload struct {
	ID              string    `json:"id"`
	ServerTimestamp time.Time `json:"server_timestamp"`
}

// PullResponse 拉取响应；documents 为空时 checkpoint 原样返回
type PullResponse struct {
	Documents  []model.EventRecord `json:"documents"`
	Checkpoint CheckpointPayload   `json:"checkpoint"`
}
