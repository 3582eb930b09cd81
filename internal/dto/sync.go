package dto

import (
	"time"

	"campus-portal/internal/academic"
	"campus-portal/internal/model"
)

// ── 课表同步 ──

// SyncCheckRequest 提交当前选课时段，检查各学期是否需要同步
type SyncCheckRequest struct {
	Language string                        `json:"language" binding:"omitempty,max=35"`
	Sections []academic.CourseTimeslotData `json:"sections" binding:"dive"`
}

// SyncRequestResponse 一个待用户确认的学期同步请求
type SyncRequestResponse struct {
	Semester   string   `json:"semester"`
	Reason     string   `json:"reason"`
	Courses    []string `json:"courses"`
	EventCount int      `json:"event_count"`
}

// SyncCheckResponse 本次检查新产生的请求
type SyncCheckResponse struct {
	Requests []SyncRequestResponse `json:"requests"`
}

// PendingSyncResponse 逐个呈现：仅返回队首请求与剩余数量
type PendingSyncResponse struct {
	Request   *SyncRequestResponse `json:"request"`
	Remaining int                  `json:"remaining"`
}

// SyncDecisionResponse 接受 / 拒绝的结果
type SyncDecisionResponse struct {
	Semester   string    `json:"semester"`
	Accepted   bool      `json:"accepted"`
	EventCount int       `json:"event_count"`
	LastSync   time.Time `json:"last_sync"`
}

// SyncRecordResponse 已确认的同步记录
type SyncRecordResponse struct {
	Semester string    `json:"semester"`
	Courses  []string  `json:"courses"`
	Reason   string    `json:"reason"`
	LastSync time.Time `json:"last_sync"`
}

// NewSyncRecordResponse 转换同步记录
func NewSyncRecordResponse(r *model.SyncRecord) SyncRecordResponse {
	return SyncRecordResponse{
		Semester: r.Semester,
		Courses:  []string(r.Courses),
		Reason:   r.Reason,
		LastSync: r.LastSync,
	}
}
