package model

import (
	"time"

	"gorm.io/datatypes"
)

// 同步原因
const (
	SyncReasonNew      = "new"
	SyncReasonModified = "modified"
)

// SyncRecord 课表同步记录 — 对应 timetable_sync_records，每个用户每学期一条
type SyncRecord struct {
	UserID   string                      `gorm:"type:varchar(64);primaryKey" json:"-"`
	Semester string                      `gorm:"type:varchar(16);primaryKey" json:"semester"`
	Courses  datatypes.JSONSlice[string] `gorm:"not null"                    json:"courses"`
	Reason   string                      `gorm:"type:varchar(16);not null"   json:"reason"` // new | modified
	LastSync time.Time                   `gorm:"not null"                    json:"last_sync"`
	BaseModel
}

// TableName 指定表名
func (SyncRecord) TableName() string { return "timetable_sync_records" }
