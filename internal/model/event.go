package model

import (
	"time"

	"gorm.io/datatypes"
)

// EventRecord 日历事件存储记录 — 对应 calendar_events
//
// 时间字段一律为 UTC 毫秒 ISO-8601 字符串，按字典序即时间序；
// 重复规则展开为 repeat_* 四列，repeat_count 与 repeat_date 至多一个有值。
type EventRecord struct {
	UserID         string                      `gorm:"type:varchar(64);primaryKey"                 json:"-"`
	ID             string                      `gorm:"type:varchar(64);primaryKey"                 json:"id"`
	Title          string                      `gorm:"type:varchar(255);not null"                  json:"title"`
	Details        string                      `gorm:"type:text"                                   json:"details,omitempty"`
	IsAllDay       *bool                       `json:"is_all_day,omitempty"`
	Start          string                      `gorm:"column:start_at;type:varchar(24);not null;index" json:"start"`
	End            string                      `gorm:"column:end_at;type:varchar(24);not null"     json:"end"`
	RepeatType     *string                     `gorm:"type:varchar(16)"                            json:"repeat_type,omitempty"`
	RepeatInterval *int                        `json:"repeat_interval,omitempty"`
	RepeatCount    *int                        `json:"repeat_count,omitempty"`
	RepeatDate     *string                     `gorm:"type:varchar(24)"                            json:"repeat_date,omitempty"`
	Color          string                      `gorm:"type:varchar(32)"                            json:"color"`
	Tag            string                      `gorm:"type:varchar(64);index"                      json:"tag"`
	ExcludedDates  datatypes.JSONSlice[string] `json:"excluded_dates,omitempty"`
	ParentID       *string                     `gorm:"type:varchar(64);index"                      json:"parent_id,omitempty"`
	ActualEnd      *string                     `gorm:"type:varchar(24)"                            json:"actual_end,omitempty"`

	// 复制簿记
	Deleted         bool      `gorm:"not null;default:false" json:"_deleted"`
	Version         int       `gorm:"not null;default:0"     json:"version"`
	ServerTimestamp time.Time `gorm:"index"                  json:"server_timestamp"`
	Dirty           bool      `gorm:"not null;default:false" json:"-"` // 仅副本：本地有未推送的修改
	Revision        int       `gorm:"not null;default:0"     json:"-"` // 仅副本：本地写入计数
	BaseModel
}

// TableName 指定表名
func (EventRecord) TableName() string { return "calendar_events" }
