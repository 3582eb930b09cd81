package model

import "time"

// ReplicationCheckpoint 副本拉取进度 — 对应 replication_checkpoints
type ReplicationCheckpoint struct {
	UserID          string `gorm:"type:varchar(64);primaryKey"`
	DocumentID      string `gorm:"type:varchar(64)"`
	ServerTimestamp time.Time
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (ReplicationCheckpoint) TableName() string { return "replication_checkpoints" }
