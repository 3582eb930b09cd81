package repository

import (
	"gorm.io/gorm"

	"campus-portal/internal/model"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	Event       EventStore
	Replication ReplicationRepository
	SyncRecord  SyncRecordRepository
	Adapter     *Adapter
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB, adapter *Adapter, role Role) *Repository {
	return &Repository{
		Event:       NewEventStore(db, adapter, role),
		Replication: NewReplicationRepo(db),
		SyncRecord:  NewSyncRecordRepo(db),
		Adapter:     adapter,
	}
}

// Models 需要建表的模型（副本使用 AutoMigrate，主库使用 SQL 迁移）
func Models() []interface{} {
	return []interface{}{
		&model.EventRecord{},
		&model.SyncRecord{},
		&model.ReplicationCheckpoint{},
	}
}
