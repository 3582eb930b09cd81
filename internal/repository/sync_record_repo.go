package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campus-portal/internal/model"
)

// SyncRecordRepository 课表同步记录数据访问接口
type SyncRecordRepository interface {
	// Get 不存在时返回 (nil, nil)
	Get(ctx context.Context, userID, semester string) (*model.SyncRecord, error)
	Upsert(ctx context.Context, record *model.SyncRecord) error
	List(ctx context.Context, userID string) ([]model.SyncRecord, error)
}

// ── SyncRecord Repository 实现 ──

type syncRecordRepo struct {
	db *gorm.DB
}

func NewSyncRecordRepo(db *gorm.DB) SyncRecordRepository {
	return &syncRecordRepo{db: db}
}

func (r *syncRecordRepo) Get(ctx context.Context, userID, semester string) (*model.SyncRecord, error) {
	var record model.SyncRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND semester = ?", userID, semester).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *syncRecordRepo) Upsert(ctx context.Context, record *model.SyncRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "semester"}},
			DoUpdates: clause.AssignmentColumns([]string{"courses", "reason", "last_sync", "updated_at"}),
		}).
		Create(record).Error
}

func (r *syncRecordRepo) List(ctx context.Context, userID string) ([]model.SyncRecord, error) {
	var records []model.SyncRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("semester ASC").
		Find(&records).Error
	return records, err
}
