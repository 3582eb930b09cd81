package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campus-portal/internal/model"
)

// Checkpoint 拉取进度：按 (server_timestamp, id) 排序的最后一条
type Checkpoint struct {
	ID              string    `json:"id"`
	ServerTimestamp time.Time `json:"server_timestamp"`
}

// ReplicationRepository 事件复制的记录级访问接口
type ReplicationRepository interface {
	// ── 主库 ──

	// ApplyPush 以 assumedVersion 为前提写入推送的记录；主库版本不一致时返回主库当前记录作为冲突
	ApplyPush(ctx context.Context, userID string, assumedVersion int, rec model.EventRecord) (*model.EventRecord, error)
	// Since 返回检查点之后的记录（含已删除）
	Since(ctx context.Context, userID string, cp Checkpoint, limit int) ([]model.EventRecord, error)

	// ── 副本 ──

	// Dirty 返回本地有未推送修改的记录
	Dirty(ctx context.Context, userID string, limit int) ([]model.EventRecord, error)
	// MarkPushed 推送成功后前进本地 version 并清除 dirty；推送期间本地又被修改时保持 dirty
	MarkPushed(ctx context.Context, rec model.EventRecord) error
	// ApplyRemote 用主库状态覆盖本地记录；force 为 false 时跳过本地 dirty 的记录
	ApplyRemote(ctx context.Context, userID string, recs []model.EventRecord, force bool) error

	GetCheckpoint(ctx context.Context, userID string) (*Checkpoint, error)
	SaveCheckpoint(ctx context.Context, userID string, cp Checkpoint) error
}

// ── ReplicationRepository 实现 ──

type replicationRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewReplicationRepo(db *gorm.DB) ReplicationRepository {
	return &replicationRepo{db: db, now: time.Now}
}

func (r *replicationRepo) ApplyPush(ctx context.Context, userID string, assumedVersion int, rec model.EventRecord) (*model.EventRecord, error) {
	var conflict *model.EventRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur model.EventRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND id = ?", userID, rec.ID).
			First(&cur).Error
		notFound := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !notFound {
			return err
		}

		rec.UserID = userID
		rec.Dirty = false
		rec.Revision = 0
		rec.ServerTimestamp = r.now().UTC().Truncate(time.Microsecond)

		if notFound {
			rec.Version = 1
			return tx.Create(&rec).Error
		}
		if cur.Version != assumedVersion {
			conflict = &cur
			return nil
		}
		rec.Version = cur.Version + 1
		rec.CreatedAt = cur.CreatedAt
		return tx.Model(&model.EventRecord{}).
			Where("user_id = ? AND id = ? AND version = ?", userID, rec.ID, cur.Version).
			Select("*").Omit("created_at").
			Updates(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return conflict, nil
}

func (r *replicationRepo) Since(ctx context.Context, userID string, cp Checkpoint, limit int) ([]model.EventRecord, error) {
	var recs []model.EventRecord
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if !cp.ServerTimestamp.IsZero() {
		q = q.Where("(server_timestamp > ? OR (server_timestamp = ? AND id > ?))",
			cp.ServerTimestamp, cp.ServerTimestamp, cp.ID)
	}
	err := q.Order("server_timestamp ASC, id ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *replicationRepo) Dirty(ctx context.Context, userID string, limit int) ([]model.EventRecord, error) {
	var recs []model.EventRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND dirty = ?", userID, true).
		Order("updated_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *replicationRepo) MarkPushed(ctx context.Context, rec model.EventRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 主库接受推送后版本为 assumed + 1，本地随之前进，下次推送才不会误报冲突
		if err := tx.Model(&model.EventRecord{}).
			Where("user_id = ? AND id = ? AND version = ?", rec.UserID, rec.ID, rec.Version).
			Update("version", rec.Version+1).Error; err != nil {
			return err
		}
		return tx.Model(&model.EventRecord{}).
			Where("user_id = ? AND id = ? AND revision = ?", rec.UserID, rec.ID, rec.Revision).
			Update("dirty", false).Error
	})
}

func (r *replicationRepo) ApplyRemote(ctx context.Context, userID string, recs []model.EventRecord, force bool) error {
	if len(recs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range recs {
			var cur model.EventRecord
			err := tx.Where("user_id = ? AND id = ?", userID, rec.ID).First(&cur).Error
			notFound := errors.Is(err, gorm.ErrRecordNotFound)
			if err != nil && !notFound {
				return err
			}

			rec.UserID = userID
			rec.Dirty = false
			if notFound {
				rec.Revision = 0
				if err := tx.Create(&rec).Error; err != nil {
					return err
				}
				continue
			}
			if cur.Dirty && !force {
				continue
			}
			rec.Revision = cur.Revision + 1
			rec.CreatedAt = cur.CreatedAt
			if err := tx.Model(&model.EventRecord{}).
				Where("user_id = ? AND id = ?", userID, rec.ID).
				Select("*").Omit("created_at").
				Updates(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *replicationRepo) GetCheckpoint(ctx context.Context, userID string) (*Checkpoint, error) {
	var row model.ReplicationCheckpoint
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Checkpoint{ID: row.DocumentID, ServerTimestamp: row.ServerTimestamp}, nil
}

func (r *replicationRepo) SaveCheckpoint(ctx context.Context, userID string, cp Checkpoint) error {
	row := model.ReplicationCheckpoint{
		UserID:          userID,
		DocumentID:      cp.ID,
		ServerTimestamp: cp.ServerTimestamp,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"document_id", "server_timestamp", "updated_at"}),
		}).
		Create(&row).Error
}
