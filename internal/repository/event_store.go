package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"campus-portal/internal/calendar"
	"campus-portal/internal/model"
	pkgerrors "campus-portal/pkg/errors"
)

// Role 存储角色
type Role string

const (
	// RoleMaster 主库：每次写入递增 version 并刷新 server_timestamp
	RoleMaster Role = "master"
	// RoleReplica 本地副本：写入只标记 dirty，由复制任务推送
	RoleReplica Role = "replica"
)

// Selector 事件查询条件，零值字段不参与过滤
type Selector struct {
	From     *time.Time // 与 To 一起表示窗口：start <= To 且 (actual_end 为空或 >= From)
	To       *time.Time
	ParentID string
	Tag      string
}

// EventStore 日历事件存储接口，所有操作按用户隔离
type EventStore interface {
	Find(ctx context.Context, userID string, sel Selector) ([]calendar.Event, error)
	// FindOne 不存在或已删除时返回 (nil, nil)
	FindOne(ctx context.Context, userID, id string) (*calendar.Event, error)
	FindChildren(ctx context.Context, userID, parentID string) ([]calendar.Event, error)
	Insert(ctx context.Context, userID string, e calendar.Event) error
	Upsert(ctx context.Context, userID string, e calendar.Event) error
	// Update 整体替换事件字段，记录不存在时返回 false
	Update(ctx context.Context, userID string, e calendar.Event) (bool, error)
	// Remove 软删除，以便删除也能复制；记录不存在时返回 false
	Remove(ctx context.Context, userID, id string) (bool, error)
	// Transaction 在同一事务中执行 fn，fn 返回错误时全部回滚
	Transaction(ctx context.Context, fn func(tx EventStore) error) error
}

// ── EventStore 实现 ──

type eventStore struct {
	db      *gorm.DB
	adapter *Adapter
	role    Role
	now     func() time.Time
}

// NewEventStore 创建事件存储
func NewEventStore(db *gorm.DB, adapter *Adapter, role Role) EventStore {
	return &eventStore{db: db, adapter: adapter, role: role, now: time.Now}
}

func (s *eventStore) Find(ctx context.Context, userID string, sel Selector) ([]calendar.Event, error) {
	q := s.db.WithContext(ctx).Where("user_id = ? AND deleted = ?", userID, false)
	if sel.To != nil {
		q = q.Where("start_at <= ?", FormatInstant(*sel.To))
	}
	if sel.From != nil {
		q = q.Where("(actual_end IS NULL OR actual_end >= ?)", FormatInstant(*sel.From))
	}
	if sel.ParentID != "" {
		q = q.Where("parent_id = ?", sel.ParentID)
	}
	if sel.Tag != "" {
		q = q.Where("tag = ?", sel.Tag)
	}

	var recs []model.EventRecord
	if err := q.Order("start_at ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return s.deserializeAll(recs)
}

func (s *eventStore) FindOne(ctx context.Context, userID, id string) (*calendar.Event, error) {
	rec, err := s.load(ctx, userID, id)
	if err != nil || rec == nil || rec.Deleted {
		return nil, err
	}
	e, err := s.adapter.Deserialize(*rec)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *eventStore) FindChildren(ctx context.Context, userID, parentID string) ([]calendar.Event, error) {
	return s.Find(ctx, userID, Selector{ParentID: parentID})
}

func (s *eventStore) Insert(ctx context.Context, userID string, e calendar.Event) error {
	rec := s.adapter.Serialize(e)
	rec.UserID = userID
	s.stamp(&rec, nil)
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *eventStore) Upsert(ctx context.Context, userID string, e calendar.Event) error {
	prev, err := s.load(ctx, userID, e.ID)
	if err != nil {
		return err
	}
	if prev == nil {
		return s.Insert(ctx, userID, e)
	}
	rec := s.adapter.Serialize(e)
	rec.UserID = userID
	return s.replace(ctx, prev, rec)
}

func (s *eventStore) Update(ctx context.Context, userID string, e calendar.Event) (bool, error) {
	prev, err := s.load(ctx, userID, e.ID)
	if err != nil {
		return false, err
	}
	if prev == nil || prev.Deleted {
		return false, nil
	}
	rec := s.adapter.Serialize(e)
	rec.UserID = userID
	if err := s.replace(ctx, prev, rec); err != nil {
		return false, err
	}
	return true, nil
}

func (s *eventStore) Remove(ctx context.Context, userID, id string) (bool, error) {
	prev, err := s.load(ctx, userID, id)
	if err != nil {
		return false, err
	}
	if prev == nil || prev.Deleted {
		return false, nil
	}
	rec := *prev
	rec.Deleted = true
	if err := s.replace(ctx, prev, rec); err != nil {
		return false, err
	}
	return true, nil
}

func (s *eventStore) Transaction(ctx context.Context, fn func(tx EventStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&eventStore{db: tx, adapter: s.adapter, role: s.role, now: s.now})
	})
}

// load 读取原始记录（含已删除），不存在返回 (nil, nil)
func (s *eventStore) load(ctx context.Context, userID, id string) (*model.EventRecord, error) {
	var rec model.EventRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// replace 以 prev 为基准做 CAS 整行替换
//
// 主库比较 version，副本比较本地 revision；并发写入时返回 ErrOptimisticLock。
func (s *eventStore) replace(ctx context.Context, prev *model.EventRecord, rec model.EventRecord) error {
	s.stamp(&rec, prev)
	rec.UserID = prev.UserID
	rec.CreatedAt = prev.CreatedAt

	q := s.db.WithContext(ctx).
		Model(&model.EventRecord{}).
		Where("user_id = ? AND id = ?", prev.UserID, prev.ID)
	if s.role == RoleMaster {
		q = q.Where("version = ?", prev.Version)
	} else {
		q = q.Where("revision = ?", prev.Revision)
	}

	result := q.Select("*").Omit("created_at").Updates(&rec)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("事件 %s: %w", prev.ID, pkgerrors.ErrOptimisticLock)
	}
	return nil
}

// stamp 写入复制簿记字段
func (s *eventStore) stamp(rec *model.EventRecord, prev *model.EventRecord) {
	if s.role == RoleMaster {
		rec.Version = 1
		if prev != nil {
			rec.Version = prev.Version + 1
		}
		rec.ServerTimestamp = s.now().UTC().Truncate(time.Microsecond)
		rec.Dirty = false
		return
	}
	// 副本保留上次从主库看到的 version，推送时作为 assumedMasterVersion
	rec.Dirty = true
	rec.Revision = 1
	if prev != nil {
		rec.Version = prev.Version
		rec.ServerTimestamp = prev.ServerTimestamp
		rec.Revision = prev.Revision + 1
	}
}

func (s *eventStore) deserializeAll(recs []model.EventRecord) ([]calendar.Event, error) {
	events := make([]calendar.Event, 0, len(recs))
	for _, rec := range recs {
		e, err := s.adapter.Deserialize(rec)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
