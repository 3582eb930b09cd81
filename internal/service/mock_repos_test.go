package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"campus-portal/internal/academic"
	"campus-portal/internal/calendar"
	"campus-portal/internal/model"
	"campus-portal/internal/repository"
	pkgerrors "campus-portal/pkg/errors"
)

// ── Mock EventStore ──

type mockEventStore struct {
	events  map[string]calendar.Event // userID|id
	deleted map[string]bool
	writes  []string // 写入顺序，形如 "insert:evt-1"
	failID  string   // 对该 id 的写入返回乐观锁错误
}

// Transaction 失败时恢复快照，模拟回滚
func (m *mockEventStore) Transaction(_ context.Context, fn func(tx repository.EventStore) error) error {
	events := make(map[string]calendar.Event, len(m.events))
	for k, v := range m.events {
		events[k] = v
	}
	deleted := make(map[string]bool, len(m.deleted))
	for k, v := range m.deleted {
		deleted[k] = v
	}
	if err := fn(m); err != nil {
		m.events, m.deleted = events, deleted
		return err
	}
	return nil
}

func newMockEventStore() *mockEventStore {
	return &mockEventStore{
		events:  make(map[string]calendar.Event),
		deleted: make(map[string]bool),
	}
}

func eventKey(userID, id string) string { return userID + "|" + id }

func (m *mockEventStore) Find(_ context.Context, userID string, sel repository.Selector) ([]calendar.Event, error) {
	var out []calendar.Event
	for key, e := range m.events {
		if m.deleted[key] || key != eventKey(userID, e.ID) {
			continue
		}
		if sel.To != nil && e.Start.After(*sel.To) {
			continue
		}
		if sel.From != nil {
			if last := calendar.LastStart(e.Start, e.Repeat); last != nil && last.Before(*sel.From) {
				continue
			}
		}
		if sel.ParentID != "" && e.ParentID != sel.ParentID {
			continue
		}
		if sel.Tag != "" && e.Tag != sel.Tag {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockEventStore) FindOne(_ context.Context, userID, id string) (*calendar.Event, error) {
	key := eventKey(userID, id)
	e, ok := m.events[key]
	if !ok || m.deleted[key] {
		return nil, nil
	}
	cp := e.Clone()
	return &cp, nil
}

func (m *mockEventStore) FindChildren(ctx context.Context, userID, parentID string) ([]calendar.Event, error) {
	return m.Find(ctx, userID, repository.Selector{ParentID: parentID})
}

func (m *mockEventStore) Insert(_ context.Context, userID string, e calendar.Event) error {
	if e.ID == m.failID {
		return pkgerrors.ErrOptimisticLock
	}
	key := eventKey(userID, e.ID)
	if _, ok := m.events[key]; ok {
		return fmt.Errorf("duplicate key %s", e.ID)
	}
	m.events[key] = e.Clone()
	m.writes = append(m.writes, "insert:"+e.ID)
	return nil
}

func (m *mockEventStore) Upsert(_ context.Context, userID string, e calendar.Event) error {
	if e.ID == m.failID {
		return pkgerrors.ErrOptimisticLock
	}
	key := eventKey(userID, e.ID)
	m.events[key] = e.Clone()
	delete(m.deleted, key)
	m.writes = append(m.writes, "upsert:"+e.ID)
	return nil
}

func (m *mockEventStore) Update(_ context.Context, userID string, e calendar.Event) (bool, error) {
	if e.ID == m.failID {
		return false, pkgerrors.ErrOptimisticLock
	}
	key := eventKey(userID, e.ID)
	if _, ok := m.events[key]; !ok || m.deleted[key] {
		return false, nil
	}
	m.events[key] = e.Clone()
	m.writes = append(m.writes, "update:"+e.ID)
	return true, nil
}

func (m *mockEventStore) Remove(_ context.Context, userID, id string) (bool, error) {
	key := eventKey(userID, id)
	if _, ok := m.events[key]; !ok || m.deleted[key] {
		return false, nil
	}
	m.deleted[key] = true
	m.writes = append(m.writes, "remove:"+id)
	return true, nil
}

// ── Mock SyncRecordRepository ──

type mockSyncRecordRepo struct {
	records map[string]model.SyncRecord
}

func newMockSyncRecordRepo() *mockSyncRecordRepo {
	return &mockSyncRecordRepo{records: make(map[string]model.SyncRecord)}
}

func (m *mockSyncRecordRepo) Get(_ context.Context, userID, semester string) (*model.SyncRecord, error) {
	r, ok := m.records[userID+"|"+semester]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *mockSyncRecordRepo) Upsert(_ context.Context, record *model.SyncRecord) error {
	m.records[record.UserID+"|"+record.Semester] = *record
	return nil
}

func (m *mockSyncRecordRepo) List(_ context.Context, userID string) ([]model.SyncRecord, error) {
	var out []model.SyncRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Semester < out[j].Semester })
	return out, nil
}

// ── 测试辅助 ──

var testLoc = time.FixedZone("CST", 8*3600)

type testRepos struct {
	repo   *repository.Repository
	events *mockEventStore
	syncs  *mockSyncRecordRepo
}

func newTestRepos() testRepos {
	events := newMockEventStore()
	syncs := newMockSyncRecordRepo()
	return testRepos{
		repo: &repository.Repository{
			Event:      events,
			SyncRecord: syncs,
			Adapter:    repository.NewAdapter(testLoc),
		},
		events: events,
		syncs:  syncs,
	}
}

func newTestProjector() *Projector {
	return NewProjector(academic.Default(testLoc))
}

func nopLogger() *zap.Logger { return zap.NewNop() }

// cst 构造 2024 年 CST 时间
func cst(month time.Month, day, hour, min int) time.Time {
	return time.Date(2024, month, day, hour, min, 0, 0, testLoc)
}
