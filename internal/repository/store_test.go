package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"campus-portal/internal/calendar"
	"campus-portal/internal/model"
	pkgerrors "campus-portal/pkg/errors"
)

// ═══════════════════════════════════════════════════════════
// Test Setup
// ═══════════════════════════════════════════════════════════

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开 SQLite 失败: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("AutoMigrate 失败: %v", err)
	}
	return db
}

func lecture(id string) calendar.Event {
	return calendar.Event{
		ID:     id,
		Title:  "微积分",
		Start:  time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		Repeat: calendar.DateBounded(calendar.Weekly, 1, time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)),
		Tag:    "course",
	}
}

func ptr(t time.Time) *time.Time { return &t }

// ═══════════════════════════════════════════════════════════
// EventStore
// ═══════════════════════════════════════════════════════════

func TestEventStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(newTestDB(t), NewAdapter(time.UTC), RoleMaster)

	if err := store.Insert(ctx, "u1", lecture("evt-1")); err != nil {
		t.Fatalf("Insert 失败: %v", err)
	}

	got, err := store.FindOne(ctx, "u1", "evt-1")
	if err != nil || got == nil {
		t.Fatalf("FindOne 失败: %v, %v", got, err)
	}
	if got.Repeat == nil || got.Repeat.Frequency != calendar.Weekly {
		t.Errorf("重复规则丢失: %+v", got.Repeat)
	}

	if other, _ := store.FindOne(ctx, "u2", "evt-1"); other != nil {
		t.Error("不同用户不应读到该事件")
	}
	if missing, err := store.FindOne(ctx, "u1", "nope"); missing != nil || err != nil {
		t.Errorf("不存在的事件期望 (nil, nil), 实际 (%v, %v)", missing, err)
	}

	got.Title = "高等数学"
	ok, err := store.Update(ctx, "u1", *got)
	if err != nil || !ok {
		t.Fatalf("Update 失败: %v, %v", ok, err)
	}
	if ok, _ := store.Update(ctx, "u1", lecture("nope")); ok {
		t.Error("更新不存在的事件期望返回 false")
	}

	ok, err = store.Remove(ctx, "u1", "evt-1")
	if err != nil || !ok {
		t.Fatalf("Remove 失败: %v, %v", ok, err)
	}
	if again, _ := store.Remove(ctx, "u1", "evt-1"); again {
		t.Error("重复删除期望返回 false")
	}
	if gone, _ := store.FindOne(ctx, "u1", "evt-1"); gone != nil {
		t.Error("软删除后 FindOne 期望 nil")
	}
	if list, _ := store.Find(ctx, "u1", Selector{}); len(list) != 0 {
		t.Errorf("软删除后 Find 期望为空, 实际 %d", len(list))
	}
}

func TestEventStore_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(newTestDB(t), NewAdapter(time.UTC), RoleMaster)
	_ = store.Insert(ctx, "u1", lecture("evt-1"))
	_ = store.Insert(ctx, "u1", lecture("evt-2"))

	// 更新成功后插入主键冲突，更新也应回滚
	err := store.Transaction(ctx, func(tx EventStore) error {
		changed := lecture("evt-1")
		changed.ExcludedDates = []time.Time{time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)}
		if ok, err := tx.Update(ctx, "u1", changed); !ok || err != nil {
			t.Fatalf("事务内 Update 失败: %v, %v", ok, err)
		}
		return tx.Insert(ctx, "u1", lecture("evt-2"))
	})
	if err == nil {
		t.Fatal("重复插入期望返回错误")
	}
	got, _ := store.FindOne(ctx, "u1", "evt-1")
	if got == nil || len(got.ExcludedDates) != 0 {
		t.Errorf("事务失败后原事件不应被修改, 实际 %+v", got)
	}

	err = store.Transaction(ctx, func(tx EventStore) error {
		return tx.Insert(ctx, "u1", lecture("evt-3"))
	})
	if err != nil {
		t.Fatalf("事务提交失败: %v", err)
	}
	if got, _ := store.FindOne(ctx, "u1", "evt-3"); got == nil {
		t.Error("提交后应能读到新事件")
	}
}

func TestEventStore_MasterBumpsVersion(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewEventStore(db, NewAdapter(time.UTC), RoleMaster)

	_ = store.Insert(ctx, "u1", lecture("evt-1"))
	_ = store.Upsert(ctx, "u1", lecture("evt-1"))
	_, _ = store.Remove(ctx, "u1", "evt-1")

	var rec model.EventRecord
	db.Where("user_id = ? AND id = ?", "u1", "evt-1").First(&rec)
	if rec.Version != 3 {
		t.Errorf("三次写入后 version 期望 3, 实际 %d", rec.Version)
	}
	if !rec.Deleted || rec.Dirty || rec.ServerTimestamp.IsZero() {
		t.Errorf("复制簿记字段错误: %+v", rec)
	}

	// 重新投影同一个 id 时恢复已删除的事件
	if err := store.Upsert(ctx, "u1", lecture("evt-1")); err != nil {
		t.Fatalf("Upsert 失败: %v", err)
	}
	if e, _ := store.FindOne(ctx, "u1", "evt-1"); e == nil {
		t.Error("Upsert 期望恢复已删除的事件")
	}
}

func TestEventStore_ReplicaMarksDirty(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewEventStore(db, NewAdapter(time.UTC), RoleReplica)

	_ = store.Insert(ctx, "u1", lecture("evt-1"))
	e := lecture("evt-1")
	e.Title = "改名"
	_, _ = store.Update(ctx, "u1", e)

	var rec model.EventRecord
	db.Where("user_id = ? AND id = ?", "u1", "evt-1").First(&rec)
	if !rec.Dirty || rec.Revision != 2 || rec.Version != 0 {
		t.Errorf("副本写入期望 dirty 且 revision=2 version=0, 实际 %+v", rec)
	}
}

func TestEventStore_OptimisticLock(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := NewEventStore(db, NewAdapter(time.UTC), RoleMaster).(*eventStore)
	_ = s.Insert(ctx, "u1", lecture("evt-1"))

	prev, _ := s.load(ctx, "u1", "evt-1")
	_ = s.Upsert(ctx, "u1", lecture("evt-1"))

	err := s.replace(ctx, prev, s.adapter.Serialize(lecture("evt-1")))
	if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
		t.Errorf("基于旧版本写入期望 ErrOptimisticLock, 实际 %v", err)
	}
}

func TestEventStore_FindWindow(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(newTestDB(t), NewAdapter(time.UTC), RoleMaster)

	ended := lecture("ended")
	ended.Start = time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	ended.End = ended.Start.Add(time.Hour)
	ended.Repeat = calendar.CountBounded(calendar.Weekly, 1, 4)

	forever := lecture("forever")
	forever.Start = time.Date(2023, 9, 4, 9, 0, 0, 0, time.UTC)
	forever.End = forever.Start.Add(time.Hour)
	forever.Repeat = calendar.Unbounded(calendar.Weekly, 1)

	future := lecture("future")
	future.Start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	future.End = future.Start.Add(time.Hour)
	future.Repeat = nil

	child := calendar.Event{ID: "child", Title: "补课", ParentID: "march",
		Start: time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)}

	for _, e := range []calendar.Event{lecture("march"), ended, forever, future, child} {
		if err := store.Insert(ctx, "u1", e); err != nil {
			t.Fatalf("Insert %s 失败: %v", e.ID, err)
		}
	}

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)
	got, err := store.Find(ctx, "u1", Selector{From: &from, To: &to})
	if err != nil {
		t.Fatalf("Find 失败: %v", err)
	}
	ids := make(map[string]bool)
	for _, e := range got {
		ids[e.ID] = true
	}
	if len(got) != 3 || !ids["march"] || !ids["forever"] || !ids["child"] {
		t.Errorf("窗口查询期望 march/forever/child, 实际 %v", ids)
	}

	children, _ := store.FindChildren(ctx, "u1", "march")
	if len(children) != 1 || children[0].ID != "child" {
		t.Errorf("FindChildren 期望 [child], 实际 %v", children)
	}
	tagged, _ := store.Find(ctx, "u1", Selector{Tag: "course", To: ptr(to)})
	if len(tagged) != 3 {
		t.Errorf("按标签与结束时间过滤期望 3 个, 实际 %d", len(tagged))
	}
}

// ═══════════════════════════════════════════════════════════
// Replication
// ═══════════════════════════════════════════════════════════

func TestReplication_ApplyPush(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewReplicationRepo(db)
	a := NewAdapter(time.UTC)

	rec := a.Serialize(lecture("evt-1"))
	conflict, err := repo.ApplyPush(ctx, "u1", 0, rec)
	if err != nil || conflict != nil {
		t.Fatalf("首次推送期望成功, 实际 %v, %v", conflict, err)
	}

	rec.Title = "第二版"
	if conflict, _ := repo.ApplyPush(ctx, "u1", 1, rec); conflict != nil {
		t.Fatalf("版本一致时期望成功, 实际冲突 %+v", conflict)
	}

	rec.Title = "过期版本"
	conflict, err = repo.ApplyPush(ctx, "u1", 1, rec)
	if err != nil {
		t.Fatalf("ApplyPush 失败: %v", err)
	}
	if conflict == nil || conflict.Title != "第二版" || conflict.Version != 2 {
		t.Errorf("版本不一致期望返回主库当前记录, 实际 %+v", conflict)
	}
}

func TestReplication_SinceCheckpoint(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewReplicationRepo(db).(*replicationRepo)
	a := NewAdapter(time.UTC)

	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return ts }
	for _, id := range []string{"c", "a", "b"} {
		if _, err := repo.ApplyPush(ctx, "u1", 0, a.Serialize(lecture(id))); err != nil {
			t.Fatalf("ApplyPush 失败: %v", err)
		}
	}
	repo.now = func() time.Time { return ts.Add(time.Second) }
	_, _ = repo.ApplyPush(ctx, "u1", 0, a.Serialize(lecture("0")))

	first, _ := repo.Since(ctx, "u1", Checkpoint{}, 2)
	if len(first) != 2 || first[0].ID != "a" || first[1].ID != "b" {
		t.Fatalf("第一批期望 [a b], 实际 %v", first)
	}
	last := first[len(first)-1]
	second, _ := repo.Since(ctx, "u1", Checkpoint{ID: last.ID, ServerTimestamp: last.ServerTimestamp}, 2)
	if len(second) != 2 || second[0].ID != "c" || second[1].ID != "0" {
		t.Fatalf("第二批期望 [c 0], 实际 %v", second)
	}
	last = second[len(second)-1]
	if rest, _ := repo.Since(ctx, "u1", Checkpoint{ID: last.ID, ServerTimestamp: last.ServerTimestamp}, 2); len(rest) != 0 {
		t.Errorf("期望拉取完毕, 实际 %d 条", len(rest))
	}
}

func TestReplication_ReplicaBookkeeping(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewEventStore(db, NewAdapter(time.UTC), RoleReplica)
	repo := NewReplicationRepo(db)

	_ = store.Insert(ctx, "u1", lecture("evt-1"))
	_ = store.Insert(ctx, "u1", lecture("evt-2"))

	dirty, err := repo.Dirty(ctx, "u1", 10)
	if err != nil || len(dirty) != 2 {
		t.Fatalf("期望 2 条 dirty 记录, 实际 %d, %v", len(dirty), err)
	}

	// 推送期间 evt-2 被再次修改
	e := lecture("evt-2")
	e.Title = "推送中修改"
	_, _ = store.Update(ctx, "u1", e)
	for _, rec := range dirty {
		if err := repo.MarkPushed(ctx, rec); err != nil {
			t.Fatalf("MarkPushed 失败: %v", err)
		}
	}
	left, _ := repo.Dirty(ctx, "u1", 10)
	if len(left) != 1 || left[0].ID != "evt-2" {
		t.Fatalf("期望 evt-2 仍为 dirty, 实际 %v", left)
	}
	var pushed model.EventRecord
	db.Where("user_id = ? AND id = ?", "u1", "evt-1").First(&pushed)
	if pushed.Version != 1 {
		t.Errorf("推送成功后期望本地 version=1, 实际 %d", pushed.Version)
	}

	remote := NewAdapter(time.UTC).Serialize(lecture("evt-2"))
	remote.Title = "主库版本"
	remote.Version = 5
	_ = repo.ApplyRemote(ctx, "u1", []model.EventRecord{remote}, false)
	if got, _ := store.FindOne(ctx, "u1", "evt-2"); got.Title != "推送中修改" {
		t.Errorf("非强制覆盖期望保留本地修改, 实际 %s", got.Title)
	}
	_ = repo.ApplyRemote(ctx, "u1", []model.EventRecord{remote}, true)
	if got, _ := store.FindOne(ctx, "u1", "evt-2"); got.Title != "主库版本" {
		t.Errorf("冲突时期望主库胜出, 实际 %s", got.Title)
	}
	if left, _ := repo.Dirty(ctx, "u1", 10); len(left) != 0 {
		t.Errorf("覆盖后期望无 dirty 记录, 实际 %d", len(left))
	}
}

func TestReplication_Checkpoint(t *testing.T) {
	ctx := context.Background()
	repo := NewReplicationRepo(newTestDB(t))

	if cp, err := repo.GetCheckpoint(ctx, "u1"); cp != nil || err != nil {
		t.Fatalf("初始期望 (nil, nil), 实际 (%v, %v)", cp, err)
	}
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	_ = repo.SaveCheckpoint(ctx, "u1", Checkpoint{ID: "a", ServerTimestamp: ts})
	_ = repo.SaveCheckpoint(ctx, "u1", Checkpoint{ID: "b", ServerTimestamp: ts.Add(time.Minute)})

	cp, err := repo.GetCheckpoint(ctx, "u1")
	if err != nil || cp == nil || cp.ID != "b" || !cp.ServerTimestamp.Equal(ts.Add(time.Minute)) {
		t.Errorf("期望最新检查点 b, 实际 %+v, %v", cp, err)
	}
}

// ═══════════════════════════════════════════════════════════
// SyncRecord
// ═══════════════════════════════════════════════════════════

func TestSyncRecordRepo_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := NewSyncRecordRepo(newTestDB(t))

	if r, err := repo.Get(ctx, "u1", "11310"); r != nil || err != nil {
		t.Fatalf("初始期望 (nil, nil), 实际 (%v, %v)", r, err)
	}

	now := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.Upsert(ctx, &model.SyncRecord{UserID: "u1", Semester: "11310", Courses: []string{"CS101"}, Reason: model.SyncReasonNew, LastSync: now})
	_ = repo.Upsert(ctx, &model.SyncRecord{UserID: "u1", Semester: "11310", Courses: []string{"CS101", "MA201"}, Reason: model.SyncReasonModified, LastSync: now.Add(time.Hour)})
	_ = repo.Upsert(ctx, &model.SyncRecord{UserID: "u1", Semester: "11220", Courses: []string{"PE100"}, Reason: model.SyncReasonNew, LastSync: now})

	got, err := repo.Get(ctx, "u1", "11310")
	if err != nil || got == nil {
		t.Fatalf("Get 失败: %v", err)
	}
	if len(got.Courses) != 2 || got.Reason != model.SyncReasonModified {
		t.Errorf("期望覆盖为最新记录, 实际 %+v", got)
	}
	list, _ := repo.List(ctx, "u1")
	if len(list) != 2 || list[0].Semester != "11220" {
		t.Errorf("List 期望按学期排序的 2 条, 实际 %v", list)
	}
}
