package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"campus-portal/internal/academic"
	"campus-portal/internal/calendar"
	"campus-portal/internal/dto"
	"campus-portal/internal/model"
	"campus-portal/internal/repository"
)

// ── 课表同步模块业务错误 ──

var (
	ErrSyncRequestNotFound = errors.New("该学期没有待确认的同步请求")
	ErrSyncProjectFailed   = errors.New("课表投影失败")
)

// ── TimetableSyncService 接口 ───────────────────────────────
//
// 设计说明：
//   - 每个学期独立判断：无同步记录 → new；课程集合有差异 → modified；一致 → 不提示
//   - 判断结果进入用户的待确认队列，同一学期只保留最新一条，按学期逐个呈现
//   - 接受：逐条 upsert 投影事件，删除本学期已退选课程的事件，再写同步记录
//   - 拒绝：只写同步记录，同样的差异不再提示
//   - 接受 / 拒绝之后从队列移除，不影响其他学期
// ─────────────────────────────────────────────────────────────

// TimetableSyncService 课表同步业务接口
type TimetableSyncService interface {
	// Evaluate 对比当前选课与同步记录，新产生的请求进入待确认队列
	Evaluate(ctx context.Context, userID string, req *dto.SyncCheckRequest) (*dto.SyncCheckResponse, error)
	// Pending 返回队首请求与剩余数量
	Pending(ctx context.Context, userID string) (*dto.PendingSyncResponse, error)
	// Accept 接受某学期的同步请求
	Accept(ctx context.Context, userID, semester string) (*dto.SyncDecisionResponse, error)
	// Decline 拒绝某学期的同步请求
	Decline(ctx context.Context, userID, semester string) (*dto.SyncDecisionResponse, error)
	// Records 已确认的同步记录
	Records(ctx context.Context, userID string) ([]dto.SyncRecordResponse, error)
}

type timetableSyncService struct {
	repo      *repository.Repository
	projector *Projector
	queue     PendingQueue
	language  string
	logger    *zap.Logger
	now       func() time.Time
}

// NewTimetableSyncService 创建 TimetableSyncService 实例
func NewTimetableSyncService(repo *repository.Repository, projector *Projector, queue PendingQueue, defaultLanguage string, logger *zap.Logger) TimetableSyncService {
	return &timetableSyncService{
		repo:      repo,
		projector: projector,
		queue:     queue,
		language:  defaultLanguage,
		logger:    logger,
		now:       time.Now,
	}
}

// ════════════════════════════════════════════════════════════
// Evaluate — 检查各学期是否需要同步
// ════════════════════════════════════════════════════════════
//
// 流程：
//   1. 按学期分组，课程集合去重排序
//   2. 先整体投影一次，学期或节次未知时直接报错，不产生任何请求
//   3. 逐学期对比同步记录，需要提示的写入队列；已一致的学期清掉旧请求

func (s *timetableSyncService) Evaluate(ctx context.Context, userID string, req *dto.SyncCheckRequest) (*dto.SyncCheckResponse, error) {
	lang := req.Language
	if lang == "" {
		lang = s.language
	}

	// 1. 分组
	groups := make(map[string][]academic.CourseTimeslotData)
	for _, sec := range req.Sections {
		groups[sec.Semester] = append(groups[sec.Semester], sec)
	}
	semesters := make([]string, 0, len(groups))
	for sem := range groups {
		semesters = append(semesters, sem)
	}
	sort.Strings(semesters)

	// 2. 投影校验
	projected := make(map[string][]calendar.Event, len(groups))
	for _, sem := range semesters {
		events, err := s.projector.Project(groups[sem], lang)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSyncProjectFailed, err)
		}
		projected[sem] = events
	}

	// 3. 逐学期对比
	resp := &dto.SyncCheckResponse{Requests: []dto.SyncRequestResponse{}}
	for _, sem := range semesters {
		courses := courseIDs(groups[sem])
		if len(courses) == 0 {
			continue
		}

		record, err := s.repo.SyncRecord.Get(ctx, userID, sem)
		if err != nil {
			s.logger.Error("查询同步记录失败", zap.String("semester", sem), zap.Error(err))
			return nil, err
		}

		reason := model.SyncReasonNew
		if record != nil {
			if sameCourses(record.Courses, courses) {
				if _, err := s.queue.Remove(ctx, userID, sem); err != nil {
					s.logger.Warn("清理过期同步请求失败", zap.String("semester", sem), zap.Error(err))
				}
				continue
			}
			reason = model.SyncReasonModified
		}

		pending := SyncRequest{
			Semester:   sem,
			Reason:     reason,
			Courses:    courses,
			Language:   lang,
			Sections:   groups[sem],
			EventCount: len(projected[sem]),
		}
		if err := s.queue.Put(ctx, userID, pending); err != nil {
			s.logger.Error("写入待确认队列失败", zap.String("semester", sem), zap.Error(err))
			return nil, err
		}
		resp.Requests = append(resp.Requests, newSyncRequestResponse(pending))
	}
	return resp, nil
}

// ════════════════════════════════════════════════════════════
// Pending — 逐个呈现待确认请求
// ════════════════════════════════════════════════════════════

func (s *timetableSyncService) Pending(ctx context.Context, userID string) (*dto.PendingSyncResponse, error) {
	reqs, err := s.queue.List(ctx, userID)
	if err != nil {
		s.logger.Error("读取待确认队列失败", zap.Error(err))
		return nil, err
	}
	if len(reqs) == 0 {
		return &dto.PendingSyncResponse{}, nil
	}
	head := newSyncRequestResponse(reqs[0])
	return &dto.PendingSyncResponse{
		Request:   &head,
		Remaining: len(reqs) - 1,
	}, nil
}

// ════════════════════════════════════════════════════════════
// Accept — 接受同步
// ════════════════════════════════════════════════════════════
//
// 流程：
//   1. 取出请求并重新投影
//   2. 逐条 upsert（顺序执行，避免同一事件并发写入）
//   3. 删除本学期已不在投影中的课程事件
//   4. 写同步记录，出队

func (s *timetableSyncService) Accept(ctx context.Context, userID, semester string) (*dto.SyncDecisionResponse, error) {
	req, err := s.take(ctx, userID, semester)
	if err != nil {
		return nil, err
	}
	// 没有课程的学期不落库，直接出队
	if len(req.Courses) == 0 {
		s.dequeue(ctx, userID, semester)
		return &dto.SyncDecisionResponse{Semester: semester, Accepted: true}, nil
	}

	// 1. 投影
	events, err := s.projector.Project(req.Sections, req.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyncProjectFailed, err)
	}

	// 2. 落库
	keep := make(map[string]bool, len(events))
	for _, e := range events {
		if err := s.carryEdits(ctx, userID, &e); err != nil {
			return nil, err
		}
		if err := s.repo.Event.Upsert(ctx, userID, e); err != nil {
			s.logger.Error("写入课程事件失败", zap.String("event_id", e.ID), zap.Error(err))
			return nil, err
		}
		keep[e.ID] = true
	}

	// 3. 清理退选课程
	if err := s.removeDropped(ctx, userID, semester, keep); err != nil {
		return nil, err
	}

	// 4. 同步记录
	record, err := s.saveRecord(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	s.dequeue(ctx, userID, semester)

	s.logger.Info("课表同步完成",
		zap.String("user_id", userID),
		zap.String("semester", semester),
		zap.Int("events", len(events)),
	)
	return &dto.SyncDecisionResponse{
		Semester:   semester,
		Accepted:   true,
		EventCount: len(events),
		LastSync:   record.LastSync,
	}, nil
}

// ════════════════════════════════════════════════════════════
// Decline — 拒绝同步
// ════════════════════════════════════════════════════════════

func (s *timetableSyncService) Decline(ctx context.Context, userID, semester string) (*dto.SyncDecisionResponse, error) {
	req, err := s.take(ctx, userID, semester)
	if err != nil {
		return nil, err
	}
	record, err := s.saveRecord(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	s.dequeue(ctx, userID, semester)
	return &dto.SyncDecisionResponse{Semester: semester, LastSync: record.LastSync}, nil
}

func (s *timetableSyncService) Records(ctx context.Context, userID string) ([]dto.SyncRecordResponse, error) {
	records, err := s.repo.SyncRecord.List(ctx, userID)
	if err != nil {
		s.logger.Error("查询同步记录失败", zap.Error(err))
		return nil, err
	}
	out := make([]dto.SyncRecordResponse, 0, len(records))
	for i := range records {
		out = append(out, dto.NewSyncRecordResponse(&records[i]))
	}
	return out, nil
}

// ── 内部方法 ──

func (s *timetableSyncService) take(ctx context.Context, userID, semester string) (*SyncRequest, error) {
	req, err := s.queue.Get(ctx, userID, semester)
	if err != nil {
		s.logger.Error("读取待确认请求失败", zap.String("semester", semester), zap.Error(err))
		return nil, err
	}
	if req == nil {
		return nil, ErrSyncRequestNotFound
	}
	return req, nil
}

// dequeue 出队失败只记日志：同步记录已写入，下次检查会清理该请求
func (s *timetableSyncService) dequeue(ctx context.Context, userID, semester string) {
	if _, err := s.queue.Remove(ctx, userID, semester); err != nil {
		s.logger.Warn("移除待确认请求失败", zap.String("semester", semester), zap.Error(err))
	}
}

func (s *timetableSyncService) saveRecord(ctx context.Context, userID string, req *SyncRequest) (*model.SyncRecord, error) {
	record := &model.SyncRecord{
		UserID:   userID,
		Semester: req.Semester,
		Courses:  req.Courses,
		Reason:   req.Reason,
		LastSync: s.now().UTC(),
	}
	if err := s.repo.SyncRecord.Upsert(ctx, record); err != nil {
		s.logger.Error("写入同步记录失败", zap.String("semester", req.Semester), zap.Error(err))
		return nil, err
	}
	return record, nil
}

// carryEdits 保留用户对已落库课程事件做过的编辑
//
// 排除日期总是保留；已有拆分事件时沿用原规则，避免 FOLLOWING 截断后的规则被恢复成整学期。
func (s *timetableSyncService) carryEdits(ctx context.Context, userID string, e *calendar.Event) error {
	prev, err := s.repo.Event.FindOne(ctx, userID, e.ID)
	if err != nil {
		s.logger.Error("查询课程事件失败", zap.String("event_id", e.ID), zap.Error(err))
		return err
	}
	if prev == nil {
		return nil
	}
	e.ExcludedDates = prev.ExcludedDates
	children, err := s.repo.Event.FindChildren(ctx, userID, e.ID)
	if err != nil {
		s.logger.Error("查询拆分事件失败", zap.String("event_id", e.ID), zap.Error(err))
		return err
	}
	if len(children) > 0 && prev.Repeat != nil {
		e.Repeat = prev.Repeat
	}
	return nil
}

// removeDropped 删除本学期第一周内开始、但不在本次投影中的课程事件
//
// 保留课程的拆分事件（ParentID 在 keep 中）属于用户编辑，不删除。
func (s *timetableSyncService) removeDropped(ctx context.Context, userID, semester string, keep map[string]bool) error {
	sem, err := s.projector.Tables().Semester(semester)
	if err != nil {
		return nil
	}
	from := sem.Begins
	to := sem.Begins.AddDate(0, 0, 7)
	existing, err := s.repo.Event.Find(ctx, userID, repository.Selector{From: &from, To: &to, Tag: CourseTag})
	if err != nil {
		s.logger.Error("查询课程事件失败", zap.Error(err))
		return err
	}
	for _, e := range existing {
		if keep[e.ID] || keep[e.ParentID] || e.Start.Before(from) || !e.Start.Before(to) {
			continue
		}
		if _, err := s.repo.Event.Remove(ctx, userID, e.ID); err != nil {
			s.logger.Error("删除退选课程事件失败", zap.String("event_id", e.ID), zap.Error(err))
			return err
		}
	}
	return nil
}

func newSyncRequestResponse(req SyncRequest) dto.SyncRequestResponse {
	return dto.SyncRequestResponse{
		Semester:   req.Semester,
		Reason:     req.Reason,
		Courses:    req.Courses,
		EventCount: req.EventCount,
	}
}

// courseIDs 去重并排序
func courseIDs(sections []academic.CourseTimeslotData) []string {
	seen := make(map[string]bool, len(sections))
	out := make([]string, 0, len(sections))
	for _, sec := range sections {
		if sec.CourseID == "" || seen[sec.CourseID] {
			continue
		}
		seen[sec.CourseID] = true
		out = append(out, sec.CourseID)
	}
	sort.Strings(out)
	return out
}

// sameCourses 对称差为空
func sameCourses(stored []string, current []string) bool {
	a := make(map[string]bool, len(stored))
	for _, c := range stored {
		a[c] = true
	}
	b := make(map[string]bool, len(current))
	for _, c := range current {
		b[c] = true
		if !a[c] {
			return false
		}
	}
	for c := range a {
		if !b[c] {
			return false
		}
	}
	return true
}
