package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campus-portal/internal/calendar"
	"campus-portal/internal/dto"
	"campus-portal/internal/repository"
)

// ── 日历模块业务错误 ──

var (
	ErrEventNotFound  = errors.New("日历事件不存在")
	ErrEventInvalid   = errors.New("日历事件参数无效")
	ErrICSParseFailed = errors.New("ICS 文件解析失败")
	ErrICSEmpty       = errors.New("ICS 文件中未发现可导入的事件")
)

// ── CalendarService 接口 ────────────────────────────────────
//
// 设计说明：
//   - 查询：按窗口取出可能命中的事件，展开裁剪为具体发生，再拆成全天 / 分时两条泳道
//   - 编辑 / 删除某次发生由 calendar 包计算 EditPlan，这里只负责按
//     Update → Create → Remove 的顺序依次落库（不并发写同一事件）
//   - 事件不存在时存储返回 nil / false，这里统一转为 ErrEventNotFound
// ─────────────────────────────────────────────────────────────

// CalendarService 日历模块业务接口
type CalendarService interface {
	// List 查询窗口内的发生，按泳道返回
	List(ctx context.Context, userID string, q *dto.WindowQuery) (*dto.ListEventsResponse, error)
	// Create 创建事件
	Create(ctx context.Context, userID string, req *dto.EventRequest) (*dto.EventResponse, error)
	// Get 获取事件原始定义
	Get(ctx context.Context, userID, id string) (*dto.EventResponse, error)
	// EditOccurrence 按 THIS / FOLLOWING / ALL 编辑某次发生
	EditOccurrence(ctx context.Context, userID, id string, req *dto.EditOccurrenceRequest) (*dto.EditPlanResponse, error)
	// DeleteOccurrence 按 THIS / FOLLOWING / ALL 删除某次发生
	DeleteOccurrence(ctx context.Context, userID, id string, q *dto.DeleteOccurrenceQuery) (*dto.EditPlanResponse, error)
	// Conflicts 窗口内互相重叠的分时发生
	Conflicts(ctx context.Context, userID string, q *dto.WindowQuery) ([]dto.ConflictResponse, error)
	// ImportICS 导入 ICS，按 UID upsert
	ImportICS(ctx context.Context, userID string, reader io.Reader) (*dto.ImportEventsResponse, error)
	// ImportICSURL 从订阅地址导入 ICS
	ImportICSURL(ctx context.Context, userID, url string) (*dto.ImportEventsResponse, error)
}

type calendarService struct {
	repo   *repository.Repository
	logger *zap.Logger
	newID  func() string
}

// NewCalendarService 创建 CalendarService 实例
func NewCalendarService(repo *repository.Repository, logger *zap.Logger) CalendarService {
	return &calendarService{repo: repo, logger: logger, newID: uuid.NewString}
}

// ════════════════════════════════════════════════════════════
// List — 窗口查询
// ════════════════════════════════════════════════════════════

func (s *calendarService) List(ctx context.Context, userID string, q *dto.WindowQuery) (*dto.ListEventsResponse, error) {
	display, err := s.clip(ctx, userID, q)
	if err != nil {
		return nil, err
	}
	allDay, timed := calendar.SplitLanes(display)
	return &dto.ListEventsResponse{
		AllDay: toDisplayResponses(allDay),
		Timed:  toDisplayResponses(timed),
	}, nil
}

// ════════════════════════════════════════════════════════════
// Create — 创建事件
// ════════════════════════════════════════════════════════════

func (s *calendarService) Create(ctx context.Context, userID string, req *dto.EventRequest) (*dto.EventResponse, error) {
	e := toEvent(req, s.newID(), s.location())
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEventInvalid, err)
	}
	if err := s.repo.Event.Insert(ctx, userID, e); err != nil {
		s.logger.Error("创建日历事件失败", zap.Error(err))
		return nil, err
	}
	resp := toEventResponse(e)
	return &resp, nil
}

// ════════════════════════════════════════════════════════════
// Get — 获取事件
// ════════════════════════════════════════════════════════════

func (s *calendarService) Get(ctx context.Context, userID, id string) (*dto.EventResponse, error) {
	e, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	resp := toEventResponse(*e)
	return &resp, nil
}

// ════════════════════════════════════════════════════════════
// EditOccurrence — 编辑某次发生
// ════════════════════════════════════════════════════════════
//
// 流程：
//   1. 读取原事件，解析范围
//   2. 计算 EditPlan（THIS 拆出单次事件；FOLLOWING 截断原规则并拆出后续；ALL 原地更新）
//   3. 校验计划中的每个事件后依次落库

func (s *calendarService) EditOccurrence(ctx context.Context, userID, id string, req *dto.EditOccurrenceRequest) (*dto.EditPlanResponse, error) {
	// 1. 原事件
	base, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	scope, err := calendar.ParseScope(req.Scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEventInvalid, err)
	}

	// 2. 计划
	edited := toEvent(&req.Event, base.ID, s.location())
	if err := edited.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEventInvalid, err)
	}
	plan, err := calendar.PlanEdit(*base, scope, req.OccurrenceStart.In(s.location()), edited, s.newID())
	if err != nil {
		return nil, err
	}

	// 3. 落库
	return s.apply(ctx, userID, plan)
}

// ════════════════════════════════════════════════════════════
// DeleteOccurrence — 删除某次发生
// ════════════════════════════════════════════════════════════

func (s *calendarService) DeleteOccurrence(ctx context.Context, userID, id string, q *dto.DeleteOccurrenceQuery) (*dto.EditPlanResponse, error) {
	base, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	scope, err := calendar.ParseScope(q.Scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEventInvalid, err)
	}
	plan, err := calendar.PlanDelete(*base, scope, q.OccurrenceStart.In(s.location()))
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, userID, plan)
}

// ════════════════════════════════════════════════════════════
// Conflicts — 冲突检测
// ════════════════════════════════════════════════════════════

func (s *calendarService) Conflicts(ctx context.Context, userID string, q *dto.WindowQuery) ([]dto.ConflictResponse, error) {
	display, err := s.clip(ctx, userID, q)
	if err != nil {
		return nil, err
	}
	conflicts := calendar.Conflicts(display)
	out := make([]dto.ConflictResponse, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, dto.ConflictResponse{
			First:  toDisplayResponse(c.First),
			Second: toDisplayResponse(c.Second),
		})
	}
	return out, nil
}

// ════════════════════════════════════════════════════════════
// ImportICS — 导入 ICS
// ════════════════════════════════════════════════════════════
//
// 流程：
//   1. 解析为事件（无法表达的 VEVENT 跳过并计数）
//   2. 逐条 upsert，父事件先于拆分事件写入

func (s *calendarService) ImportICS(ctx context.Context, userID string, reader io.Reader) (*dto.ImportEventsResponse, error) {
	// 1. 解析
	events, skipped, err := ParseICS(reader, s.location())
	if err != nil {
		s.logger.Warn("ICS 解析失败", zap.Error(err))
		return nil, ErrICSParseFailed
	}
	if len(events) == 0 {
		return nil, ErrICSEmpty
	}

	// 2. 落库
	resp := &dto.ImportEventsResponse{Skipped: skipped, Events: make([]dto.EventResponse, 0, len(events))}
	for _, e := range events {
		if err := s.repo.Event.Upsert(ctx, userID, e); err != nil {
			s.logger.Error("导入事件失败", zap.String("event_id", e.ID), zap.Error(err))
			return nil, err
		}
		resp.Events = append(resp.Events, toEventResponse(e))
	}
	resp.ImportedCount = len(resp.Events)
	return resp, nil
}

func (s *calendarService) ImportICSURL(ctx context.Context, userID, url string) (*dto.ImportEventsResponse, error) {
	body, err := FetchICSContent(ctx, url)
	if err != nil {
		s.logger.Warn("获取 ICS 订阅失败", zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrICSParseFailed, err)
	}
	defer body.Close()
	return s.ImportICS(ctx, userID, body)
}

// ── 内部方法 ──

func (s *calendarService) location() *time.Location {
	return s.repo.Adapter.Location()
}

func (s *calendarService) load(ctx context.Context, userID, id string) (*calendar.Event, error) {
	e, err := s.repo.Event.FindOne(ctx, userID, id)
	if err != nil {
		s.logger.Error("查询日历事件失败", zap.String("event_id", id), zap.Error(err))
		return nil, err
	}
	if e == nil {
		return nil, ErrEventNotFound
	}
	return e, nil
}

func (s *calendarService) clip(ctx context.Context, userID string, q *dto.WindowQuery) ([]calendar.DisplayEvent, error) {
	from, to := q.Start.In(s.location()), q.End.In(s.location())
	events, err := s.repo.Event.Find(ctx, userID, repository.Selector{From: &from, To: &to})
	if err != nil {
		s.logger.Error("窗口查询失败", zap.Error(err))
		return nil, err
	}
	return calendar.Clip(events, from, to)
}

// apply 在同一事务中依次执行 Update → Create → Remove，任一步失败整体回滚
func (s *calendarService) apply(ctx context.Context, userID string, plan calendar.EditPlan) (*dto.EditPlanResponse, error) {
	if plan.Update != nil {
		if err := plan.Update.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEventInvalid, err)
		}
	}
	for _, e := range plan.Create {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEventInvalid, err)
		}
	}

	var resp *dto.EditPlanResponse
	err := s.repo.Event.Transaction(ctx, func(tx repository.EventStore) error {
		r, err := s.applyTx(ctx, tx, userID, plan)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *calendarService) applyTx(ctx context.Context, tx repository.EventStore, userID string, plan calendar.EditPlan) (*dto.EditPlanResponse, error) {
	resp := &dto.EditPlanResponse{Created: []dto.EventResponse{}, Removed: []string{}}

	if plan.Update != nil {
		ok, err := tx.Update(ctx, userID, *plan.Update)
		if err != nil {
			s.logger.Error("更新日历事件失败", zap.String("event_id", plan.Update.ID), zap.Error(err))
			return nil, err
		}
		if !ok {
			return nil, ErrEventNotFound
		}
		updated := toEventResponse(*plan.Update)
		resp.Updated = &updated
	}

	for _, e := range plan.Create {
		if err := tx.Insert(ctx, userID, e); err != nil {
			s.logger.Error("创建拆分事件失败", zap.String("event_id", e.ID), zap.Error(err))
			return nil, err
		}
		resp.Created = append(resp.Created, toEventResponse(e))
	}

	for _, id := range plan.Remove {
		if plan.RemoveChildren {
			children, err := tx.FindChildren(ctx, userID, id)
			if err != nil {
				s.logger.Error("查询拆分事件失败", zap.String("event_id", id), zap.Error(err))
				return nil, err
			}
			for _, child := range children {
				if _, err := tx.Remove(ctx, userID, child.ID); err != nil {
					s.logger.Error("删除拆分事件失败", zap.String("event_id", child.ID), zap.Error(err))
					return nil, err
				}
				resp.Removed = append(resp.Removed, child.ID)
			}
		}
		ok, err := tx.Remove(ctx, userID, id)
		if err != nil {
			s.logger.Error("删除日历事件失败", zap.String("event_id", id), zap.Error(err))
			return nil, err
		}
		if ok {
			resp.Removed = append(resp.Removed, id)
		}
	}
	return resp, nil
}

// ── 转换 ──

// toEvent 请求 → 事件，时间转换到显示时区
func toEvent(req *dto.EventRequest, id string, loc *time.Location) calendar.Event {
	e := calendar.Event{
		ID:       id,
		Title:    req.Title,
		Details:  req.Details,
		IsAllDay: req.IsAllDay,
		Start:    req.Start.In(loc),
		End:      req.End.In(loc),
		Color:    req.Color,
		Tag:      req.Tag,
	}
	if r := req.Repeat; r != nil {
		freq := calendar.Frequency(r.Type)
		switch {
		case r.Count != nil:
			e.Repeat = calendar.CountBounded(freq, r.Interval, *r.Count)
		case r.Until != nil:
			e.Repeat = calendar.DateBounded(freq, r.Interval, r.Until.In(loc))
		default:
			e.Repeat = calendar.Unbounded(freq, r.Interval)
		}
	}
	return e
}

func toEventResponse(e calendar.Event) dto.EventResponse {
	resp := dto.EventResponse{
		ID:            e.ID,
		Title:         e.Title,
		Details:       e.Details,
		IsAllDay:      e.IsAllDay,
		Start:         e.Start,
		End:           e.End,
		Color:         e.Color,
		Tag:           e.Tag,
		ExcludedDates: e.ExcludedDates,
		ParentID:      e.ParentID,
		ActualEnd:     calendar.LastStart(e.Start, e.Repeat),
	}
	if resp.ExcludedDates == nil {
		resp.ExcludedDates = []time.Time{}
	}
	if r := e.Repeat; r != nil {
		p := &dto.RepeatPayload{Type: string(r.Frequency), Interval: r.Step()}
		switch r.Bound {
		case calendar.BoundCount:
			n := r.Count
			p.Count = &n
		case calendar.BoundDate:
			u := r.Until
			p.Until = &u
		}
		resp.Repeat = p
	}
	return resp
}

func toDisplayResponse(d calendar.DisplayEvent) dto.DisplayEventResponse {
	return dto.DisplayEventResponse{
		EventResponse: toEventResponse(d.Event),
		DisplayStart:  d.DisplayStart,
		DisplayEnd:    d.DisplayEnd,
	}
}

func toDisplayResponses(display []calendar.DisplayEvent) []dto.DisplayEventResponse {
	out := make([]dto.DisplayEventResponse, 0, len(display))
	for _, d := range display {
		out = append(out, toDisplayResponse(d))
	}
	return out
}
