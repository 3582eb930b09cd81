package dto

import (
	"fmt"
	"time"
)

// ── 日历事件 ──

// RepeatPayload 重复规则；count 与 until 至多出现一个，都缺省表示无限重复
type RepeatPayload struct {
	Type     string     `json:"type" binding:"required,oneof=daily weekly monthly yearly"`
	Interval int        `json:"interval" binding:"omitempty,min=1,max=365"`
	Count    *int       `json:"count,omitempty" binding:"omitempty,min=1"`
	Until    *time.Time `json:"until,omitempty"`
}

// EventRequest 创建事件 / 编辑某次发生时提交的事件字段
type EventRequest struct {
	Title    string         `json:"title" binding:"required,max=200"`
	Details  string         `json:"details" binding:"omitempty,max=2000"`
	IsAllDay bool           `json:"is_all_day"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Repeat   *RepeatPayload `json:"repeat" binding:"omitempty"`
	Color    string         `json:"color" binding:"omitempty,max=32"`
	Tag      string         `json:"tag" binding:"omitempty,max=64"`
}

// Validate 校验时间与重复规则的联动约束
func (r *EventRequest) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("start 与 end 不能为空")
	}
	if !r.End.After(r.Start) {
		return fmt.Errorf("end 必须晚于 start")
	}
	if r.Repeat != nil && r.Repeat.Count != nil && r.Repeat.Until != nil {
		return fmt.Errorf("repeat.count 与 repeat.until 不能同时指定")
	}
	return nil
}

// EditOccurrenceRequest 编辑重复事件的某次发生
type EditOccurrenceRequest struct {
	Scope           string       `json:"scope" binding:"required,oneof=this following all"`
	OccurrenceStart time.Time    `json:"occurrence_start"`
	Event           EventRequest `json:"event" binding:"required"`
}

// Validate 校验业务规则
func (r *EditOccurrenceRequest) Validate() error {
	if r.Scope != "all" && r.OccurrenceStart.IsZero() {
		return fmt.Errorf("scope 为 %s 时必须指定 occurrence_start", r.Scope)
	}
	return r.Event.Validate()
}

// DeleteOccurrenceQuery 删除某次发生的查询参数
type DeleteOccurrenceQuery struct {
	Scope           string    `form:"scope" binding:"required,oneof=this following all"`
	OccurrenceStart time.Time `form:"occurrence_start"`
}

// WindowQuery 显示窗口查询参数（RFC 3339）
type WindowQuery struct {
	Start time.Time `form:"start"`
	End   time.Time `form:"end"`
}

// Validate 校验窗口合法性，maxDays 为 0 表示不限制跨度
func (q *WindowQuery) Validate(maxDays int) error {
	if q.Start.IsZero() || q.End.IsZero() {
		return fmt.Errorf("start 与 end 不能为空")
	}
	if q.End.Before(q.Start) {
		return fmt.Errorf("end 不能早于 start")
	}
	if maxDays > 0 && q.End.Sub(q.Start) > time.Duration(maxDays)*24*time.Hour {
		return fmt.Errorf("查询窗口不能超过 %d 天", maxDays)
	}
	return nil
}

// EventResponse 事件响应
type EventResponse struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Details       string         `json:"details"`
	IsAllDay      bool           `json:"is_all_day"`
	Start         time.Time      `json:"start"`
	End           time.Time      `json:"end"`
	Repeat        *RepeatPayload `json:"repeat"`
	Color         string         `json:"color"`
	Tag           string         `json:"tag"`
	ExcludedDates []time.Time    `json:"excluded_dates"`
	ParentID      string         `json:"parent_id,omitempty"`
	ActualEnd     *time.Time     `json:"actual_end"`
}

// DisplayEventResponse 窗口内的一次具体发生
type DisplayEventResponse struct {
	EventResponse
	DisplayStart time.Time `json:"display_start"`
	DisplayEnd   time.Time `json:"display_end"`
}

// ListEventsResponse 窗口查询响应，全天与分时两条泳道
type ListEventsResponse struct {
	AllDay []DisplayEventResponse `json:"all_day"`
	Timed  []DisplayEventResponse `json:"timed"`
}

// EditPlanResponse 编辑 / 删除实际落库的变更
type EditPlanResponse struct {
	Updated *EventResponse  `json:"updated,omitempty"`
	Created []EventResponse `json:"created"`
	Removed []string        `json:"removed"`
}

// ConflictResponse 两次重叠的发生
type ConflictResponse struct {
	First  DisplayEventResponse `json:"first"`
	Second DisplayEventResponse `json:"second"`
}

// ── ICS 导入 ──

// ImportICSRequest ICS 导入请求（用于 URL 方式）
type ImportICSRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// ImportEventsResponse ICS 导入响应
type ImportEventsResponse struct {
	ImportedCount int             `json:"imported_count"`
	Skipped       int             `json:"skipped"`
	Events        []EventResponse `json:"events"`
}
