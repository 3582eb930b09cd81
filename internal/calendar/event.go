package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/now"
)

var ErrInvalidEvent = errors.New("无效的日历事件")

// Event 日历事件（基础形态）
type Event struct {
	ID            string
	Title         string
	Details       string
	IsAllDay      bool
	Start         time.Time
	End           time.Time
	Repeat        *RepeatRule
	Color         string
	Tag           string
	ExcludedDates []time.Time
	ParentID      string // 由 THIS / FOLLOWING 编辑拆分出的事件指向原事件
}

// Validate 校验事件字段
func (e Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: 标题不能为空", ErrInvalidEvent)
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return fmt.Errorf("%w: 起止时间不能为空", ErrInvalidEvent)
	}
	if !e.End.After(e.Start) {
		return fmt.Errorf("%w: 结束时间必须晚于开始时间", ErrInvalidEvent)
	}
	if e.Repeat != nil {
		return e.Repeat.Validate()
	}
	return nil
}

// Duration 单次发生的时长
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// IsExcluded 判断 t 所在日期是否被排除（按事件所在时区的自然日比较）
func (e Event) IsExcluded(t time.Time) bool {
	if len(e.ExcludedDates) == 0 {
		return false
	}
	day := dayOf(t, e.Start.Location())
	for _, ex := range e.ExcludedDates {
		if dayOf(ex, e.Start.Location()).Equal(day) {
			return true
		}
	}
	return false
}

// Clone 深拷贝，避免编辑时共享 Repeat / ExcludedDates
func (e Event) Clone() Event {
	cp := e
	if e.Repeat != nil {
		r := *e.Repeat
		cp.Repeat = &r
	}
	if e.ExcludedDates != nil {
		cp.ExcludedDates = append([]time.Time(nil), e.ExcludedDates...)
	}
	return cp
}

// InternalEvent 携带派生截止时间的事件
//
// ActualEnd 为最后一个可能的发生开始时间：非重复事件为 Start，
// 按次数终止为最后一次发生，按日期终止为终止日结束时刻，无限重复为 nil。
// FOLLOWING 编辑会改写原事件的终止条件，因此拆分点自然体现在这里。
type InternalEvent struct {
	Event
	ActualEnd *time.Time
}

// Internalize 计算 ActualEnd
func Internalize(e Event) InternalEvent {
	return InternalEvent{Event: e, ActualEnd: LastStart(e.Start, e.Repeat)}
}

// DisplayEvent 某一次具体发生，已裁剪到查询窗口
type DisplayEvent struct {
	InternalEvent
	DisplayStart time.Time
	DisplayEnd   time.Time
}

// Span 显示时长
func (d DisplayEvent) Span() time.Duration {
	return d.DisplayEnd.Sub(d.DisplayStart)
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	return now.With(t.In(loc)).BeginningOfDay()
}

// atTimeOf 取 date 的年月日与 clock 的时分秒
func atTimeOf(date, clock time.Time) time.Time {
	d := date.In(clock.Location())
	return time.Date(d.Year(), d.Month(), d.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), clock.Location())
}
