package repository

import (
	"fmt"
	"time"

	"campus-portal/internal/calendar"
	"campus-portal/internal/model"
)

// ISOLayout 存储层时间格式：UTC，毫秒精度
const ISOLayout = "2006-01-02T15:04:05.000Z"

// Adapter 日历事件与存储记录之间的双向转换
//
// 存储侧一律为 UTC 字符串；读取时转换到显示时区，排除日期按该时区的自然日比较。
type Adapter struct {
	loc *time.Location
}

// NewAdapter 创建转换器，loc 为空时使用 UTC
func NewAdapter(loc *time.Location) *Adapter {
	if loc == nil {
		loc = time.UTC
	}
	return &Adapter{loc: loc}
}

// Location 显示时区
func (a *Adapter) Location() *time.Location { return a.loc }

// Serialize 事件 → 存储记录（不含用户与复制簿记字段）
func (a *Adapter) Serialize(e calendar.Event) model.EventRecord {
	allDay := e.IsAllDay
	rec := model.EventRecord{
		ID:       e.ID,
		Title:    e.Title,
		Details:  e.Details,
		IsAllDay: &allDay,
		Start:    FormatInstant(e.Start),
		End:      FormatInstant(e.End),
		Color:    e.Color,
		Tag:      e.Tag,
	}

	if r := e.Repeat; r != nil {
		freq := string(r.Frequency)
		interval := r.Step()
		rec.RepeatType = &freq
		rec.RepeatInterval = &interval
		switch r.Bound {
		case calendar.BoundCount:
			n := r.Count
			rec.RepeatCount = &n
		case calendar.BoundDate:
			d := FormatInstant(r.Until)
			rec.RepeatDate = &d
		}
	}

	if len(e.ExcludedDates) > 0 {
		rec.ExcludedDates = make([]string, 0, len(e.ExcludedDates))
		for _, d := range e.ExcludedDates {
			rec.ExcludedDates = append(rec.ExcludedDates, FormatInstant(d))
		}
	}
	if e.ParentID != "" {
		p := e.ParentID
		rec.ParentID = &p
	}
	if last := calendar.LastStart(e.Start, e.Repeat); last != nil {
		s := FormatInstant(*last)
		rec.ActualEnd = &s
	}
	return rec
}

// Deserialize 存储记录 → 事件
//
// 缺省的 is_all_day 视为 false，缺省的 repeat_interval 视为 1。
// 重复类型不在此校验，由展开时报错。
func (a *Adapter) Deserialize(rec model.EventRecord) (calendar.Event, error) {
	start, err := a.parse(rec.Start)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("事件 %s start 格式错误: %w", rec.ID, err)
	}
	end, err := a.parse(rec.End)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("事件 %s end 格式错误: %w", rec.ID, err)
	}

	e := calendar.Event{
		ID:      rec.ID,
		Title:   rec.Title,
		Details: rec.Details,
		Start:   start,
		End:     end,
		Color:   rec.Color,
		Tag:     rec.Tag,
	}
	if rec.IsAllDay != nil {
		e.IsAllDay = *rec.IsAllDay
	}
	if rec.ParentID != nil {
		e.ParentID = *rec.ParentID
	}

	if rec.RepeatType != nil {
		r := &calendar.RepeatRule{Frequency: calendar.Frequency(*rec.RepeatType), Interval: 1, Bound: calendar.BoundNone}
		if rec.RepeatInterval != nil && *rec.RepeatInterval > 0 {
			r.Interval = *rec.RepeatInterval
		}
		if rec.RepeatCount != nil {
			r.Bound = calendar.BoundCount
			r.Count = *rec.RepeatCount
		}
		if rec.RepeatDate != nil {
			until, err := a.parse(*rec.RepeatDate)
			if err != nil {
				return calendar.Event{}, fmt.Errorf("事件 %s repeat_date 格式错误: %w", rec.ID, err)
			}
			// 与 count 同时存在时保留两者，由规则校验报告冲突
			if r.Bound == calendar.BoundNone {
				r.Bound = calendar.BoundDate
			}
			r.Until = until
		}
		e.Repeat = r
	}

	for _, s := range rec.ExcludedDates {
		d, err := a.parse(s)
		if err != nil {
			return calendar.Event{}, fmt.Errorf("事件 %s excluded_dates 格式错误: %w", rec.ID, err)
		}
		e.ExcludedDates = append(e.ExcludedDates, d)
	}
	return e, nil
}

func (a *Adapter) parse(s string) (time.Time, error) {
	t, err := ParseInstant(s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(a.loc), nil
}

// FormatInstant 格式化为存储字符串
func FormatInstant(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// ParseInstant 解析存储字符串；兼容不带毫秒或带时区偏移的 RFC 3339
func ParseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(ISOLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
