package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/now"
)

// EditScope 修改重复事件某次发生时的影响范围
type EditScope string

const (
	ScopeThis      EditScope = "this"
	ScopeFollowing EditScope = "following"
	ScopeAll       EditScope = "all"
)

var (
	ErrInvalidScope       = errors.New("无效的编辑范围")
	ErrOccurrenceNotFound = errors.New("该日期不是此事件的发生日期")
)

// ParseScope 解析编辑范围
func ParseScope(s string) (EditScope, error) {
	switch EditScope(s) {
	case ScopeThis, ScopeFollowing, ScopeAll:
		return EditScope(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
}

// EditPlan 一次编辑/删除需要落到存储上的变更
//
// 执行顺序：Update → Create → Remove；RemoveChildren 表示同时删除所有 ParentID 为原事件的拆分事件。
type EditPlan struct {
	Update         *Event
	Create         []Event
	Remove         []string
	RemoveChildren bool
}

// PlanEdit 计算编辑某次发生后的变更
//
// edited 为用户提交的该次发生的新字段，Start/End 为新的具体时间；
// edited.Repeat 为空时 FOLLOWING 沿用原规则的剩余部分、ALL 保留原规则。
// newID 用于拆分出的新事件。非重复事件任何范围都是原地更新，且可以改期。
func PlanEdit(base Event, scope EditScope, occurrence time.Time, edited Event, newID string) (EditPlan, error) {
	if _, err := ParseScope(string(scope)); err != nil {
		return EditPlan{}, err
	}
	if base.Repeat == nil && edited.Repeat == nil {
		// 单次事件可以改到其他日期
		updated := edited.Clone()
		updated.ID = base.ID
		updated.ParentID = base.ParentID
		updated.ExcludedDates = nil
		return EditPlan{Update: &updated}, nil
	}
	if base.Repeat == nil || scope == ScopeAll {
		return planEditAll(base, edited), nil
	}
	if err := checkOccurrence(base, occurrence); err != nil {
		return EditPlan{}, err
	}

	if scope == ScopeThis {
		updated := base.Clone()
		updated.ExcludedDates = append(updated.ExcludedDates, occurrence)

		child := edited.Clone()
		child.ID = newID
		child.Repeat = nil
		child.ParentID = base.ID
		child.ExcludedDates = nil
		return EditPlan{Update: &updated, Create: []Event{child}}, nil
	}

	truncated, remainder, elapsed, err := splitRepeat(base, occurrence)
	if err != nil {
		return EditPlan{}, err
	}
	if elapsed == 0 {
		return planEditAll(base, edited), nil
	}

	updated := base.Clone()
	updated.Repeat = truncated
	updated.ExcludedDates, _ = partitionExcluded(base, occurrence)

	child := edited.Clone()
	child.ID = newID
	child.ParentID = base.ID
	if child.Repeat == nil {
		child.Repeat = remainder
	}
	_, child.ExcludedDates = partitionExcluded(base, occurrence)
	return EditPlan{Update: &updated, Create: []Event{child}}, nil
}

// PlanDelete 计算删除某次发生后的变更
func PlanDelete(base Event, scope EditScope, occurrence time.Time) (EditPlan, error) {
	if _, err := ParseScope(string(scope)); err != nil {
		return EditPlan{}, err
	}
	if base.Repeat == nil || scope == ScopeAll {
		return EditPlan{Remove: []string{base.ID}, RemoveChildren: true}, nil
	}
	if err := checkOccurrence(base, occurrence); err != nil {
		return EditPlan{}, err
	}

	if scope == ScopeThis {
		updated := base.Clone()
		updated.ExcludedDates = append(updated.ExcludedDates, occurrence)
		return EditPlan{Update: &updated}, nil
	}

	truncated, _, elapsed, err := splitRepeat(base, occurrence)
	if err != nil {
		return EditPlan{}, err
	}
	if elapsed == 0 {
		return EditPlan{Remove: []string{base.ID}, RemoveChildren: true}, nil
	}
	updated := base.Clone()
	updated.Repeat = truncated
	updated.ExcludedDates, _ = partitionExcluded(base, occurrence)
	return EditPlan{Update: &updated}, nil
}

// planEditAll 原地更新：保留原事件日期，应用新的时分、时长与其他字段
func planEditAll(base Event, edited Event) EditPlan {
	updated := base.Clone()
	updated.Title = edited.Title
	updated.Details = edited.Details
	updated.IsAllDay = edited.IsAllDay
	updated.Color = edited.Color
	updated.Tag = edited.Tag
	if !edited.Start.IsZero() && edited.End.After(edited.Start) {
		updated.Start = atTimeOf(base.Start, edited.Start)
		updated.End = updated.Start.Add(edited.Duration())
	}
	if edited.Repeat != nil {
		r := *edited.Repeat
		updated.Repeat = &r
	}
	return EditPlan{Update: &updated}
}

// splitRepeat 在 occurrence 处把规则切成两段
//
// 按次数终止：前段 count 为已发生次数，后段为剩余次数；
// 其他情况：前段按日期终止于 occurrence 前一天结束，后段沿用原终止条件。
func splitRepeat(base Event, occurrence time.Time) (truncated, remainder *RepeatRule, elapsed int, err error) {
	elapsed, err = OccurrencesBefore(base.Start, base.Repeat, dayOf(occurrence, base.Start.Location()))
	if err != nil {
		return nil, nil, 0, err
	}

	t := *base.Repeat
	rem := *base.Repeat
	if base.Repeat.Bound == BoundCount {
		if elapsed >= base.Repeat.Count {
			return nil, nil, 0, ErrOccurrenceNotFound
		}
		t.Count = elapsed
		rem.Count = base.Repeat.Count - elapsed
	} else {
		t.Bound = BoundDate
		t.Count = 0
		t.Until = now.With(dayOf(occurrence, base.Start.Location()).AddDate(0, 0, -1)).EndOfDay()
	}
	return &t, &rem, elapsed, nil
}

// partitionExcluded 按 occurrence 所在日拆分排除日期
func partitionExcluded(base Event, occurrence time.Time) (before, after []time.Time) {
	day := dayOf(occurrence, base.Start.Location())
	for _, ex := range base.ExcludedDates {
		if dayOf(ex, base.Start.Location()).Before(day) {
			before = append(before, ex)
		} else {
			after = append(after, ex)
		}
	}
	return before, after
}

// checkOccurrence 确认 occurrence 所在日确实是一次发生，且未被排除
func checkOccurrence(base Event, occurrence time.Time) error {
	if base.IsExcluded(occurrence) {
		return ErrOccurrenceNotFound
	}
	seq, err := Expand(base.Start, base.Repeat)
	if err != nil {
		return err
	}
	loc := base.Start.Location()
	target := dayOf(occurrence, loc)
	for d := range seq {
		day := dayOf(d, loc)
		if day.Equal(target) {
			return nil
		}
		if day.After(target) {
			break
		}
	}
	return ErrOccurrenceNotFound
}
