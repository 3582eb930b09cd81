package calendar

import (
	"fmt"
	"sort"
	"time"
)

// Clip 将事件展开并裁剪到 [windowStart, windowEnd]（闭区间）
//
// 每次发生保留原事件的时分与时长；被排除日期跳过。
// 结果按源事件分组，组内按时间升序，跨事件不保证顺序。
func Clip(events []Event, windowStart, windowEnd time.Time) ([]DisplayEvent, error) {
	var out []DisplayEvent
	for _, e := range events {
		ie := Internalize(e)
		seq, err := Expand(e.Start, e.Repeat)
		if err != nil {
			return nil, fmt.Errorf("展开事件 %s 失败: %w", e.ID, err)
		}
		dur := e.Duration()

		for d := range seq {
			start := atTimeOf(d, e.Start)
			// 展开按时间有序，越过窗口或截止时间即可停止
			if start.After(windowEnd) {
				break
			}
			if ie.ActualEnd != nil && start.After(*ie.ActualEnd) {
				break
			}
			if start.Before(windowStart) {
				continue
			}
			if e.IsExcluded(start) {
				continue
			}
			out = append(out, DisplayEvent{
				InternalEvent: ie,
				DisplayStart:  start,
				DisplayEnd:    start.Add(dur),
			})
		}
	}
	return out, nil
}

// SplitLanes 从同一份 Clip 结果拆出全天泳道与分时泳道
//
// 全天泳道按开始时间、跨度降序排列（便于多日事件占用同一行），分时泳道按开始时间排列。
func SplitLanes(display []DisplayEvent) (allDay, timed []DisplayEvent) {
	for _, d := range display {
		if d.IsAllDay {
			allDay = append(allDay, d)
		} else {
			timed = append(timed, d)
		}
	}
	sort.SliceStable(allDay, func(i, j int) bool {
		if !allDay[i].DisplayStart.Equal(allDay[j].DisplayStart) {
			return allDay[i].DisplayStart.Before(allDay[j].DisplayStart)
		}
		return allDay[i].Span() > allDay[j].Span()
	})
	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].DisplayStart.Before(timed[j].DisplayStart)
	})
	return allDay, timed
}
