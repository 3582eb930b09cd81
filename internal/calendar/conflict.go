package calendar

import (
	"sort"
	"time"

	"github.com/rdleal/intervalst/interval"
)

// Conflict 两个时间上重叠的分时事件
type Conflict struct {
	First  DisplayEvent
	Second DisplayEvent
}

// Conflicts 找出分时事件之间的重叠（首尾相接不算重叠），全天事件不参与
func Conflicts(display []DisplayEvent) []Conflict {
	_, timed := SplitLanes(display)
	if len(timed) < 2 {
		return nil
	}

	// 相同区间合并为一组，树中每个区间只插入一次
	type span struct{ start, end int64 }
	groups := make(map[span][]int)
	tree := interval.NewSearchTree[span](func(x, y time.Time) int { return x.Compare(y) })
	for i, d := range timed {
		key := span{d.DisplayStart.UnixNano(), d.DisplayEnd.UnixNano()}
		if _, ok := groups[key]; !ok {
			if err := tree.Insert(d.DisplayStart, d.DisplayEnd, key); err != nil {
				continue
			}
		}
		groups[key] = append(groups[key], i)
	}

	var out []Conflict
	seen := make(map[[2]int]bool)
	for i, d := range timed {
		keys, ok := tree.AllIntersections(d.DisplayStart, d.DisplayEnd)
		if !ok {
			continue
		}
		for _, key := range keys {
			for _, j := range groups[key] {
				if j <= i || seen[[2]int{i, j}] {
					continue
				}
				other := timed[j]
				if !d.DisplayStart.Before(other.DisplayEnd) || !other.DisplayStart.Before(d.DisplayEnd) {
					continue
				}
				seen[[2]int{i, j}] = true
				out = append(out, Conflict{First: d, Second: other})
			}
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].First.DisplayStart.Before(out[b].First.DisplayStart)
	})
	return out
}
