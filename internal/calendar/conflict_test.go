package calendar

import (
	"testing"
	"time"
)

func TestConflicts(t *testing.T) {
	events := []Event{
		{ID: "a", Title: "线性代数", Start: at(3, 4, 9), End: at(3, 4, 11)},
		{ID: "b", Title: "社团", Start: at(3, 4, 10), End: at(3, 4, 12)},
		{ID: "c", Title: "午餐", Start: at(3, 4, 12), End: at(3, 4, 13)},
		{ID: "d", Title: "答疑", Start: at(3, 4, 10), End: at(3, 4, 12)},
		{ID: "e", Title: "校庆", IsAllDay: true, Start: at(3, 4, 0), End: at(3, 5, 0)},
	}
	display, err := Clip(events, marchStart, marchEnd)
	if err != nil {
		t.Fatalf("Clip 失败: %v", err)
	}

	got := Conflicts(display)
	pairs := make(map[string]bool)
	for _, c := range got {
		pairs[c.First.ID+c.Second.ID] = true
	}
	for _, want := range []string{"ab", "ad", "bd"} {
		if !pairs[want] && !pairs[string(want[1])+string(want[0])] {
			t.Errorf("缺少冲突 %s, 实际 %v", want, pairs)
		}
	}
	if len(got) != 3 {
		t.Errorf("期望 3 组冲突（首尾相接不算，全天不参与）, 实际 %d: %v", len(got), pairs)
	}
}

func TestConflicts_RepeatingOccurrences(t *testing.T) {
	lecture := weeklyLecture()
	meeting := Event{ID: "m", Title: "组会", Start: at(3, 18, 9), End: at(3, 18, 9).Add(30 * time.Minute)}
	display, _ := Clip([]Event{lecture, meeting}, marchStart, marchEnd)

	got := Conflicts(display)
	if len(got) != 1 {
		t.Fatalf("期望 1 组冲突, 实际 %d", len(got))
	}
	if got[0].First.DisplayStart.Day() != 18 {
		t.Errorf("冲突应发生在 03-18, 实际 %v", got[0].First.DisplayStart)
	}
}

func TestConflicts_Empty(t *testing.T) {
	if got := Conflicts(nil); got != nil {
		t.Errorf("期望 nil, 实际 %v", got)
	}
}
