package service

import (
	"strings"
	"testing"
	"time"

	"campus-portal/internal/calendar"
)

func icsCalendar(vevents ...string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Test//Test//EN\r\n" +
		strings.Join(vevents, "") + "END:VCALENDAR\r\n"
}

func vevent(lines ...string) string {
	return "BEGIN:VEVENT\r\n" + strings.Join(lines, "\r\n") + "\r\nEND:VEVENT\r\n"
}

func clipStarts(t *testing.T, events []calendar.Event) []string {
	t.Helper()
	display, err := calendar.Clip(events, cst(3, 1, 0, 0), cst(3, 31, 23, 59))
	if err != nil {
		t.Fatalf("Clip 失败: %v", err)
	}
	out := make([]string, 0, len(display))
	for _, d := range display {
		out = append(out, d.Title+"@"+d.DisplayStart.In(testLoc).Format("01-02 15:04"))
	}
	return out
}

func TestParseICS_Basic(t *testing.T) {
	data := icsCalendar(
		vevent(
			"UID:sem-1",
			"SUMMARY:專題討論",
			"DESCRIPTION:R402",
			"DTSTART:20240305T010000Z",
			"DURATION:PT1H30M",
			"RRULE:FREQ=WEEKLY;INTERVAL=2;UNTIL=20240402T010000Z",
			"EXDATE:20240319T010000Z",
			"CATEGORIES:seminar,cs",
			"COLOR:teal",
		),
		vevent(
			"UID:holiday",
			"SUMMARY:和平紀念日",
			"DTSTART;VALUE=DATE:20240228",
		),
	)

	events, skipped, err := ParseICS(strings.NewReader(data), testLoc)
	if err != nil {
		t.Fatalf("ParseICS 失败: %v", err)
	}
	if skipped != 0 || len(events) != 2 {
		t.Fatalf("期望 2 个事件、无跳过, 实际 %d / %d", len(events), skipped)
	}

	sem := events[0]
	if sem.ID != "sem-1" || sem.Details != "R402" || sem.Tag != "seminar" || sem.Color != "teal" {
		t.Errorf("字段解析错误: %+v", sem)
	}
	if got := sem.Start.Format("01-02 15:04"); got != "03-05 09:00" {
		t.Errorf("开始时间应转换到显示时区, 实际 %s", got)
	}
	if sem.Duration() != 90*time.Minute {
		t.Errorf("DURATION 解析错误: %v", sem.Duration())
	}
	if sem.Repeat == nil || sem.Repeat.Step() != 2 || sem.Repeat.Bound != calendar.BoundDate {
		t.Fatalf("RRULE 解析错误: %+v", sem.Repeat)
	}
	if len(sem.ExcludedDates) != 1 {
		t.Errorf("EXDATE 解析错误: %v", sem.ExcludedDates)
	}

	holiday := events[1]
	if !holiday.IsAllDay || holiday.Duration() != 24*time.Hour {
		t.Errorf("只有日期的事件应为一天的全天事件: %+v", holiday)
	}

	if got := strings.Join(clipStarts(t, events), ","); got != "專題討論@03-05 09:00" {
		t.Errorf("03-19 被排除、04-02 超出窗口, 实际 %s", got)
	}
}

func TestParseICS_SkipsUnsupported(t *testing.T) {
	data := icsCalendar(
		vevent("UID:a", "SUMMARY:每月最後一個週五", "DTSTART:20240301T010000Z", "DTEND:20240301T020000Z", "RRULE:FREQ=MONTHLY;BYDAY=-1FR"),
		vevent("UID:b", "SUMMARY:週二與週四", "DTSTART:20240305T010000Z", "DTEND:20240305T020000Z", "RRULE:FREQ=WEEKLY;BYDAY=TU,TH"),
		vevent("UID:c", "DTSTART:20240305T010000Z", "DTEND:20240305T020000Z"),
		vevent("UID:d", "SUMMARY:週二", "DTSTART:20240305T010000Z", "DTEND:20240305T020000Z", "RRULE:FREQ=WEEKLY;BYDAY=TU;COUNT=2"),
	)

	events, skipped, err := ParseICS(strings.NewReader(data), testLoc)
	if err != nil {
		t.Fatalf("ParseICS 失败: %v", err)
	}
	if skipped != 3 {
		t.Errorf("期望跳过 3 个, 实际 %d", skipped)
	}
	if len(events) != 1 || events[0].ID != "d" || events[0].Repeat.Count != 2 {
		t.Errorf("与 DTSTART 一致的 BYDAY 应被接受: %+v", events)
	}
}

func TestParseICS_OrphanOverride(t *testing.T) {
	data := icsCalendar(vevent(
		"UID:elsewhere",
		"RECURRENCE-ID:20240312T010000Z",
		"SUMMARY:單次",
		"DTSTART:20240313T010000Z",
		"DTEND:20240313T020000Z",
	))
	events, _, err := ParseICS(strings.NewReader(data), testLoc)
	if err != nil {
		t.Fatalf("ParseICS 失败: %v", err)
	}
	if len(events) != 1 || events[0].ParentID != "" || events[0].ID != "elsewhere" {
		t.Errorf("父事件缺失时应按独立事件导入: %+v", events)
	}
}

func TestImportedEventID(t *testing.T) {
	if got := importedEventID(" abc "); got != "abc" {
		t.Errorf("期望去除空白, 实际 %q", got)
	}
	long := strings.Repeat("x", 100) + "@example.com"
	a, b := importedEventID(long), importedEventID(long)
	if a != b || len(a) != 36 {
		t.Errorf("超长 UID 应映射为稳定的 UUID: %q %q", a, b)
	}
	if importedEventID("") == importedEventID("") {
		t.Error("缺失 UID 应生成新 id")
	}
}

func TestEncodeICS_RoundTrip(t *testing.T) {
	count := calendar.Event{
		ID:     "daily",
		Title:  "晨跑",
		Start:  cst(3, 5, 6, 30),
		End:    cst(3, 5, 7, 0),
		Repeat: calendar.CountBounded(calendar.Daily, 1, 3),
	}
	weekly := calendar.Event{
		ID:            "course-1",
		Title:         "演算法",
		Details:       "綜合二館 101",
		Start:         cst(3, 4, 9, 0),
		End:           cst(3, 4, 10, 0),
		Repeat:        calendar.DateBounded(calendar.Weekly, 1, cst(3, 25, 0, 0)),
		ExcludedDates: []time.Time{cst(3, 11, 0, 0)},
		Color:         "#3366ff",
		Tag:           CourseTag,
	}
	allDay := calendar.Event{
		ID:       "trip",
		Title:    "校外教學",
		IsAllDay: true,
		Start:    cst(3, 20, 0, 0),
		End:      cst(3, 22, 0, 0),
	}
	original := []calendar.Event{count, weekly, allDay}

	out := EncodeICS(original, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	for _, want := range []string{"RRULE:FREQ=DAILY", "COUNT=3", "EXDATE:20240311T010000Z", "CATEGORIES:course"} {
		if !strings.Contains(out, want) {
			t.Errorf("导出内容缺少 %q:\n%s", want, out)
		}
	}

	parsed, skipped, err := ParseICS(strings.NewReader(out), testLoc)
	if err != nil || skipped != 0 {
		t.Fatalf("回读失败: %v, skipped=%d", err, skipped)
	}
	if len(parsed) != len(original) {
		t.Fatalf("期望 %d 个事件, 实际 %d", len(original), len(parsed))
	}

	want := strings.Join(clipStarts(t, original), ",")
	if got := strings.Join(clipStarts(t, parsed), ","); got != want {
		t.Errorf("回读后的发生不一致:\n期望 %s\n实际 %s", want, got)
	}
	for i := range parsed {
		if parsed[i].ID != original[i].ID || parsed[i].Tag != original[i].Tag || parsed[i].IsAllDay != original[i].IsAllDay {
			t.Errorf("第 %d 个事件字段不一致: %+v", i, parsed[i])
		}
	}
}
