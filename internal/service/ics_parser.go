package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/jinzhu/now"
	"github.com/teambition/rrule-go"

	"campus-portal/internal/calendar"
)

// ── ICS 编解码 ──────────────────────────────────────────────
//
// 职责：标准 iCalendar (RFC 5545) 与 calendar.Event 互转。
//
// 设计决策：
//   - RRULE 只接受 FREQ / INTERVAL / COUNT / UNTIL，以及与 DTSTART 一致的单个 BYDAY / BYMONTHDAY，
//     其他规则无法用 Event 表达，整条跳过并计数
//   - EXDATE 写入 ExcludedDates
//   - 带 RECURRENCE-ID 的 VEVENT 视为 THIS 编辑：父事件排除该日期，自身作为 ParentID 指向父事件的单次事件
//   - 只有日期的 DTSTART 视为全天事件
//   - UID 直接作为事件 id，超长时取 UUIDv5，重复导入为 upsert
// ─────────────────────────────────────────────────────────────

const (
	icsMaxFileSize  = 5 * 1024 * 1024 // 5MB
	icsFetchTimeout = 30 * time.Second
	icsProductID    = "-//campus-portal//calendar//ZH"
	icsUTCLayout    = "20060102T150405Z"
	maxEventIDLen   = 64
)

var importNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("campus-portal/ics"))

// FetchICSContent 从 URL 获取 ICS 内容
func FetchICSContent(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	// webcal:// → https://
	u := rawURL
	if strings.HasPrefix(u, "webcal://") {
		u = "https://" + strings.TrimPrefix(u, "webcal://")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("获取 ICS 失败: %w", err)
	}
	client := &http.Client{Timeout: icsFetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("获取 ICS 失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("获取 ICS 失败: HTTP %d", resp.StatusCode)
	}
	// 限制响应体大小，防止恶意 URL 返回超大内容导致 OOM
	return struct {
		io.Reader
		io.Closer
	}{
		Reader: io.LimitReader(resp.Body, icsMaxFileSize),
		Closer: resp.Body,
	}, nil
}

// ParseICS 解析 ICS 内容，时间转换到 loc；返回事件与跳过的 VEVENT 数量
func ParseICS(reader io.Reader, loc *time.Location) ([]calendar.Event, int, error) {
	cal, err := ics.ParseCalendar(reader)
	if err != nil {
		return nil, 0, fmt.Errorf("ICS 格式解析失败: %w", err)
	}

	var (
		events    []calendar.Event
		overrides []override
		skipped   int
	)
	index := make(map[string]int)

	// 阶段 1: 主事件
	for _, comp := range cal.Events() {
		if rid := comp.GetProperty(ics.ComponentPropertyRecurrenceId); rid != nil {
			overrides = append(overrides, override{vevent: comp, recurrenceID: rid})
			continue
		}
		e, ok := parseVEvent(comp, loc)
		if !ok {
			skipped++
			continue
		}
		index[e.ID] = len(events)
		events = append(events, e)
	}

	// 阶段 2: 单次修改
	for _, o := range overrides {
		e, ok := parseVEvent(o.vevent, loc)
		if !ok {
			skipped++
			continue
		}
		pos, found := index[e.ID]
		if !found {
			// 父事件不在本文件中，按独立事件导入
			events = append(events, e)
			continue
		}
		occurrence, err := parseICSDateTime(o.recurrenceID, loc)
		if err != nil {
			skipped++
			continue
		}
		parent := &events[pos]
		parent.ExcludedDates = append(parent.ExcludedDates, occurrence)

		e.ParentID = parent.ID
		e.ID = importedEventID(parent.ID + "|" + o.recurrenceID.Value)
		e.Repeat = nil
		e.ExcludedDates = nil
		events = append(events, e)
	}
	return events, skipped, nil
}

type override struct {
	vevent       *ics.VEvent
	recurrenceID *ics.IANAProperty
}

// parseVEvent 解析单个 VEVENT 组件
func parseVEvent(evt *ics.VEvent, loc *time.Location) (calendar.Event, bool) {
	summary := evt.GetProperty(ics.ComponentPropertySummary)
	if summary == nil || strings.TrimSpace(summary.Value) == "" {
		return calendar.Event{}, false
	}

	startProp := evt.GetProperty(ics.ComponentPropertyDtStart)
	if startProp == nil {
		return calendar.Event{}, false
	}
	start, err := parseICSDateTime(startProp, loc)
	if err != nil {
		return calendar.Event{}, false
	}
	allDay := isDateOnly(startProp)

	var end time.Time
	if endProp := evt.GetProperty(ics.ComponentPropertyDtEnd); endProp != nil {
		if end, err = parseICSDateTime(endProp, loc); err != nil {
			return calendar.Event{}, false
		}
	} else if durProp := evt.GetProperty(ics.ComponentPropertyDuration); durProp != nil {
		d, err := parseICSDuration(durProp.Value)
		if err != nil {
			return calendar.Event{}, false
		}
		end = start.Add(d)
	}
	if !end.After(start) {
		// RFC 5545：缺省时全天事件持续一天，其余为零时长，这里给一小时便于显示
		if allDay {
			end = start.AddDate(0, 0, 1)
		} else {
			end = start.Add(time.Hour)
		}
	}

	e := calendar.Event{
		ID:       importedEventID(propValue(evt, ics.ComponentPropertyUniqueId)),
		Title:    strings.TrimSpace(summary.Value),
		Details:  propValue(evt, ics.ComponentPropertyDescription),
		IsAllDay: allDay,
		Start:    start,
		End:      end,
		Color:    propValue(evt, ics.ComponentProperty("COLOR")),
		Tag:      firstCategory(propValue(evt, ics.ComponentPropertyCategories)),
	}

	if rruleProp := evt.GetProperty(ics.ComponentPropertyRrule); rruleProp != nil {
		rule, ok := parseRRule(rruleProp.Value, start, loc)
		if !ok {
			return calendar.Event{}, false
		}
		e.Repeat = rule
		e.ExcludedDates = parseExDates(evt, loc)
	}
	if e.Validate() != nil {
		return calendar.Event{}, false
	}
	return e, true
}

// parseRRule 将 RRULE 转为 RepeatRule；无法表达的规则返回 false
func parseRRule(value string, start time.Time, loc *time.Location) (*calendar.RepeatRule, bool) {
	opt, err := rrule.StrToROptionInLocation(value, loc)
	if err != nil {
		return nil, false
	}

	var freq calendar.Frequency
	switch opt.Freq {
	case rrule.DAILY:
		freq = calendar.Daily
	case rrule.WEEKLY:
		freq = calendar.Weekly
	case rrule.MONTHLY:
		freq = calendar.Monthly
	case rrule.YEARLY:
		freq = calendar.Yearly
	default:
		return nil, false
	}

	if len(opt.Bysetpos) > 0 || len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 ||
		len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return nil, false
	}
	if len(opt.Bymonth) > 1 || len(opt.Bymonth) == 1 && opt.Bymonth[0] != int(start.Month()) {
		return nil, false
	}
	if len(opt.Bymonthday) > 1 || len(opt.Bymonthday) == 1 && opt.Bymonthday[0] != start.Day() {
		return nil, false
	}
	if len(opt.Byweekday) > 1 || len(opt.Byweekday) == 1 && !sameWeekday(opt.Byweekday[0], start) {
		return nil, false
	}

	switch {
	case opt.Count > 0:
		return calendar.CountBounded(freq, opt.Interval, opt.Count), true
	case !opt.Until.IsZero():
		return calendar.DateBounded(freq, opt.Interval, opt.Until.In(loc)), true
	default:
		return calendar.Unbounded(freq, opt.Interval), true
	}
}

// sameWeekday rrule 的 Weekday 以周一为 0
func sameWeekday(wd rrule.Weekday, t time.Time) bool {
	return wd.N() == 0 && wd.Day() == (int(t.Weekday())+6)%7
}

// parseExDates 解析事件中所有 EXDATE，一行可以有多个逗号分隔的值
func parseExDates(evt *ics.VEvent, loc *time.Location) []time.Time {
	var out []time.Time
	for _, prop := range evt.GetProperties(ics.ComponentPropertyExdate) {
		for _, v := range strings.Split(prop.Value, ",") {
			single := *prop
			single.Value = strings.TrimSpace(v)
			if t, err := parseICSDateTime(&single, loc); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

// ── 导出 ──

// EncodeICS 将事件导出为 iCalendar 文本
func EncodeICS(events []calendar.Event, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(icsProductID)

	for _, e := range events {
		ev := cal.AddEvent(e.ID)
		ev.SetDtStampTime(stamp)
		ev.SetSummary(e.Title)
		if e.Details != "" {
			ev.SetDescription(e.Details)
		}
		if e.IsAllDay {
			ev.SetAllDayStartAt(e.Start)
			ev.SetAllDayEndAt(e.End)
		} else {
			ev.SetStartAt(e.Start)
			ev.SetEndAt(e.End)
		}
		if e.Tag != "" {
			ev.AddProperty(ics.ComponentPropertyCategories, e.Tag)
		}
		if e.Color != "" {
			ev.AddProperty(ics.ComponentProperty("COLOR"), e.Color)
		}
		if e.ParentID != "" {
			ev.AddProperty(ics.ComponentProperty("RELATED-TO"), e.ParentID)
		}
		if e.Repeat != nil {
			ev.AddRrule(formatRRule(e))
			for _, ex := range e.ExcludedDates {
				ev.AddExdate(atStartOf(ex, e.Start).UTC().Format(icsUTCLayout))
			}
		}
	}
	return cal.Serialize()
}

// formatRRule 按日期终止时 UNTIL 取终止日结束时刻，当天的发生仍然包含在内
func formatRRule(e calendar.Event) string {
	r := e.Repeat
	opt := rrule.ROption{Interval: r.Step()}
	switch r.Frequency {
	case calendar.Daily:
		opt.Freq = rrule.DAILY
	case calendar.Weekly:
		opt.Freq = rrule.WEEKLY
	case calendar.Monthly:
		opt.Freq = rrule.MONTHLY
	case calendar.Yearly:
		opt.Freq = rrule.YEARLY
	}
	switch r.Bound {
	case calendar.BoundCount:
		opt.Count = r.Count
	case calendar.BoundDate:
		opt.Until = calendar.LastStart(e.Start, r).UTC()
	}
	return opt.RRuleString()
}

// ── 辅助函数 ──

// importedEventID UID 直接作为 id，超长或缺失时生成
func importedEventID(uid string) string {
	uid = strings.TrimSpace(uid)
	switch {
	case uid == "":
		return uuid.NewString()
	case len(uid) > maxEventIDLen:
		return uuid.NewSHA1(importNamespace, []byte(uid)).String()
	}
	return uid
}

func propValue(evt *ics.VEvent, name ics.ComponentProperty) string {
	if p := evt.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func firstCategory(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

func isDateOnly(prop *ics.IANAProperty) bool {
	for k, v := range prop.ICalParameters {
		if strings.EqualFold(k, "VALUE") && len(v) > 0 && strings.EqualFold(v[0], "DATE") {
			return true
		}
	}
	return len(prop.Value) == len("20060102")
}

// atStartOf 取 date 的日期与 clock 的时分秒
func atStartOf(date, clock time.Time) time.Time {
	d := date.In(clock.Location())
	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, clock.Location())
}

// parseICSDateTime 解析日期时间属性，优先使用 TZID
func parseICSDateTime(prop *ics.IANAProperty, loc *time.Location) (time.Time, error) {
	val := strings.TrimSpace(prop.Value)

	tzid := ""
	for k, v := range prop.ICalParameters {
		if strings.EqualFold(k, "TZID") && len(v) > 0 {
			tzid = v[0]
		}
	}

	if t, err := time.Parse(icsUTCLayout, val); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range []string{"20060102T150405", "20060102"} {
		t, err := time.Parse(layout, val)
		if err != nil {
			continue
		}
		src := loc
		if tzid != "" {
			if tzLoc, err := time.LoadLocation(tzid); err == nil {
				src = tzLoc
			}
		}
		local := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, src).In(loc)
		if layout == "20060102" {
			return now.With(local).BeginningOfDay(), nil
		}
		return local, nil
	}
	return time.Time{}, fmt.Errorf("无法解析日期: %s", val)
}

var icsDurationPattern = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseICSDuration 解析 RFC 5545 DURATION，如 PT1H30M、P1D、P2W
func parseICSDuration(v string) (time.Duration, error) {
	m := icsDurationPattern.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil || v == "P" || v == "PT" {
		return 0, fmt.Errorf("无法解析时长: %s", v)
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return 0, err
		}
		d += time.Duration(n) * unit
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}
