package service

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"campus-portal/internal/academic"
	"campus-portal/internal/calendar"
)

// ── 课表 → 日历投影 ──────────────────────────────────────────
//
// 设计说明：
//   - 每个上课时段投影为一个按周重复、终止于学期最后一天的事件
//   - 事件 id 由 (课程, 星期偏移, 起始节次, 结束节次) 派生 UUIDv5，
//     同一时段重复投影得到相同 id，落库时 upsert 即为幂等更新
//   - 标题按语言选择中文 / 英文课程名，缺失时回退到另一种
// ─────────────────────────────────────────────────────────────

// CourseTag 投影事件的标签，便于按来源筛选
const CourseTag = "course"

var projectionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("campus-portal/timetable"))

var titleLanguages = []language.Tag{language.TraditionalChinese, language.English}

var titleMatcher = language.NewMatcher(titleLanguages)

// Projector 将选课时段投影为日历事件
type Projector struct {
	tables *academic.Tables
}

// NewProjector 创建投影器
func NewProjector(tables *academic.Tables) *Projector {
	return &Projector{tables: tables}
}

// Tables 投影使用的学期与节次表
func (p *Projector) Tables() *academic.Tables { return p.tables }

// Project 投影一组上课时段；任一时段的学期或节次未知即整体失败
func (p *Projector) Project(sections []academic.CourseTimeslotData, lang string) ([]calendar.Event, error) {
	preferEnglish := prefersEnglish(lang)
	events := make([]calendar.Event, 0, len(sections))
	for _, sec := range sections {
		e, err := p.projectOne(sec, preferEnglish)
		if err != nil {
			return nil, fmt.Errorf("课程 %s: %w", sec.CourseID, err)
		}
		events = append(events, e)
	}
	return events, nil
}

func (p *Projector) projectOne(sec academic.CourseTimeslotData, preferEnglish bool) (calendar.Event, error) {
	sem, err := p.tables.Semester(sec.Semester)
	if err != nil {
		return calendar.Event{}, err
	}
	first, err := p.tables.Period(sec.StartPeriod)
	if err != nil {
		return calendar.Event{}, err
	}
	last, err := p.tables.Period(sec.EndPeriod)
	if err != nil {
		return calendar.Event{}, err
	}

	day := sem.Begins.AddDate(0, 0, sec.DayOfWeek)
	start := first.StartOn(day)
	end := last.EndOn(day)
	if !end.After(start) {
		return calendar.Event{}, fmt.Errorf("%w: 结束节次 %s 早于起始节次 %s", academic.ErrUnknownPeriod, sec.EndPeriod, sec.StartPeriod)
	}

	return calendar.Event{
		ID:      SectionEventID(sec),
		Title:   courseTitle(sec, preferEnglish),
		Details: sec.Venue,
		Start:   start,
		End:     end,
		Repeat:  calendar.DateBounded(calendar.Weekly, 1, sem.Ends),
		Tag:     CourseTag,
	}, nil
}

// SectionEventID 时段的确定性事件 id
func SectionEventID(sec academic.CourseTimeslotData) string {
	name := fmt.Sprintf("%s|%d|%s|%s", sec.CourseID, sec.DayOfWeek, sec.StartPeriod, sec.EndPeriod)
	return uuid.NewSHA1(projectionNamespace, []byte(name)).String()
}

func courseTitle(sec academic.CourseTimeslotData, preferEnglish bool) string {
	zh, en := strings.TrimSpace(sec.NameZh), strings.TrimSpace(sec.NameEn)
	if preferEnglish && en != "" || zh == "" && en != "" {
		return en
	}
	if zh != "" {
		return zh
	}
	return sec.CourseID
}

// prefersEnglish 按 Accept-Language 风格的字符串匹配；无法解析时使用中文
func prefersEnglish(lang string) bool {
	if lang == "" {
		return false
	}
	tags, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(tags) == 0 {
		return false
	}
	_, idx, conf := titleMatcher.Match(tags...)
	return conf != language.No && idx == 1
}
