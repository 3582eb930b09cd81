// Package academic 学期与节次静态表
package academic

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTables []byte

var (
	ErrUnknownSemester = errors.New("未知学期")
	ErrUnknownPeriod   = errors.New("未知节次")
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Semester 学期起止日期（均为当地自然日零点）
type Semester struct {
	ID     string
	Begins time.Time
	Ends   time.Time
}

// Period 节次的上下课时间，"HH:MM"
type Period struct {
	Code  string
	Start string
	End   string
}

// Tables 学期表与节次表
type Tables struct {
	loc       *time.Location
	semesters map[string]Semester
	periods   map[string]Period
}

type rawTables struct {
	Semesters []struct {
		ID     string `yaml:"id"`
		Begins string `yaml:"begins"`
		Ends   string `yaml:"ends"`
	} `yaml:"semesters"`
	Periods map[string]struct {
		Start string `yaml:"start"`
		End   string `yaml:"end"`
	} `yaml:"periods"`
}

// Parse 解析 YAML 格式的静态表，日期按 loc 解释
func Parse(data []byte, loc *time.Location) (*Tables, error) {
	if loc == nil {
		loc = time.Local
	}
	var raw rawTables
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析学期表失败: %w", err)
	}

	t := &Tables{
		loc:       loc,
		semesters: make(map[string]Semester, len(raw.Semesters)),
		periods:   make(map[string]Period, len(raw.Periods)),
	}
	for _, s := range raw.Semesters {
		begins, err := time.ParseInLocation(dateLayout, s.Begins, loc)
		if err != nil {
			return nil, fmt.Errorf("学期 %s 开始日期无效: %w", s.ID, err)
		}
		ends, err := time.ParseInLocation(dateLayout, s.Ends, loc)
		if err != nil {
			return nil, fmt.Errorf("学期 %s 结束日期无效: %w", s.ID, err)
		}
		if ends.Before(begins) {
			return nil, fmt.Errorf("学期 %s 结束日期早于开始日期", s.ID)
		}
		t.semesters[s.ID] = Semester{ID: s.ID, Begins: begins, Ends: ends}
	}
	for code, p := range raw.Periods {
		start, err := time.Parse(clockLayout, p.Start)
		if err != nil {
			return nil, fmt.Errorf("节次 %s 上课时间无效: %w", code, err)
		}
		end, err := time.Parse(clockLayout, p.End)
		if err != nil {
			return nil, fmt.Errorf("节次 %s 下课时间无效: %w", code, err)
		}
		if !end.After(start) {
			return nil, fmt.Errorf("节次 %s 下课时间必须晚于上课时间", code)
		}
		t.periods[code] = Period{Code: code, Start: p.Start, End: p.End}
	}
	return t, nil
}

// Load 从文件加载；path 为空时使用内置默认表
func Load(path string, loc *time.Location) (*Tables, error) {
	if path == "" {
		return Parse(defaultTables, loc)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取学期表失败: %w", err)
	}
	return Parse(data, loc)
}

// Default 内置默认表
func Default(loc *time.Location) *Tables {
	t, err := Parse(defaultTables, loc)
	if err != nil {
		panic(fmt.Sprintf("academic: 内置学期表无效: %v", err))
	}
	return t
}

// Location 表中日期所在时区
func (t *Tables) Location() *time.Location { return t.loc }

// Semester 按 id 查询学期
func (t *Tables) Semester(id string) (Semester, error) {
	s, ok := t.semesters[id]
	if !ok {
		return Semester{}, fmt.Errorf("%w: %s", ErrUnknownSemester, id)
	}
	return s, nil
}

// Period 按编码查询节次
func (t *Tables) Period(code string) (Period, error) {
	p, ok := t.periods[code]
	if !ok {
		return Period{}, fmt.Errorf("%w: %s", ErrUnknownPeriod, code)
	}
	return p, nil
}

// StartOn 节次在 day 当天的上课时刻
func (p Period) StartOn(day time.Time) time.Time {
	return overlay(day, p.Start)
}

// EndOn 节次在 day 当天的下课时刻
func (p Period) EndOn(day time.Time) time.Time {
	return overlay(day, p.End)
}

// overlay 把 "HH:MM" 叠加到 day 的日期上；clock 已在 Parse 中校验
func overlay(day time.Time, clock string) time.Time {
	c, _ := time.Parse(clockLayout, clock)
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, day.Location())
}
