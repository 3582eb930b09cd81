package academic

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultTables(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	tables := Default(loc)

	s, err := tables.Semester("11310")
	if err != nil {
		t.Fatalf("查询学期失败: %v", err)
	}
	if s.Begins.Format("2006-01-02") != "2024-09-02" || s.Ends.Format("2006-01-02") != "2025-01-10" {
		t.Errorf("11310 起止日期错误: %v - %v", s.Begins, s.Ends)
	}
	if s.Begins.Location() != loc {
		t.Errorf("日期应按配置时区解释, 实际 %v", s.Begins.Location())
	}

	p, err := tables.Period("n")
	if err != nil {
		t.Fatalf("查询节次失败: %v", err)
	}
	start := p.StartOn(s.Begins)
	if start.Format("2006-01-02 15:04") != "2024-09-02 12:10" {
		t.Errorf("午休节上课时刻错误: %v", start)
	}
}

func TestTables_UnknownKeys(t *testing.T) {
	tables := Default(time.UTC)
	if _, err := tables.Semester("99999"); !errors.Is(err, ErrUnknownSemester) {
		t.Errorf("期望 ErrUnknownSemester, 实际 %v", err)
	}
	if _, err := tables.Period("z"); !errors.Is(err, ErrUnknownPeriod) {
		t.Errorf("期望 ErrUnknownPeriod, 实际 %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad date", "semesters:\n  - {id: x, begins: 2024/09/02, ends: 2025-01-10}\n"},
		{"ends before begins", "semesters:\n  - {id: x, begins: 2025-01-10, ends: 2024-09-02}\n"},
		{"bad clock", "periods:\n  \"1\": {start: \"8am\", end: \"08:50\"}\n"},
		{"end before start", "periods:\n  \"1\": {start: \"09:00\", end: \"08:50\"}\n"},
		{"not yaml", "semesters: [\n"},
	}
	for _, tt := range tests {
		if _, err := Parse([]byte(tt.yaml), time.UTC); err == nil {
			t.Errorf("%s: 期望返回错误", tt.name)
		}
	}
}
