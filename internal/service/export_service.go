package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"campus-portal/internal/calendar"
	"campus-portal/internal/dto"
	"campus-portal/internal/repository"
)

// ── 导出模块业务错误 ──

var (
	ErrExportNoEvents     = errors.New("所选时间范围内没有日程")
	ErrExportGenerateFail = errors.New("生成导出文件失败")
)

// ExportService 导出业务接口
//
// 设计说明：
//   - Excel 导出的是窗口内展开后的具体发生，每次发生一行
//   - ICS 导出的是事件原始定义（含 RRULE / EXDATE），不受窗口限制
//   - 导出以 bytes.Buffer 返回，由 Handler 层设置 HTTP 响应头后写入 Response
type ExportService interface {
	// ExportXLSX 导出窗口内的日程为 Excel
	ExportXLSX(ctx context.Context, userID string, q *dto.WindowQuery) (*bytes.Buffer, string, error)
	// ExportICS 导出全部事件为 iCalendar
	ExportICS(ctx context.Context, userID string) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo   *repository.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, logger *zap.Logger) ExportService {
	return &exportService{repo: repo, logger: logger, now: time.Now}
}

// ═══════════════════════════════════════════════════════════
// ExportXLSX — 导出日程为 Excel
// ═══════════════════════════════════════════════════════════
//
// 输出格式：
//   - Sheet "日程"，第 1 行为标题，第 2 行为表头
//   - 列：日期 | 星期 | 时间 | 标题 | 标签 | 备注
//   - 按发生时间升序，全天事件时间列显示 "全天"
//
// 返回值：buf（Excel 内容）, filename（建议文件名）, error

func (s *exportService) ExportXLSX(ctx context.Context, userID string, q *dto.WindowQuery) (*bytes.Buffer, string, error) {
	loc := s.repo.Adapter.Location()
	from, to := q.Start.In(loc), q.End.In(loc)

	// 1. 查询并展开
	events, err := s.repo.Event.Find(ctx, userID, repository.Selector{From: &from, To: &to})
	if err != nil {
		s.logger.Error("查询日程失败", zap.Error(err))
		return nil, "", err
	}
	display, err := calendar.Clip(events, from, to)
	if err != nil {
		return nil, "", err
	}
	if len(display) == 0 {
		return nil, "", ErrExportNoEvents
	}
	sort.SliceStable(display, func(i, j int) bool {
		return display[i].DisplayStart.Before(display[j].DisplayStart)
	})

	// 2. 生成 Excel
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "日程"
	idx, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	// 删除默认 Sheet1
	f.DeleteSheet("Sheet1")

	// 设置列宽
	f.SetColWidth(sheetName, "A", "A", 12)
	f.SetColWidth(sheetName, "B", "B", 8)
	f.SetColWidth(sheetName, "C", "C", 14)
	f.SetColWidth(sheetName, "D", "D", 30)
	f.SetColWidth(sheetName, "E", "E", 12)
	f.SetColWidth(sheetName, "F", "F", 40)

	// 样式
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 标题行
	title := fmt.Sprintf("日程 %s ~ %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	f.SetCellValue(sheetName, "A1", title)
	f.MergeCell(sheetName, "A1", "F1")
	f.SetCellStyle(sheetName, "A1", "A1", headerStyle)

	// 表头
	headers := []string{"日期", "星期", "时间", "标题", "标签", "备注"}
	for i, h := range headers {
		f.SetCellValue(sheetName, cell(colName(i), 2), h)
	}
	f.SetCellStyle(sheetName, "A2", "F2", headerStyle)

	// 数据行
	row := 3
	for _, d := range display {
		start := d.DisplayStart.In(loc)
		timeText := "全天"
		if !d.IsAllDay {
			timeText = fmt.Sprintf("%s-%s", start.Format("15:04"), d.DisplayEnd.In(loc).Format("15:04"))
		}
		f.SetCellValue(sheetName, cell("A", row), start.Format("2006-01-02"))
		f.SetCellValue(sheetName, cell("B", row), weekdayNames[start.Weekday()])
		f.SetCellValue(sheetName, cell("C", row), timeText)
		f.SetCellValue(sheetName, cell("D", row), d.Title)
		f.SetCellValue(sheetName, cell("E", row), d.Tag)
		f.SetCellValue(sheetName, cell("F", row), d.Details)
		row++
	}

	// 写入 buffer
	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("日程_%s_%s.xlsx", from.Format("20060102"), to.Format("20060102"))
	return buf, filename, nil
}

// ═══════════════════════════════════════════════════════════
// ExportICS — 导出为 iCalendar
// ═══════════════════════════════════════════════════════════

func (s *exportService) ExportICS(ctx context.Context, userID string) (*bytes.Buffer, string, error) {
	events, err := s.repo.Event.Find(ctx, userID, repository.Selector{})
	if err != nil {
		s.logger.Error("查询日程失败", zap.Error(err))
		return nil, "", err
	}
	buf := bytes.NewBufferString(EncodeICS(events, s.now()))
	return buf, "calendar.ics", nil
}

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "周一",
	time.Tuesday:   "周二",
	time.Wednesday: "周三",
	time.Thursday:  "周四",
	time.Friday:    "周五",
	time.Saturday:  "周六",
	time.Sunday:    "周日",
}

// cell 生成单元格坐标，如 cell("A", 3) → "A3"
func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

// colName 0-based 列号 → 列名
func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}
