package academic

// CourseTimeslotData 一门课的一个上课时段
//
// DayOfWeek 为相对学期第一天的偏移天数（0 表示学期第一天）。
type CourseTimeslotData struct {
	CourseID    string `json:"course_id"    binding:"required"`
	Semester    string `json:"semester"     binding:"required"`
	NameZh      string `json:"name_zh"`
	NameEn      string `json:"name_en"`
	DayOfWeek   int    `json:"day_of_week"  binding:"min=0,max=6"`
	StartPeriod string `json:"start_period" binding:"required"`
	EndPeriod   string `json:"end_period"   binding:"required"`
	Venue       string `json:"venue"`
}
