package calendar

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jinzhu/now"
)

// Frequency 重复频率
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// BoundKind 重复规则的终止方式（三选一）
type BoundKind string

const (
	BoundNone  BoundKind = "unbounded"
	BoundCount BoundKind = "count"
	BoundDate  BoundKind = "date"
)

var (
	ErrInvalidFrequency = errors.New("无效的重复类型")
	ErrInvalidRepeat    = errors.New("无效的重复规则")
)

// RepeatRule 重复规则
//
// Bound 决定 Count / Until 中哪一个生效；Interval 为 0 时按 1 处理。
type RepeatRule struct {
	Frequency Frequency
	Interval  int
	Bound     BoundKind
	Count     int       // 仅 BoundCount
	Until     time.Time // 仅 BoundDate，按自然日比较，终止日当天的发生保留
}

// Unbounded 无限重复
func Unbounded(freq Frequency, interval int) *RepeatRule {
	return &RepeatRule{Frequency: freq, Interval: interval, Bound: BoundNone}
}

// CountBounded 按次数终止
func CountBounded(freq Frequency, interval, count int) *RepeatRule {
	return &RepeatRule{Frequency: freq, Interval: interval, Bound: BoundCount, Count: count}
}

// DateBounded 按日期终止
func DateBounded(freq Frequency, interval int, until time.Time) *RepeatRule {
	return &RepeatRule{Frequency: freq, Interval: interval, Bound: BoundDate, Until: until}
}

// Step 返回实际步长
func (r RepeatRule) Step() int {
	if r.Interval <= 0 {
		return 1
	}
	return r.Interval
}

// Validate 校验规则完整性
func (r RepeatRule) Validate() error {
	switch r.Frequency {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, r.Frequency)
	}
	if r.Interval < 0 {
		return fmt.Errorf("%w: interval 不能为负数", ErrInvalidRepeat)
	}
	switch r.Bound {
	case BoundNone, "":
		if r.Count != 0 || !r.Until.IsZero() {
			return fmt.Errorf("%w: 无限重复不应携带 count/until", ErrInvalidRepeat)
		}
	case BoundCount:
		if r.Count <= 0 {
			return fmt.Errorf("%w: count 必须为正整数", ErrInvalidRepeat)
		}
		if !r.Until.IsZero() {
			return fmt.Errorf("%w: count 与 until 不能同时存在", ErrInvalidRepeat)
		}
	case BoundDate:
		if r.Until.IsZero() {
			return fmt.Errorf("%w: 缺少 until", ErrInvalidRepeat)
		}
		if r.Count != 0 {
			return fmt.Errorf("%w: count 与 until 不能同时存在", ErrInvalidRepeat)
		}
	default:
		return fmt.Errorf("%w: 未知终止方式 %q", ErrInvalidRepeat, r.Bound)
	}
	return nil
}

// Expand 从 baseStart 开始惰性生成候选发生时间
//
// 第一个元素总是 baseStart；rule 为 nil 时只有这一个元素。
// 第 k 个候选由 baseStart 直接推进 k*interval 个单位得到，按月/年推进时
// 日期截断到目标月末，不会随迭代漂移。无限规则的序列是无限的，由调用方负责截止。
func Expand(baseStart time.Time, rule *RepeatRule) (iter.Seq[time.Time], error) {
	if rule == nil {
		return func(yield func(time.Time) bool) {
			yield(baseStart)
		}, nil
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	r := *rule
	step := r.Step()
	var lastDay time.Time
	if r.Bound == BoundDate {
		lastDay = dayOf(r.Until, baseStart.Location())
	}
	return func(yield func(time.Time) bool) {
		if !yield(baseStart) {
			return
		}
		for k := 1; ; k++ {
			if r.Bound == BoundCount && k >= r.Count {
				return
			}
			next := advance(baseStart, r.Frequency, k*step)
			if r.Bound == BoundDate && dayOf(next, baseStart.Location()).After(lastDay) {
				return
			}
			if !yield(next) {
				return
			}
		}
	}, nil
}

// LastStart 返回有界规则下最后一个可能的发生时间；无限规则返回 nil
func LastStart(baseStart time.Time, rule *RepeatRule) *time.Time {
	if rule == nil {
		t := baseStart
		return &t
	}
	if rule.Validate() != nil {
		return nil
	}
	switch rule.Bound {
	case BoundCount:
		t := advance(baseStart, rule.Frequency, (rule.Count-1)*rule.Step())
		return &t
	case BoundDate:
		t := now.With(rule.Until.In(baseStart.Location())).EndOfDay()
		return &t
	}
	return nil
}

// OccurrencesBefore 统计早于 t 的发生次数
func OccurrencesBefore(baseStart time.Time, rule *RepeatRule, t time.Time) (int, error) {
	seq, err := Expand(baseStart, rule)
	if err != nil {
		return 0, err
	}
	n := 0
	for d := range seq {
		if !d.Before(t) {
			break
		}
		n++
	}
	return n, nil
}

func advance(base time.Time, freq Frequency, n int) time.Time {
	switch freq {
	case Daily:
		return base.AddDate(0, 0, n)
	case Weekly:
		return base.AddDate(0, 0, 7*n)
	case Monthly:
		return addMonths(base, n)
	case Yearly:
		return addMonths(base, 12*n)
	}
	panic(fmt.Sprintf("calendar: unsupported frequency %q", freq))
}

// addMonths 按月推进，目标月没有该日时取月末
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := now.With(first).EndOfMonth().Day(); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
