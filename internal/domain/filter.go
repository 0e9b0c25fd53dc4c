package domain

import (
	"fmt"
	"math"
)

// Orientation 是画面方向过滤模式。
type Orientation string

const (
	OrientationAny        Orientation = "any"
	OrientationPortrait   Orientation = "portrait"
	OrientationHorizontal Orientation = "horizontal"
)

// FilterConfig 是一次运行的过滤与输出策略。
//
// 约束：构造后只读；多个 job 并发共享同一个值（指针字段同样只读，不得原地修改）。
type FilterConfig struct {
	MinDurationSeconds *float64
	MaxDurationSeconds *float64
	Orientation        Orientation
	Shuffle            bool
	Overwrite          bool
}

// OrientationActive 表示是否启用方向过滤（启用时才向 probe 请求宽高）。
func (c FilterConfig) OrientationActive() bool {
	return c.Orientation == OrientationPortrait || c.Orientation == OrientationHorizontal
}

// HasDurationBound 表示是否设置了任一时长边界。
func (c FilterConfig) HasDurationBound() bool {
	return c.MinDurationSeconds != nil || c.MaxDurationSeconds != nil
}

// Validate 校验边界与枚举值。
func (c FilterConfig) Validate() error {
	switch c.Orientation {
	case "", OrientationAny, OrientationPortrait, OrientationHorizontal:
	default:
		return fmt.Errorf("未知 orientation：%q", c.Orientation)
	}
	if c.MinDurationSeconds != nil {
		if v := *c.MinDurationSeconds; v < 0 || math.IsNaN(v) {
			return fmt.Errorf("min_length 不能为负数或 NaN：%v", v)
		}
	}
	if c.MaxDurationSeconds != nil {
		if v := *c.MaxDurationSeconds; v < 0 || math.IsNaN(v) {
			return fmt.Errorf("max_length 不能为负数或 NaN：%v", v)
		}
	}
	if c.MinDurationSeconds != nil && c.MaxDurationSeconds != nil && *c.MinDurationSeconds > *c.MaxDurationSeconds {
		return fmt.Errorf("min_length(%v) 大于 max_length(%v)", *c.MinDurationSeconds, *c.MaxDurationSeconds)
	}
	return nil
}

// Seconds 便于构造可选时长字段。
func Seconds(v float64) *float64 { return &v }

// Pixels 便于构造可选宽高字段。
func Pixels(v int) *int { return &v }
