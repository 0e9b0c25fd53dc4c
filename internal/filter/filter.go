// Package filter 根据探测结果与 FilterConfig 决定条目是否进入 playlist。
//
// 纯函数：相同输入永远得到相同结论。
package filter

import "github.com/John-Robertt/cascadepl/internal/domain"

// 排除原因（写入日志与统计，不进入报告的 error_code）。
const (
	ReasonNotVideo          = "not_video"
	ReasonDurationUnknown   = "duration_unknown"
	ReasonTooShort          = "too_short"
	ReasonTooLong           = "too_long"
	ReasonDimensionsUnknown = "dimensions_unknown"
	ReasonNotPortrait       = "not_portrait"
	ReasonNotHorizontal     = "not_horizontal"
)

// Decision 是一次过滤判定。Include=false 时 Reason 非空。
type Decision struct {
	Include bool
	Reason  string
}

// Include 按固定顺序逐条判定，遇到第一条不满足的规则即排除。
func Include(p domain.ProbeResult, cfg domain.FilterConfig) bool {
	return Evaluate(p, cfg).Include
}

// Evaluate 与 Include 相同，但同时给出排除原因。
//
// 顺序：
//  1. 不是视频流
//  2. 设置了时长边界但时长未知
//  3. 短于 min（下界包含）
//  4. 长于 max（上界包含）
//  5. 仅竖屏且 width >= height
//  6. 仅横屏且 height > width（正方形保留）
//
// 方向过滤启用但宽高未知时排除。
func Evaluate(p domain.ProbeResult, cfg domain.FilterConfig) Decision {
	if !p.IsVideo {
		return exclude(ReasonNotVideo)
	}

	if cfg.HasDurationBound() {
		if p.DurationSeconds == nil {
			return exclude(ReasonDurationUnknown)
		}
		d := *p.DurationSeconds
		if cfg.MinDurationSeconds != nil && d < *cfg.MinDurationSeconds {
			return exclude(ReasonTooShort)
		}
		if cfg.MaxDurationSeconds != nil && d > *cfg.MaxDurationSeconds {
			return exclude(ReasonTooLong)
		}
	}

	if !cfg.OrientationActive() {
		return Decision{Include: true}
	}
	if p.Width == nil || p.Height == nil {
		return exclude(ReasonDimensionsUnknown)
	}
	w, h := *p.Width, *p.Height
	switch cfg.Orientation {
	case domain.OrientationPortrait:
		if w >= h {
			return exclude(ReasonNotPortrait)
		}
	case domain.OrientationHorizontal:
		if h > w {
			return exclude(ReasonNotHorizontal)
		}
	}
	return Decision{Include: true}
}

func exclude(reason string) Decision {
	return Decision{Include: false, Reason: reason}
}
