package run

import (
	"time"

	"github.com/John-Robertt/cascadepl/internal/config"
	"github.com/John-Robertt/cascadepl/internal/domain"
)

// Observer 用于把“运行进度/阶段/job 结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：CLI 的 keepalive 与 server 的订阅者都会并发读取。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束/就绪时调用（用于打印阶段统计与耗时）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnJobDone 在某个 job 完成（或被判定为取消）时调用。
	OnJobDone(idx, total int, res domain.JobResult, dur time.Duration)
	// OnProgress 用于 keepalive（由 CLI 或 server 各自的 ticker 触发；run 层不调用）。
	OnProgress(done, total, ok, fail, skip, active int, activeJobs []string, elapsed time.Duration)
}

// JobLabel 是 job 在进度输出里的短标识：<variant>:<rel>。
func JobLabel(t domain.ScanTarget) string {
	rel := t.RelDir
	if rel == "" {
		rel = t.SourceDir
	}
	if t.Variant == "" {
		return rel
	}
	return t.Variant + ":" + rel
}
