package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/cascadepl/internal/app/run"
	"github.com/John-Robertt/cascadepl/internal/config"
	"github.com/John-Robertt/cascadepl/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端的进度输出。
//
// 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约；
// 长时间无 job 完成时 ticker 会定期补一行 keepalive。
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	workers int
	total   int
	done    int
	ok      int
	fail    int
	skip    int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "write"
	if eff.DryRun {
		mode = "dry-run (不写入任何文件)"
	}

	fmt.Fprintf(p.w, "[%s] cascadepl run (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigPath != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	fmt.Fprintf(p.w, "  dirs: %s\n", formatStringListJSON(eff.Dirs))
	fmt.Fprintf(p.w, "  variants: %s\n", formatVariants(eff.Variants))
	fmt.Fprintf(p.w, "  filter: %s\n", formatFilter(eff.Filter))
	fmt.Fprintf(p.w, "  archive: %s\n", formatArchive(eff))
	fmt.Fprintf(p.w, "  concurrency: %d\n", eff.Concurrency)
	fmt.Fprintf(p.w, "  probe_timeout: %s\n", eff.ProbeTimeout)
	fmt.Fprintf(p.w, "  probe_cache: %s\n", onOff(eff.ProbeCache))
	if eff.FileName != "" {
		fmt.Fprintf(p.w, "  filename: %s\n", eff.FileName)
	}
	if len(eff.ExcludeDirs) > 0 {
		fmt.Fprintf(p.w, "  exclude_dirs: %s\n", formatStringListJSON(eff.ExcludeDirs))
	}
	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  out: %s\n", eff.OutputDir)
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "plan":
		fmt.Fprintf(p.w, "规划: roots=%d variants=%d jobs=%d (%s)\n",
			intField(fields, "roots"), intField(fields, "variants"), intField(fields, "jobs"), formatShortDuration(dur),
		)
	case "exec":
		p.workers = intField(fields, "workers")
		p.total = intField(fields, "jobs")
		fmt.Fprintf(p.w, "执行: workers=%d jobs=%d\n\n", p.workers, p.total)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnJobDone(idx, total int, res domain.JobResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// idx/total 由 run 层给出；这里同时维护自己的计数，供 keepalive 使用。
	p.done = idx
	p.total = total

	label := run.JobLabel(res.Target)
	switch res.Status {
	case domain.StatusSuccess:
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s OK entries=%d%s (%s)\n",
			idx, total, label, res.EntryCount, formatExcluded(res.Stats), formatShortDuration(dur),
		)
	case domain.StatusSkipped:
		p.skip++
		fmt.Fprintf(p.w, "[%d/%d] %s SKIP %s (%s)\n",
			idx, total, label, res.Reason, formatShortDuration(dur),
		)
	default:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s: %s (%s)\n",
			idx, total, label, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.tickerStarted && p.done >= p.total {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) OnProgress(done, total, ok, fail, skip, active int, activeJobs []string, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printProgressLocked(done, total, ok, fail, skip, active, activeJobs, elapsed)
}

func (p *progressUI) printProgressLocked(done, total, ok, fail, skip, active int, activeJobs []string, elapsed time.Duration) {
	fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d skip=%d active=%d elapsed=%s",
		done, total, ok, fail, skip, active, formatElapsed(elapsed),
	)
	if len(activeJobs) > 0 {
		fmt.Fprintf(p.w, " jobs=%s", truncate(strings.Join(activeJobs, ","), 120))
	}
	fmt.Fprintln(p.w)
	p.lastPrinted = time.Now()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done >= p.total {
					p.mu.Unlock()
					return
				}
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					active := p.workers
					if remain := p.total - p.done; remain < active {
						active = remain
					}
					p.printProgressLocked(p.done, p.total, p.ok, p.fail, p.skip, active, nil, time.Since(p.startedAt))
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatVariants(vs []domain.Variant) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, v.Name+"="+v.Mount)
	}
	return strings.Join(parts, " ")
}

func formatFilter(f domain.FilterConfig) string {
	parts := []string{"orientation=" + string(orDefault(f.Orientation, domain.OrientationAny))}
	if f.MinDurationSeconds != nil {
		parts = append(parts, fmt.Sprintf("min=%gs", *f.MinDurationSeconds))
	}
	if f.MaxDurationSeconds != nil {
		parts = append(parts, fmt.Sprintf("max=%gs", *f.MaxDurationSeconds))
	}
	parts = append(parts, "shuffle="+onOff(f.Shuffle), "overwrite="+onOff(f.Overwrite))
	return strings.Join(parts, " ")
}

func orDefault(o, def domain.Orientation) domain.Orientation {
	if o == "" {
		return def
	}
	return o
}

func formatArchive(eff config.EffectiveConfig) string {
	if !eff.Archive {
		return "off"
	}
	return fmt.Sprintf("%s (level=%d)", eff.ArchiveFormat, eff.ArchiveLevel)
}

// formatExcluded 只在有文件被排除或探测失败时输出，正常情况保持一行简短。
func formatExcluded(st domain.JobStats) string {
	var b strings.Builder
	if st.Excluded > 0 {
		fmt.Fprintf(&b, " excluded=%d", st.Excluded)
	}
	if st.ProbeFailed > 0 {
		fmt.Fprintf(&b, " probe_failed=%d", st.ProbeFailed)
	}
	return b.String()
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}
