package run

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/cascadepl/internal/app/planner"
	"github.com/John-Robertt/cascadepl/internal/archive"
	"github.com/John-Robertt/cascadepl/internal/config"
	"github.com/John-Robertt/cascadepl/internal/domain"
	"github.com/John-Robertt/cascadepl/internal/infra/cache"
	"github.com/John-Robertt/cascadepl/internal/probe"
)

// Deps 是编排层的协作者。
type Deps struct {
	Prober probe.Prober
	// Archive 为 nil 表示不归档。
	Archive *archive.Stage
	// Cache 非 nil 时在 Execute 结束后持久化（Prober 通常就是它）。
	Cache *cache.ProbeCache
	Log   zerolog.Logger
}

// Options 是与过滤策略无关的运行参数。
type Options struct {
	ProbeTimeout time.Duration
	ExcludeDirs  []string
	FileName     string
	SkipEmpty    bool
	DryRun       bool
	// ShuffleSeed 为 0 时使用当前时间。
	ShuffleSeed int64
	// RunID 为空时自动生成。
	RunID string
}

// DefaultDeps 按最终配置组装默认协作者：ffprobe（+ 探测缓存）与 7z/zip 归档。
func DefaultDeps(eff config.EffectiveConfig, log zerolog.Logger) Deps {
	d := Deps{
		Prober: probe.FFProbe{Bin: eff.FFprobePath},
		Log:    log,
	}
	if eff.ProbeCache {
		c := cache.New(d.Prober, cache.DefaultPath(eff.OutputDir), eff.DryRun)
		if err := c.Load(); err != nil {
			log.Warn().Err(err).Str("path", c.Path).Msg("读取探测缓存失败，忽略")
		}
		d.Prober = c
		d.Cache = c
	}
	if eff.Archive {
		d.Archive = archive.NewStage(archive.Options{Format: eff.ArchiveFormat, Level: eff.ArchiveLevel}, eff.SevenZipPath)
	}
	return d
}

// Run 为 mediaRoot 的每个 (子目录 × variant) 执行一个 job，返回全部 JobResult（按规划顺序）。
//
// 输出布局：<targetRoot>/<variant>/<rel>/<playlist>。
// 单个 job 的失败只体现在它自己的 JobResult 里；ctx 取消后未派发的 job 记为 skipped(cancelled)。
func Run(ctx context.Context, mediaRoot, targetRoot string, variants []domain.Variant, cfg domain.FilterConfig, concurrency int, deps Deps, opts Options) []domain.JobResult {
	if opts.RunID == "" {
		opts.RunID = planner.NewRunID(time.Now())
	}
	targets, err := planner.PlanTargets(planner.Input{
		MediaRoot:   mediaRoot,
		TargetRoot:  targetRoot,
		Variants:    variants,
		Filter:      cfg,
		RunID:       opts.RunID,
		FileName:    opts.FileName,
		ArchiveExt:  archiveExt(deps.Archive),
		ExcludeDirs: opts.ExcludeDirs,
	})
	if err != nil {
		return []domain.JobResult{planFailed(mediaRoot, err)}
	}
	opts.ExcludeDirs = append(append([]string(nil), opts.ExcludeDirs...), targetRoot)
	return dispatch(ctx, targets, cfg, concurrency, deps, opts, nil)
}

// Execute 执行一次完整运行，并返回对外稳定的 RunReport。
// 该函数尽量把错误“降级”为 job 级失败（单个失败不影响其他）。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, deps, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) domain.RunReport {
	started := time.Now().UTC()
	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		RunID:      planner.NewRunID(started),
		MediaRoots: append([]string(nil), eff.Dirs...),
		OutputDir:  eff.OutputDir,
		DryRun:     eff.DryRun,
		StartedAt:  started,
		Jobs:       make([]domain.JobResult, 0, 64),
	}
	log := deps.Log.With().Str("run_id", rr.RunID).Logger()
	deps.Log = log

	opts := Options{
		ProbeTimeout: eff.ProbeTimeout,
		FileName:     eff.FileName,
		SkipEmpty:    eff.SkipEmpty,
		DryRun:       eff.DryRun,
		ShuffleSeed:  eff.ShuffleSeed,
		RunID:        rr.RunID,
	}

	// plan：每个媒体根目录一个目标根目录；所有输出目录都不参与扫描。
	planStarted := time.Now()
	roots := planner.PlanRoots(eff.Dirs, eff.OutputDir)
	excludes := append([]string(nil), eff.ExcludeDirs...)
	excludes = append(excludes,
		filepath.Join(eff.OutputDir, planner.CacheDirName),
		filepath.Join(eff.OutputDir, planner.ReportsDirName),
	)
	for _, r := range roots {
		excludes = append(excludes, r.TargetRoot)
	}

	var targets []domain.ScanTarget
	for _, r := range roots {
		ts, err := planner.PlanTargets(planner.Input{
			MediaRoot:   r.MediaRoot,
			TargetRoot:  r.TargetRoot,
			Variants:    eff.Variants,
			Filter:      eff.Filter,
			RunID:       rr.RunID,
			FileName:    eff.FileName,
			ArchiveExt:  archiveExt(deps.Archive),
			ExcludeDirs: excludes,
		})
		if err != nil {
			log.Warn().Err(err).Str("root", r.MediaRoot).Msg("规划失败")
			rr.Jobs = append(rr.Jobs, planFailed(r.MediaRoot, err))
			continue
		}
		targets = append(targets, ts...)
	}
	opts.ExcludeDirs = excludes

	workers := effectiveWorkers(eff.Concurrency)
	if obs != nil {
		obs.OnPhaseDone("plan", map[string]any{
			"roots":    len(roots),
			"variants": len(eff.Variants),
			"jobs":     len(targets),
		}, time.Since(planStarted))
		obs.OnPhaseDone("exec", map[string]any{
			"workers": workers,
			"jobs":    len(targets),
		}, 0)
	}

	rr.Jobs = append(rr.Jobs, dispatch(ctx, targets, eff.Filter, workers, deps, opts, obs)...)

	if deps.Cache != nil && !eff.DryRun {
		if err := deps.Cache.Save(); err != nil && !errors.Is(err, cache.ErrReadOnly) {
			log.Warn().Err(err).Str("path", deps.Cache.Path).Msg("保存探测缓存失败")
		}
		hits, misses := deps.Cache.Stats()
		log.Debug().Int("hits", hits).Int("misses", misses).Msg("探测缓存")
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	log.Info().
		Int("succeeded", rr.Summary.Succeeded).
		Int("skipped", rr.Summary.Skipped).
		Int("failed", rr.Summary.Failed).
		Int("entries", rr.Summary.Entries).
		Msg("运行结束")
	return rr
}

// dispatch 在 concurrency 个 worker 上执行 targets；结果按 targets 下标排列。
//
// 取消语义：ctx 取消后停止派发；已派发的 job 执行完（或在 job 内部尽快返回），
// 从未派发的 job 记为 skipped(cancelled)。
func dispatch(ctx context.Context, targets []domain.ScanTarget, cfg domain.FilterConfig, concurrency int, deps Deps, opts Options, obs Observer) []domain.JobResult {
	total := len(targets)
	out := make([]domain.JobResult, total)
	if total == 0 {
		return out
	}
	workers := effectiveWorkers(concurrency)
	if workers > total {
		workers = total
	}

	type execResult struct {
		idx int
		res domain.JobResult
		dur time.Duration
	}

	jobs := make(chan int)
	results := make(chan execResult, total)
	dispatched := make([]bool, total)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				oneStarted := time.Now()
				r := RunJob(ctx, targets[idx], cfg, deps, opts)
				results <- execResult{idx: idx, res: r, dur: time.Since(oneStarted)}
			}
		}()
	}

	go func() {
	loop:
		for i := range targets {
			if ctx.Err() != nil {
				break
			}
			select {
			case <-ctx.Done():
				break loop
			case jobs <- i:
				dispatched[i] = true
			}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	done := 0
	for it := range results {
		done++
		out[it.idx] = it.res
		if obs != nil {
			obs.OnJobDone(done, total, it.res, it.dur)
		}
	}

	for i := range targets {
		if dispatched[i] {
			continue
		}
		res := cancelled(targets[i])
		out[i] = res
		done++
		if obs != nil {
			obs.OnJobDone(done, total, res, 0)
		}
	}
	return out
}

func effectiveWorkers(n int) int {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	return n
}

func archiveExt(s *archive.Stage) string {
	if s == nil {
		return ""
	}
	return s.Ext()
}

func planFailed(root string, err error) domain.JobResult {
	code := domain.ErrCodeIOFailed
	var se *domain.ScanError
	var re *domain.RemapError
	switch {
	case errors.As(err, &se):
		code = domain.ErrCodeScanFailed
	case errors.As(err, &re):
		code = domain.ErrCodeRemapFailed
	}
	return domain.JobResult{
		Target:    domain.ScanTarget{SourceDir: root},
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  err.Error(),
	}
}

func cancelled(t domain.ScanTarget) domain.JobResult {
	return domain.JobResult{
		Target:    t,
		Status:    domain.StatusSkipped,
		Reason:    domain.ReasonCancelled,
		ErrorCode: domain.ErrCodeCancelled,
	}
}
