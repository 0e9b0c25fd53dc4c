package run

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/John-Robertt/cascadepl/internal/domain"
	"github.com/John-Robertt/cascadepl/internal/infra/fsx"
	"github.com/John-Robertt/cascadepl/internal/playlist"
	"github.com/John-Robertt/cascadepl/internal/scan"
)

// RunJob 串行执行一个 job：scan -> shuffle -> write -> archive。
// 所有失败都落在返回的 JobResult 上，不会 panic 或影响其他 job。
func RunJob(ctx context.Context, t domain.ScanTarget, cfg domain.FilterConfig, deps Deps, opts Options) domain.JobResult {
	started := time.Now()
	res := runJob(ctx, t, cfg, deps, opts)
	res.DurationMS = time.Since(started).Milliseconds()

	ev := deps.Log.Debug()
	if res.Status == domain.StatusFailed {
		ev = deps.Log.Warn()
	}
	ev.Str("variant", t.Variant).
		Str("rel", t.RelDir).
		Str("status", res.Status).
		Str("error_code", res.ErrorCode).
		Int("entries", res.EntryCount).
		Msg("job 完成")
	return res
}

func runJob(ctx context.Context, t domain.ScanTarget, cfg domain.FilterConfig, deps Deps, opts Options) domain.JobResult {
	res := domain.JobResult{Target: t, Status: domain.StatusSuccess}
	if ctx.Err() != nil {
		return cancelled(t)
	}

	log := deps.Log.With().Str("variant", t.Variant).Str("rel", t.RelDir).Logger()
	entries, st, err := scan.ScanDir(ctx, t, cfg, deps.Prober, scan.Options{
		ProbeTimeout: opts.ProbeTimeout,
		ExcludeDirs:  opts.ExcludeDirs,
		Log:          log,
	})
	res.Stats = domain.JobStats(st)
	if err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			c := cancelled(t)
			c.Stats = res.Stats
			return c
		}
		return fail(res, scanErrCode(err), err)
	}
	res.EntryCount = len(entries)

	if cfg.Shuffle {
		playlist.Shuffle(entries, jobRand(opts.ShuffleSeed, t))
	}

	if len(entries) == 0 && opts.SkipEmpty {
		res.Status = domain.StatusSkipped
		res.Reason = domain.ReasonEmpty
		return res
	}
	if opts.DryRun {
		return res
	}

	if err := fsx.EnsureDir(t.OutputDir); err != nil {
		return fail(res, writeErrCode(err, domain.ErrCodeIOFailed), err)
	}

	out := filepath.Join(t.OutputDir, t.PlaylistName)
	if err := playlist.Write(entries, out, cfg.Overwrite); err != nil {
		return fail(res, writeErrCode(err, domain.ErrCodeWriteFailed), err)
	}
	res.PlaylistPath = out

	if deps.Archive == nil || t.ArchiveName == "" {
		return res
	}
	// 归档不随运行取消中断：playlist 已经落盘，归档要么完整要么失败。
	dest := filepath.Join(t.OutputDir, t.ArchiveName)
	if err := deps.Archive.Archive(context.WithoutCancel(ctx), t.OutputDir, dest); err != nil {
		return fail(res, domain.ErrCodeArchiveFailed, err)
	}
	res.ArchivePath = dest
	return res
}

func fail(res domain.JobResult, code string, err error) domain.JobResult {
	res.Status = domain.StatusFailed
	res.ErrorCode = code
	res.ErrorMsg = err.Error()
	return res
}

func scanErrCode(err error) string {
	var se *domain.ScanError
	var re *domain.RemapError
	switch {
	case errors.As(err, &re):
		return domain.ErrCodeRemapFailed
	case errors.As(err, &se):
		return domain.ErrCodeScanFailed
	default:
		return domain.ErrCodeIOFailed
	}
}

func writeErrCode(err error, def string) string {
	var ae *domain.AlreadyExistsError
	switch {
	case errors.As(err, &ae):
		return domain.ErrCodeAlreadyExists
	case fsx.IsPathTypeConflict(err):
		return domain.ErrCodeTargetConflict
	default:
		return def
	}
}

// jobRand 为每个 job 派生独立的随机源：同一 seed 下同一 (源目录, variant) 的顺序可复现，与 worker 数无关。
func jobRand(seed int64, t domain.ScanTarget) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(t.SourceDir + "\x00" + t.Variant))
	return rand.New(rand.NewSource(seed ^ int64(h.Sum64())))
}
