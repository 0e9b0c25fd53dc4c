package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/cascadepl/internal/domain"
	"github.com/John-Robertt/cascadepl/internal/filter"
	"github.com/John-Robertt/cascadepl/internal/media"
	"github.com/John-Robertt/cascadepl/internal/probe"
	"github.com/John-Robertt/cascadepl/internal/remap"
)

// Options 是扫描的运行参数（与过滤策略无关）。
type Options struct {
	// ProbeTimeout 是单次探测的超时；<=0 表示不限。
	ProbeTimeout time.Duration
	// ExcludeDirs 为绝对路径；命中的目录整体跳过（输出目录位于媒体树内时必须排除）。
	ExcludeDirs []string
	Log         zerolog.Logger
}

// Stats 是一次扫描的逐文件统计。
type Stats struct {
	Files        int
	Unrecognized int
	ProbeFailed  int
	Excluded     int
}

// ScanDir 递归扫描 target.SourceDir，按遍历顺序产出 playlist 条目。
//
// 每个文件：分类 -> 探测 -> 过滤 -> 映射。
// - 不识别的扩展名：记录并跳过，不探测
// - 探测失败/超时：只跳过该文件
// - 根目录不可读：*domain.ScanError
// - 嵌套目录不可读：记录并跳过该目录
// - 指向目录的符号链接：跟随（见 walk）；条目路径保留链接名
// - ctx 取消：当前探测结束后停止，返回 ctx.Err()
//
// 探测调用与 ctx 的取消解耦（只受 ProbeTimeout 约束），保证进行中的调用完整结束。
func ScanDir(ctx context.Context, target domain.ScanTarget, cfg domain.FilterConfig, prober probe.Prober, opts Options) ([]domain.PlaylistEntry, Stats, error) {
	root := filepath.Clean(target.SourceDir)
	excluded := buildExcluded(opts.ExcludeDirs)
	req := probe.Request{Dimensions: cfg.OrientationActive()}
	log := opts.Log

	var (
		entries = make([]domain.PlaylistEntry, 0, 64)
		st      Stats
	)

	sep := target.Separator
	if sep == "" {
		sep = remap.Separator(target.MountRoot)
	}

	err := walk(root, log, func(path, resolved string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			if path == root {
				return &domain.ScanError{Dir: root, Err: walkErr}
			}
			log.Warn().Str("path", path).Err(walkErr).Msg("目录不可读，跳过")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if isHidden(d.Name()) || isExcluded(path, excluded) || isExcluded(resolved, excluded) {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return &domain.ScanError{Dir: root, Err: fmt.Errorf("不是目录")}
		}

		st.Files++
		if media.Classify(d.Name()) != media.Video {
			st.Unrecognized++
			log.Debug().Str("path", path).Msg("不是可识别的视频格式，跳过")
			return nil
		}

		res, err := probeOne(ctx, prober, path, req, opts.ProbeTimeout)
		if err != nil {
			st.ProbeFailed++
			log.Warn().Str("path", path).Err(err).Msg("探测失败，跳过")
			return nil
		}

		if dec := filter.Evaluate(res, cfg); !dec.Include {
			st.Excluded++
			log.Debug().Str("path", path).Str("reason", dec.Reason).Msg("被过滤")
			return nil
		}

		mapped, err := remap.RemapSep(path, root, target.MountRoot, sep)
		if err != nil {
			return err
		}
		entries = append(entries, domain.PlaylistEntry{RemappedPath: mapped})
		return nil
	})
	if err != nil {
		return nil, st, err
	}
	return entries, st, nil
}

func probeOne(ctx context.Context, p probe.Prober, path string, req probe.Request, timeout time.Duration) (domain.ProbeResult, error) {
	pctx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, timeout)
		defer cancel()
	}
	res, err := p.Probe(pctx, path, req)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		var pe *domain.ProbeError
		if !errors.As(err, &pe) {
			err = &domain.ProbeError{Path: path, Reason: "timeout", Err: err}
		}
	}
	return domain.ProbeResult{}, err
}

// Subdirs 递归列出 root 下的所有子目录（不含 root 本身），按遍历顺序（字典序）返回绝对路径。
//
// 隐藏目录（'.' 开头）与 excludeDirs（绝对路径）整体跳过；root 不可读返回 *domain.ScanError。
// 指向目录的符号链接按普通子目录列出，返回的是链接路径。
func Subdirs(root string, excludeDirs []string) ([]string, error) {
	root = filepath.Clean(root)
	excluded := buildExcluded(excludeDirs)

	out := make([]string, 0, 32)
	err := walk(root, zerolog.Nop(), func(path, resolved string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return &domain.ScanError{Dir: root, Err: walkErr}
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if path == root {
				return &domain.ScanError{Dir: root, Err: fmt.Errorf("不是目录")}
			}
			return nil
		}
		if path == root {
			return nil
		}
		if isHidden(d.Name()) || isExcluded(path, excluded) || isExcluded(resolved, excluded) {
			return filepath.SkipDir
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func buildExcluded(excludeDirs []string) []string {
	excluded := make([]string, 0, len(excludeDirs))
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		excluded = append(excluded, filepath.Clean(x))
		// 也按真实路径匹配，链接进来的排除目录同样生效。
		if resolved, err := filepath.EvalSymlinks(x); err == nil && resolved != filepath.Clean(x) {
			excluded = append(excluded, resolved)
		}
	}
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, strings.TrimSuffix(base, sep)+sep)
}
