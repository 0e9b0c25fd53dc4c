package planner

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/cascadepl/internal/domain"
	"github.com/John-Robertt/cascadepl/internal/playlist"
	"github.com/John-Robertt/cascadepl/internal/remap"
	"github.com/John-Robertt/cascadepl/internal/scan"
)

// 输出目录下保留给内部状态的名字，媒体根目录不能占用。
const (
	CacheDirName   = "cache"
	ReportsDirName = "reports"
)

// NewRunID 生成本次运行的标识：时间戳（便于排序）+ 8 位随机后缀（避免同秒冲突）。
func NewRunID(now time.Time) string {
	return now.Format("20060102150405") + "-" + uuid.NewString()[:8]
}

// RootPlan 是一个媒体根目录及其专属的目标根目录。
type RootPlan struct {
	MediaRoot  string
	TargetRoot string
}

// PlanRoots 为每个媒体根目录分配 <outputDir>/<base>；同名 base 追加 __N。
// 直接位于 outputDir 下的媒体根目录占用自己的名字，目标根目录不会与之重合。
func PlanRoots(dirs []string, outputDir string) []RootPlan {
	used := map[string]struct{}{
		CacheDirName:   {},
		ReportsDirName: {},
	}
	outClean := filepath.Clean(outputDir)
	for _, d := range dirs {
		d = filepath.Clean(d)
		if filepath.Dir(d) == outClean {
			used[strings.ToLower(filepath.Base(d))] = struct{}{}
		}
	}
	out := make([]RootPlan, 0, len(dirs))
	for _, d := range dirs {
		base := playlist.SanitizeName(filepath.Base(filepath.Clean(d)))
		if base == "." || base == string(filepath.Separator) || base == "_" {
			base = "root"
		}
		name := allocName(base, used)
		used[strings.ToLower(name)] = struct{}{}
		out = append(out, RootPlan{MediaRoot: d, TargetRoot: filepath.Join(outputDir, name)})
	}
	return out
}

// Input 是规划一个媒体根目录所需的全部参数。
type Input struct {
	MediaRoot  string
	TargetRoot string
	Variants   []domain.Variant
	Filter     domain.FilterConfig
	RunID      string

	// FileName 非空时所有 playlist 使用固定文件名。
	FileName string
	// ArchiveExt 为空表示不归档。
	ArchiveExt string
	// ExcludeDirs 为绝对路径；TargetRoot 总是被排除。
	ExcludeDirs []string
}

// PlanTargets 递归枚举 MediaRoot 的子目录，为每个 (子目录 × variant) 生成一个 ScanTarget。
//
// 顺序：子目录字典序在外层，variant 按输入顺序在内层。
// 输出路径：<TargetRoot>/<variant>/<rel>/<playlist>；同一次规划内不允许两个 job 共享输出文件。
func PlanTargets(in Input) ([]domain.ScanTarget, error) {
	if len(in.Variants) == 0 {
		return nil, fmt.Errorf("至少需要一个 variant")
	}
	root := filepath.Clean(in.MediaRoot)

	excludes := append([]string{filepath.Clean(in.TargetRoot)}, in.ExcludeDirs...)
	subdirs, err := scan.Subdirs(root, excludes)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScanTarget, 0, len(subdirs)*len(in.Variants))
	seen := make(map[string]string, cap(out))
	for _, sub := range subdirs {
		rel, err := filepath.Rel(root, sub)
		if err != nil {
			return nil, err
		}
		for _, v := range in.Variants {
			t, err := buildTarget(root, sub, rel, v, in)
			if err != nil {
				return nil, err
			}
			key := strings.ToLower(filepath.Join(t.OutputDir, t.PlaylistName))
			if prev, dup := seen[key]; dup {
				return nil, fmt.Errorf("输出路径冲突：%q 与 %q 写入同一文件", prev, t.SourceDir)
			}
			seen[key] = t.SourceDir
			out = append(out, t)
		}
	}
	return out, nil
}

// Single 描述单目录模式（playlist 命令）：不做级联，输出直接写到 OutputDir。
type Single struct {
	Dir        string
	Mount      string
	OutputDir  string
	Variant    string
	Filter     domain.FilterConfig
	RunID      string
	FileName   string
	ArchiveExt string
}

// PlanSingle 为单个目录生成一个 ScanTarget。
func PlanSingle(s Single) (domain.ScanTarget, error) {
	dir := filepath.Clean(s.Dir)
	if strings.TrimSpace(s.Mount) == "" {
		return domain.ScanTarget{}, fmt.Errorf("mount 不能为空")
	}
	name := playlistName(filepath.Base(dir), s.Variant, s.Filter, s.RunID, s.FileName)
	return domain.ScanTarget{
		SourceDir:    dir,
		MountRoot:    s.Mount,
		Separator:    remap.Separator(s.Mount),
		OutputDir:    filepath.Clean(s.OutputDir),
		Variant:      s.Variant,
		RelDir:       ".",
		PlaylistName: name,
		ArchiveName:  archiveName(name, s.ArchiveExt),
	}, nil
}

func buildTarget(root, sub, rel string, v domain.Variant, in Input) (domain.ScanTarget, error) {
	sep := remap.Separator(v.Mount)
	mount, err := remap.RemapSep(sub, root, v.Mount, sep)
	if err != nil {
		return domain.ScanTarget{}, err
	}
	name := playlistName(filepath.Base(sub), v.Name, in.Filter, in.RunID, in.FileName)
	return domain.ScanTarget{
		SourceDir:    sub,
		MountRoot:    mount,
		Separator:    sep,
		OutputDir:    filepath.Join(in.TargetRoot, v.Name, rel),
		Variant:      v.Name,
		RelDir:       filepath.ToSlash(rel),
		PlaylistName: name,
		ArchiveName:  archiveName(name, in.ArchiveExt),
	}, nil
}

func playlistName(base, variant string, cfg domain.FilterConfig, runID, fixed string) string {
	if n := playlist.FixedName(fixed); n != "" {
		return n
	}
	return playlist.BaseName(base, variant, cfg, runID) + playlist.Ext
}

func archiveName(playlistName, ext string) string {
	if ext == "" {
		return ""
	}
	return playlist.TrimExt(playlistName) + ext
}

// allocName 返回 used 中未占用的名字（大小写不敏感）；冲突时追加 __N。
func allocName(name string, used map[string]struct{}) string {
	if _, ok := used[strings.ToLower(name)]; !ok {
		return name
	}
	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s__%d", name, n)
		if _, ok := used[strings.ToLower(cand)]; !ok {
			return cand
		}
	}
}
