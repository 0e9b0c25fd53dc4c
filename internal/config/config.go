package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/cascadepl/internal/archive"
	"github.com/John-Robertt/cascadepl/internal/domain"
	"github.com/John-Robertt/cascadepl/internal/logx"
)

const (
	// ErrCodeNotFound 表示需要配置文件但找不到。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
	// ErrCodeMissingDirs 表示 CLI 与配置文件都没有给出媒体目录。
	ErrCodeMissingDirs = domain.ErrCodeConfigMissingDir
)

const (
	// DefaultFileName 是未指定 -config 时在 cwd 下查找的配置文件名。
	DefaultFileName = "cascadepl.yaml"

	DefaultArchiveLevel = 9
	DefaultProbeTimeout = 30 * time.Second
)

// CLIArgs 是 CLI 可覆盖的入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 -zip=false 必须能覆盖 zip_output: yes。
type CLIArgs struct {
	ConfigPath string

	Dirs      []string
	OutputDir string
	// Variants 形如 name=mount。
	Variants []string

	MinLength *float64
	MaxLength *float64

	Portrait    bool
	PortraitSet bool
	Horz        bool
	HorzSet     bool
	Shuffle     bool
	ShuffleSet  bool

	Overwrite    bool
	OverwriteSet bool
	Zip          bool
	ZipSet       bool

	FileName    string
	Concurrency int
	DryRun      bool
	LogLevel    string
}

// VariantConfig 是 variants 列表的一项。
type VariantConfig struct {
	Name  string `yaml:"name"`
	Mount string `yaml:"mount"`
}

// FileConfig 对应 cascadepl.yaml 的解析结构。
type FileConfig struct {
	Dirs      []string `yaml:"dirs,omitempty"`
	OutputDir string   `yaml:"output_dir,omitempty"`

	OSTypes  []string        `yaml:"os_types,omitempty"`
	OSMounts []string        `yaml:"os_mounts,omitempty"`
	Variants []VariantConfig `yaml:"variants,omitempty"`

	MinLength       *float64 `yaml:"min_length,omitempty"`
	MaxLength       *float64 `yaml:"max_length,omitempty"`
	AutoGenPlaylist *YesNo   `yaml:"auto_gen_playlist,omitempty"`
	ShufflePlaylist *YesNo   `yaml:"shuffle_playlist,omitempty"`
	PortraitOnly    *YesNo   `yaml:"portrait_only,omitempty"`
	HorzOnly        *YesNo   `yaml:"horz_only,omitempty"`
	Overwrite       *YesNo   `yaml:"overwrite,omitempty"`
	SkipEmpty       *YesNo   `yaml:"skip_empty,omitempty"`

	ZipOutput     *YesNo `yaml:"zip_output,omitempty"`
	ArchiveFormat string `yaml:"archive_format,omitempty"`
	ArchiveLevel  *int   `yaml:"archive_level,omitempty"`

	FileName     string   `yaml:"filename,omitempty"`
	Concurrency  int      `yaml:"concurrency,omitempty"`
	ProbeTimeout string   `yaml:"probe_timeout,omitempty"`
	ExcludeDirs  []string `yaml:"exclude_dirs,omitempty"`
	FFprobePath  string   `yaml:"ffprobe_path,omitempty"`
	SevenZipPath string   `yaml:"sevenzip_path,omitempty"`
	ProbeCache   *YesNo   `yaml:"probe_cache,omitempty"`
	ShuffleSeed  int64    `yaml:"shuffle_seed,omitempty"`
	LogLevel     string   `yaml:"log_level,omitempty"`
}

// EffectiveConfig 是合并并规范化后的最终配置，实现层直接消费。
type EffectiveConfig struct {
	ConfigPath string

	Dirs      []string
	OutputDir string
	Variants  []domain.Variant

	Filter   domain.FilterConfig
	FileName string

	Archive       bool
	ArchiveFormat archive.Format
	ArchiveLevel  int

	Concurrency  int
	ProbeTimeout time.Duration
	ExcludeDirs  []string

	FFprobePath  string
	SevenZipPath string
	ProbeCache   bool
	ShuffleSeed  int64
	SkipEmpty    bool
	DryRun       bool
	LogLevel     string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingDirs:
		return fmt.Sprintf("%s：未指定媒体目录（-dir 或配置文件 %q 中的 dirs）", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则：
// 1) CLI 给了 -config：该文件必须存在
// 2) 否则读取 <cwd>/cascadepl.yaml；CLI 给了 -dir 时可选，没给时必选
//
// 覆盖优先级：CLI > 配置文件 > 默认值。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, DefaultFileName)
	required := len(cli.Dirs) == 0
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		required = true
	}

	fc, exists, err := ReadFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists && required {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if !exists {
		cfgPath = ""
	}

	eff, err := merge(cwdAbs, cli, fc)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.Path = cfgPath
			return EffectiveConfig{}, ce
		}
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	eff.ConfigPath = cfgPath
	return eff, nil
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	var eff EffectiveConfig

	// dirs：CLI 整体替换配置文件。
	dirs := fc.Dirs
	if len(cli.Dirs) > 0 {
		dirs = cli.Dirs
	}
	eff.Dirs = resolveDirs(cwdAbs, dirs)
	if len(eff.Dirs) == 0 {
		return eff, &Error{Code: ErrCodeMissingDirs}
	}

	out := fc.OutputDir
	if strings.TrimSpace(cli.OutputDir) != "" {
		out = cli.OutputDir
	}
	if strings.TrimSpace(out) == "" {
		eff.OutputDir = cwdAbs
	} else {
		eff.OutputDir = absCleanFrom(cwdAbs, out)
	}

	variants, err := buildVariants(cli.Variants, fc)
	if err != nil {
		return eff, err
	}
	eff.Variants = variants

	// 过滤策略
	f := domain.FilterConfig{
		MinDurationSeconds: pickFloat(cli.MinLength, fc.MinLength),
		MaxDurationSeconds: pickFloat(cli.MaxLength, fc.MaxLength),
		Shuffle:            pickBool(cli.Shuffle, cli.ShuffleSet, fc.ShufflePlaylist, false),
		Overwrite:          pickBool(cli.Overwrite, cli.OverwriteSet, fc.Overwrite, false),
		Orientation:        domain.OrientationAny,
	}
	portrait := pickBool(cli.Portrait, cli.PortraitSet, fc.PortraitOnly, false)
	horz := pickBool(cli.Horz, cli.HorzSet, fc.HorzOnly, false)
	switch {
	case portrait && horz:
		return eff, fmt.Errorf("portrait_only 与 horz_only 不能同时开启")
	case portrait:
		f.Orientation = domain.OrientationPortrait
	case horz:
		f.Orientation = domain.OrientationHorizontal
	}
	if err := f.Validate(); err != nil {
		return eff, err
	}
	eff.Filter = f

	// 文件名：显式 filename 固定命名；auto_gen_playlist=no 时必须给出 filename。
	name := fc.FileName
	if strings.TrimSpace(cli.FileName) != "" {
		name = cli.FileName
	}
	eff.FileName = strings.TrimSpace(name)
	if fc.AutoGenPlaylist != nil && !bool(*fc.AutoGenPlaylist) && eff.FileName == "" {
		return eff, fmt.Errorf("auto_gen_playlist=no 时必须指定 filename")
	}

	// 归档
	eff.Archive = pickBool(cli.Zip, cli.ZipSet, fc.ZipOutput, true)
	eff.ArchiveFormat, err = archive.ParseFormat(fc.ArchiveFormat)
	if err != nil {
		return eff, err
	}
	eff.ArchiveLevel = DefaultArchiveLevel
	if fc.ArchiveLevel != nil {
		if *fc.ArchiveLevel < 0 || *fc.ArchiveLevel > 9 {
			return eff, fmt.Errorf("archive_level 必须在 0..9 之间，实际是 %d", *fc.ArchiveLevel)
		}
		eff.ArchiveLevel = *fc.ArchiveLevel
	}

	// 并发：0 表示 CPU 数；不设上限。
	concurrency := fc.Concurrency
	if cli.Concurrency != 0 {
		concurrency = cli.Concurrency
	}
	if concurrency == 0 {
		concurrency = runtime.NumCPU()
	}
	eff.Concurrency = clampConcurrency(concurrency)

	eff.ProbeTimeout = DefaultProbeTimeout
	if s := strings.TrimSpace(fc.ProbeTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return eff, fmt.Errorf("probe_timeout 无效：%q", s)
		}
		eff.ProbeTimeout = d
	}

	for _, x := range fc.ExcludeDirs {
		if strings.TrimSpace(x) == "" {
			continue
		}
		eff.ExcludeDirs = append(eff.ExcludeDirs, absCleanFrom(cwdAbs, x))
	}

	eff.FFprobePath = strings.TrimSpace(fc.FFprobePath)
	eff.SevenZipPath = strings.TrimSpace(fc.SevenZipPath)
	eff.ProbeCache = fc.ProbeCache == nil || bool(*fc.ProbeCache)
	eff.SkipEmpty = fc.SkipEmpty != nil && bool(*fc.SkipEmpty)
	eff.ShuffleSeed = fc.ShuffleSeed
	eff.DryRun = cli.DryRun

	level := fc.LogLevel
	if strings.TrimSpace(cli.LogLevel) != "" {
		level = cli.LogLevel
	}
	if _, err := logx.ParseLevel(level); err != nil {
		return eff, err
	}
	eff.LogLevel = strings.ToLower(strings.TrimSpace(level))
	return eff, nil
}

// buildVariants 合并 variant 来源：CLI name=mount > variants 列表 > os_types/os_mounts。
func buildVariants(cliVariants []string, fc FileConfig) ([]domain.Variant, error) {
	var out []domain.Variant
	switch {
	case len(cliVariants) > 0:
		for _, s := range cliVariants {
			name, mount, ok := strings.Cut(s, "=")
			if !ok {
				return nil, fmt.Errorf("variant 格式应为 name=mount：%q", s)
			}
			out = append(out, domain.Variant{Name: name, Mount: mount})
		}
	case len(fc.Variants) > 0:
		for _, v := range fc.Variants {
			out = append(out, domain.Variant{Name: v.Name, Mount: v.Mount})
		}
	default:
		if len(fc.OSTypes) != len(fc.OSMounts) {
			return nil, fmt.Errorf("os_types 与 os_mounts 数量不一致（%d vs %d）", len(fc.OSTypes), len(fc.OSMounts))
		}
		for i := range fc.OSTypes {
			out = append(out, domain.Variant{Name: fc.OSTypes[i], Mount: fc.OSMounts[i]})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("至少需要一个 variant（os_types/os_mounts 或 variants）")
	}

	seen := make(map[string]struct{}, len(out))
	for i := range out {
		out[i].Name = strings.TrimSpace(out[i].Name)
		out[i].Mount = strings.TrimSpace(out[i].Mount)
		if out[i].Name == "" || out[i].Mount == "" {
			return nil, fmt.Errorf("variant 的 name 与 mount 都不能为空：%+v", out[i])
		}
		if strings.ContainsAny(out[i].Name, `/\`) || out[i].Name == "." || out[i].Name == ".." {
			return nil, fmt.Errorf("variant 名不能作为目录名：%q", out[i].Name)
		}
		key := strings.ToLower(out[i].Name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("variant 名重复：%q", out[i].Name)
		}
		seen[key] = struct{}{}
	}
	return out, nil
}

// resolveDirs 把媒体目录规范化为绝对路径（尽量解析符号链接）并去重，保持原顺序。
func resolveDirs(cwdAbs string, dirs []string) []string {
	out := make([]string, 0, len(dirs))
	seen := make(map[string]struct{}, len(dirs))
	for _, d := range dirs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		p := absCleanFrom(cwdAbs, d)
		if real, err := filepath.EvalSymlinks(p); err == nil {
			p = real
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func pickFloat(cli, file *float64) *float64 {
	if cli != nil {
		v := *cli
		return &v
	}
	if file != nil {
		v := *file
		return &v
	}
	return nil
}

func pickBool(cli, cliSet bool, file *YesNo, def bool) bool {
	if cliSet {
		return cli
	}
	if file != nil {
		return bool(*file)
	}
	return def
}

func clampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// ReadFileConfig 读取并解析 YAML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func ReadFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	for _, v := range []*float64{fc.MinLength, fc.MaxLength} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return FileConfig{}, true, fmt.Errorf("时长必须是有限数值")
		}
	}
	return fc, true, nil
}
