// Package archive 把 job 的输出目录打包成一个归档文件（7z 或 zip）。
//
// 归档只在 playlist 写成功之后执行；失败不会删除 playlist，也不重试。
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/cascadepl/internal/domain"
)

type Format string

const (
	Format7z  Format = "7z"
	FormatZip Format = "zip"
)

// Ext 返回归档扩展名（含点）。
func (f Format) Ext() string {
	if f == FormatZip {
		return ".zip"
	}
	return ".7z"
}

// ParseFormat 解析配置里的归档格式；空串视为 7z。
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "7z":
		return Format7z, nil
	case "zip":
		return FormatZip, nil
	default:
		return "", fmt.Errorf("不支持的归档格式：%q（可选 7z/zip）", s)
	}
}

// Options 是归档参数。Level 取 0..9，9 为最大压缩。
type Options struct {
	Format Format
	Level  int
}

// Writer 是归档协作者：把 sourceDir 中的文件写成 destPath。
type Writer interface {
	Write(ctx context.Context, sourceDir, destPath string, opts Options) error
}

// WriterFunc 便于测试注入。
type WriterFunc func(ctx context.Context, sourceDir, destPath string, opts Options) error

func (f WriterFunc) Write(ctx context.Context, sourceDir, destPath string, opts Options) error {
	return f(ctx, sourceDir, destPath, opts)
}

// Stage 是编排层使用的归档阶段。
type Stage struct {
	Writer  Writer
	Options Options
}

// NewStage 按格式选择默认 Writer。sevenZipBin 为空时使用 PATH 中的 7z。
func NewStage(opts Options, sevenZipBin string) *Stage {
	var w Writer = Zip{}
	if opts.Format != FormatZip {
		w = SevenZip{Bin: sevenZipBin}
	}
	return &Stage{Writer: w, Options: opts}
}

// Ext 返回该阶段产物的扩展名。
func (s *Stage) Ext() string { return s.Options.Format.Ext() }

// Archive 执行一次归档；任何失败都包装为 *domain.ArchiveError。
func (s *Stage) Archive(ctx context.Context, sourceDir, destPath string) error {
	if s == nil || s.Writer == nil {
		return &domain.ArchiveError{Dest: destPath, Err: fmt.Errorf("未配置归档器")}
	}
	if err := s.Writer.Write(ctx, sourceDir, destPath, s.Options); err != nil {
		return &domain.ArchiveError{Dest: destPath, Err: err}
	}
	return nil
}

// Members 返回 sourceDir 下需要归档的文件名（仅顶层普通文件，字典序）。
//
// 子目录属于其它 job；'.' 开头的暂存文件、destPath 本身以及已有归档都不参与。
func Members(sourceDir, destPath string) ([]string, error) {
	des, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, err
	}
	destAbs, _ := filepath.Abs(destPath)

	out := make([]string, 0, len(des))
	for _, d := range des {
		name := d.Name()
		if !d.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if abs, err := filepath.Abs(filepath.Join(sourceDir, name)); err == nil && abs == destAbs {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".7z", ".zip":
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("目录 %q 下没有可归档的文件", sourceDir)
	}
	return out, nil
}

func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > 9 {
		return 9
	}
	return level
}
