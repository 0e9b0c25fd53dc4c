package playlist

import (
	"strings"

	"github.com/John-Robertt/cascadepl/internal/domain"
)

// FiltersFlag 把过滤策略压缩为文件名片段，例如 shuffle-horz；无任何过滤时为 nofilter。
func FiltersFlag(cfg domain.FilterConfig) string {
	parts := make([]string, 0, 3)
	if cfg.Shuffle {
		parts = append(parts, "shuffle")
	}
	switch cfg.Orientation {
	case domain.OrientationPortrait:
		parts = append(parts, "portrait")
	case domain.OrientationHorizontal:
		parts = append(parts, "horz")
	}
	if len(parts) == 0 {
		return "nofilter"
	}
	return strings.Join(parts, "-")
}

// BaseName 返回自动命名的 playlist 基础名（不含扩展名）：
// <子目录名>-<variant>-<filters>-<runID>。
func BaseName(subdir, variant string, cfg domain.FilterConfig, runID string) string {
	parts := []string{SanitizeName(subdir)}
	if variant != "" {
		parts = append(parts, SanitizeName(variant))
	}
	parts = append(parts, FiltersFlag(cfg))
	if runID != "" {
		parts = append(parts, runID)
	}
	return strings.Join(parts, "-")
}

// FixedName 规范化用户指定的文件名：去掉目录部分，缺扩展名时补 .m3u8。
func FixedName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return ""
	}
	if !strings.HasSuffix(strings.ToLower(name), Ext) {
		name += Ext
	}
	return name
}

// TrimExt 去掉 playlist 扩展名，用于派生同名归档。
func TrimExt(name string) string {
	if strings.HasSuffix(strings.ToLower(name), Ext) {
		return name[:len(name)-len(Ext)]
	}
	return name
}

// SanitizeName 把不适合出现在文件名里的字符替换为 '_'。
func SanitizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, s)
}
