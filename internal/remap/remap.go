// Package remap 把源目录树中的路径映射到客户端挂载点下。
//
// 纯字符串操作：不访问文件系统。
package remap

import (
	"path/filepath"
	"strings"

	"github.com/John-Robertt/cascadepl/internal/domain"
)

// Remap 用 mountRoot 替换 path 的 sourceRoot 前缀，保留其余相对路径段。
//
// 输出使用挂载点的分隔符约定（见 Separator）；path 不在 sourceRoot 之下时返回 *domain.RemapError。
// 前缀判断按路径段进行：/media/ab 不在 /media/a 之下。
func Remap(path, sourceRoot, mountRoot string) (string, error) {
	return RemapSep(path, sourceRoot, mountRoot, Separator(mountRoot))
}

// RemapSep 与 Remap 相同，但分隔符由调用方指定。
//
// 子目录 job 的 mountRoot 由 variant 挂载点拼出，可能带有目录名里的反斜杠；
// 这时分隔符必须沿用 variant 挂载点的约定，不能从拼出来的 mountRoot 重新推断。
func RemapSep(path, sourceRoot, mountRoot, sep string) (string, error) {
	rel, ok := relUnder(filepath.Clean(path), filepath.Clean(sourceRoot))
	if !ok {
		return "", &domain.RemapError{Path: path, Root: sourceRoot}
	}

	cut := "/"
	if sep == `\` {
		cut = `/\`
	}
	base := strings.TrimRight(mountRoot, cut)
	if rel == "" {
		if base == "" {
			return sep, nil
		}
		return base, nil
	}

	segs := strings.Split(rel, string(filepath.Separator))
	return base + sep + strings.Join(segs, sep), nil
}

// Separator 返回挂载点使用的路径分隔符：
// 盘符（C:）或包含反斜杠的挂载点使用 `\`，其余使用 `/`。
func Separator(mountRoot string) string {
	if strings.Contains(mountRoot, `\`) || hasDriveLetter(mountRoot) {
		return `\`
	}
	return "/"
}

func hasDriveLetter(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// relUnder 返回 path 相对 root 的部分（以本机分隔符连接）；path == root 时返回 ""。
func relUnder(path, root string) (string, bool) {
	if path == root {
		return "", true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return strings.TrimPrefix(path, prefix), true
}
