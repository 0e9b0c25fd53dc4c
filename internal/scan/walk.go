package scan

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// walkFunc 的 path 是以调用方 root 为前缀的逻辑路径；resolved 是解析符号链接后的真实路径。
type walkFunc func(path, resolved string, d fs.DirEntry, err error) error

// walk 与 filepath.WalkDir 一样按字典序遍历，但会跟随指向目录的符号链接（root 本身也可以是链接）。
//
// 链接目标是当前链路上某个目录的祖先（或自身）时视为环，记录后跳过；
// 指向文件的链接按普通文件交给 fn；无法解析的链接记录后跳过。
func walk(root string, log zerolog.Logger, fn walkFunc) error {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fn(root, root, nil, err)
	}
	w := &walker{log: log, fn: fn}
	return w.walkDir(root, resolved, true)
}

type walker struct {
	log zerolog.Logger
	fn  walkFunc
	// 已跟随的链接所在目录（真实路径），由外到内。
	parents []string
}

func (w *walker) walkDir(logical, resolved string, top bool) error {
	return filepath.WalkDir(resolved, func(p string, d fs.DirEntry, err error) error {
		path := rebase(p, resolved, logical)
		switch {
		case p == resolved && !top:
			// 链接目录本身已在 follow 里回调过，只转发读目录失败。
			if err == nil {
				return nil
			}
			return w.fn(path, p, d, err)
		case err != nil || d.Type()&fs.ModeSymlink == 0:
			return w.fn(path, p, d, err)
		}
		return w.follow(path, p)
	})
}

func (w *walker) follow(path, link string) error {
	fi, err := os.Stat(link)
	if err != nil {
		w.log.Warn().Str("path", path).Err(err).Msg("符号链接无法解析，跳过")
		return nil
	}
	if !fi.IsDir() {
		return w.fn(path, link, fs.FileInfoToDirEntry(fi), nil)
	}

	target, err := filepath.EvalSymlinks(link)
	if err != nil {
		w.log.Warn().Str("path", path).Err(err).Msg("符号链接无法解析，跳过")
		return nil
	}
	parent := filepath.Dir(link)
	for _, a := range append(w.parents[:len(w.parents):len(w.parents)], parent) {
		if isUnder(a, target) {
			w.log.Warn().Str("path", path).Str("target", target).Msg("符号链接指向上级目录，跳过")
			return nil
		}
	}

	if err := w.fn(path, target, fs.FileInfoToDirEntry(fi), nil); err != nil {
		if errors.Is(err, filepath.SkipDir) {
			return nil
		}
		return err
	}

	w.parents = append(w.parents, parent)
	err = w.walkDir(path, target, false)
	w.parents = w.parents[:len(w.parents)-1]
	return err
}

// rebase 把 resolved 下的 p 换成 logical 下的同名路径。
func rebase(p, resolved, logical string) string {
	if p == resolved {
		return logical
	}
	return filepath.Join(logical, strings.TrimPrefix(p, resolved))
}
