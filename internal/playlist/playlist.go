// Package playlist 负责 playlist 的序列化、命名与落盘。
//
// 格式：纯文本，每行一个映射后的路径，UTF-8，'\n' 结尾，无 M3U 指令行。
package playlist

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/John-Robertt/cascadepl/internal/domain"
	"github.com/John-Robertt/cascadepl/internal/infra/fsx"
)

// Ext 是 playlist 文件扩展名。
const Ext = ".m3u8"

// Encode 按给定顺序序列化条目。
func Encode(entries []domain.PlaylistEntry) []byte {
	var b bytes.Buffer
	for _, e := range entries {
		b.WriteString(e.RemappedPath)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// Write 把条目写到 outputPath。
//
// - overwrite=false 且文件已存在：*domain.AlreadyExistsError，原文件不动
// - 临时文件 + rename：要么完整内容可见，要么（overwrite 时）旧文件仍可见
func Write(entries []domain.PlaylistEntry, outputPath string, overwrite bool) error {
	dir, name := filepath.Split(filepath.Clean(outputPath))
	if dir == "" {
		dir = "."
	}
	data := Encode(entries)

	if overwrite {
		return fsx.WriteFileAtomicReplace(dir, name, data)
	}
	err := fsx.WriteFileAtomicNoOverwrite(dir, name, data)
	if errors.Is(err, os.ErrExist) {
		return &domain.AlreadyExistsError{Path: outputPath}
	}
	return err
}

// Shuffle 原地打乱条目顺序；只在最终落盘前调用一次。
func Shuffle(entries []domain.PlaylistEntry, rng *rand.Rand) {
	rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
}
