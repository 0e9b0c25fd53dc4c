package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/John-Robertt/cascadepl/internal/infra/fsx"
)

// SevenZip 调用 7z 可执行文件生成 LZMA2 归档。
type SevenZip struct {
	Bin string
}

func (s SevenZip) bin() string {
	if strings.TrimSpace(s.Bin) == "" {
		return "7z"
	}
	return s.Bin
}

// Args 返回 7z 参数；成员为相对 sourceDir 的文件名。
func (s SevenZip) Args(dest string, level int, members []string) []string {
	args := []string{
		"a", "-t7z", "-m0=lzma2",
		"-mx=" + strconv.Itoa(clampLevel(level)),
		"-bd", "-y",
		dest,
		"--",
	}
	return append(args, members...)
}

func (s SevenZip) Write(ctx context.Context, sourceDir, destPath string, opts Options) error {
	members, err := Members(sourceDir, destPath)
	if err != nil {
		return err
	}

	destAbs, err := filepath.Abs(destPath)
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(destAbs), "."+filepath.Base(destAbs)+"."+uuid.NewString()[:8]+".tmp")

	cmd := exec.CommandContext(ctx, s.bin(), s.Args(tmp, opts.Level, members)...)
	cmd.Dir = sourceDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmp)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("7z 执行失败：%w: %s", err, msg)
		}
		return fmt.Errorf("7z 执行失败：%w", err)
	}
	if err := fsx.Rename(tmp, destAbs); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
