package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/John-Robertt/cascadepl/internal/infra/fsx"
)

// Zip 用 deflate 生成 zip 归档，供没有 7z 的主机使用。
type Zip struct{}

func (Zip) Write(ctx context.Context, sourceDir, destPath string, opts Options) error {
	members, err := Members(sourceDir, destPath)
	if err != nil {
		return err
	}

	destAbs, err := filepath.Abs(destPath)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(destAbs), "."+filepath.Base(destAbs)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	ok := false
	defer func() {
		if !ok {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	level := clampLevel(opts.Level)
	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	for _, name := range members {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFile(zw, filepath.Join(sourceDir, name), name); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := fsx.Rename(tmp, destAbs); err != nil {
		return err
	}
	ok = true
	return nil
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
