package config

import (
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/cascadepl/internal/infra/fsx"
)

// SampleFileConfig 是 sample-config 命令输出的示例配置。
func SampleFileConfig() FileConfig {
	yes, no := YesNo(true), YesNo(false)
	minLen, maxLen := 30.0, 300.0
	level := DefaultArchiveLevel
	return FileConfig{
		Dirs:            []string{"/path/to/dir1", "/path/to/dir2"},
		OutputDir:       "/output",
		OSTypes:         []string{"linux", "macos", "win"},
		OSMounts:        []string{"/linux/mount/point", "/macos/mount/point", `W:\win\mount\point`},
		MinLength:       &minLen,
		MaxLength:       &maxLen,
		AutoGenPlaylist: &yes,
		ShufflePlaylist: &yes,
		PortraitOnly:    &no,
		HorzOnly:        &no,
		Overwrite:       &no,
		ZipOutput:       &yes,
		ArchiveFormat:   "7z",
		ArchiveLevel:    &level,
		ProbeTimeout:    DefaultProbeTimeout.String(),
		ExcludeDirs:     []string{},
		ProbeCache:      &yes,
		LogLevel:        "info",
	}
}

// SampleYAML 渲染示例配置。
func SampleYAML() ([]byte, error) {
	return yaml.Marshal(SampleFileConfig())
}

// WriteSample 原子写出示例配置；文件已存在时返回的错误满足 errors.Is(err, os.ErrExist)。
func WriteSample(path string) error {
	b, err := SampleYAML()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := fsx.EnsureDir(filepath.Dir(abs)); err != nil {
		return err
	}
	return fsx.WriteFileAtomicNoOverwrite(filepath.Dir(abs), filepath.Base(abs), b)
}
