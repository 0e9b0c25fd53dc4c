package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/cascadepl/internal/config"
	"github.com/John-Robertt/cascadepl/internal/logx"
)

// flagArg 是一个已拆分的命令行参数：-name、--name、-name=value 均可。
type flagArg struct {
	name   string
	value  string
	hasVal bool
}

func splitFlag(a string) (flagArg, bool) {
	if !strings.HasPrefix(a, "-") || a == "-" || a == "--" {
		return flagArg{}, false
	}
	s := strings.TrimPrefix(strings.TrimPrefix(a, "-"), "-")
	f := flagArg{name: s}
	if i := strings.IndexByte(s, '='); i >= 0 {
		f.name, f.value, f.hasVal = s[:i], s[i+1:], true
	}
	// -min_length 与 --min-length 视为同一个参数。
	f.name = strings.ReplaceAll(f.name, "_", "-")
	return f, true
}

// argReader 顺序读取参数，处理“值在下一个参数里”的情况。
type argReader struct {
	args []string
	i    int
}

func (r *argReader) value(f flagArg) (string, error) {
	if f.hasVal {
		return f.value, nil
	}
	if r.i+1 >= len(r.args) {
		return "", fmt.Errorf("-%s 需要一个值", f.name)
	}
	r.i++
	return r.args[r.i], nil
}

// boolValue 只接受 -x 或 -x=value 两种形式，避免吞掉后面的位置参数。
func boolValue(f flagArg) (bool, error) {
	if !f.hasVal {
		return true, nil
	}
	v, err := config.ParseYesNo(f.value)
	if err != nil {
		return false, fmt.Errorf("-%s：%w", f.name, err)
	}
	return v, nil
}

func floatValue(f flagArg, s string) (*float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, fmt.Errorf("-%s 需要数字，实际是 %q", f.name, s)
	}
	return &v, nil
}

// runArgs 是 run/serve 共用的参数。
type runArgs struct {
	CLI       config.CLIArgs
	LogFormat logx.Format
	Addr      string
}

func parseRunArgs(args []string, allowAddr bool) (runArgs, error) {
	ra := runArgs{LogFormat: logx.FormatAuto, Addr: defaultAddr}
	r := &argReader{args: args}

	for ; r.i < len(args); r.i++ {
		a := args[r.i]
		f, ok := splitFlag(a)
		if !ok {
			// 位置参数视为媒体目录。
			ra.CLI.Dirs = append(ra.CLI.Dirs, a)
			continue
		}

		var err error
		switch f.name {
		case "config", "c":
			ra.CLI.ConfigPath, err = r.value(f)
		case "dir", "d":
			var v string
			v, err = r.value(f)
			ra.CLI.Dirs = append(ra.CLI.Dirs, v)
		case "output", "o":
			ra.CLI.OutputDir, err = r.value(f)
		case "variant":
			var v string
			v, err = r.value(f)
			ra.CLI.Variants = append(ra.CLI.Variants, v)
		case "min-length":
			var v string
			if v, err = r.value(f); err == nil {
				ra.CLI.MinLength, err = floatValue(f, v)
			}
		case "max-length":
			var v string
			if v, err = r.value(f); err == nil {
				ra.CLI.MaxLength, err = floatValue(f, v)
			}
		case "portrait":
			ra.CLI.Portrait, err = boolValue(f)
			ra.CLI.PortraitSet = true
		case "horz":
			ra.CLI.Horz, err = boolValue(f)
			ra.CLI.HorzSet = true
		case "shuffle":
			ra.CLI.Shuffle, err = boolValue(f)
			ra.CLI.ShuffleSet = true
		case "overwrite":
			ra.CLI.Overwrite, err = boolValue(f)
			ra.CLI.OverwriteSet = true
		case "zip":
			ra.CLI.Zip, err = boolValue(f)
			ra.CLI.ZipSet = true
		case "filename":
			ra.CLI.FileName, err = r.value(f)
		case "concurrency", "j":
			var v string
			if v, err = r.value(f); err == nil {
				ra.CLI.Concurrency, err = strconv.Atoi(strings.TrimSpace(v))
				if err != nil || ra.CLI.Concurrency < 0 {
					err = fmt.Errorf("-%s 需要非负整数，实际是 %q", f.name, v)
				}
			}
		case "dry-run", "n":
			ra.CLI.DryRun, err = boolValue(f)
		case "log-level":
			ra.CLI.LogLevel, err = r.value(f)
		case "log-format":
			var v string
			if v, err = r.value(f); err == nil {
				ra.LogFormat, err = parseLogFormat(v)
			}
		case "addr":
			if !allowAddr {
				return runArgs{}, fmt.Errorf("未知参数 %q", a)
			}
			ra.Addr, err = r.value(f)
		default:
			return runArgs{}, fmt.Errorf("未知参数 %q", a)
		}
		if err != nil {
			return runArgs{}, err
		}
	}
	return ra, nil
}

// playlistArgs 是单目录 playlist 命令的参数（不读配置文件）。
type playlistArgs struct {
	Dir       string
	Mount     string
	OutputDir string
	Variant   string

	MinLength *float64
	MaxLength *float64
	Portrait  bool
	Horz      bool
	Shuffle   bool
	Overwrite bool

	Zip           bool
	ArchiveFormat string
	FileName      string

	FFprobePath  string
	SevenZipPath string
	DryRun       bool
	LogLevel     string
	LogFormat    logx.Format
}

func parsePlaylistArgs(args []string) (playlistArgs, error) {
	pa := playlistArgs{LogFormat: logx.FormatAuto}
	r := &argReader{args: args}

	for ; r.i < len(args); r.i++ {
		a := args[r.i]
		f, ok := splitFlag(a)
		if !ok {
			return playlistArgs{}, fmt.Errorf("多余的参数 %q", a)
		}

		var err error
		switch f.name {
		case "dir", "d":
			pa.Dir, err = r.value(f)
		case "mount", "m":
			pa.Mount, err = r.value(f)
		case "output", "o":
			pa.OutputDir, err = r.value(f)
		case "variant":
			pa.Variant, err = r.value(f)
		case "min-length":
			var v string
			if v, err = r.value(f); err == nil {
				pa.MinLength, err = floatValue(f, v)
			}
		case "max-length":
			var v string
			if v, err = r.value(f); err == nil {
				pa.MaxLength, err = floatValue(f, v)
			}
		case "portrait":
			pa.Portrait, err = boolValue(f)
		case "horz":
			pa.Horz, err = boolValue(f)
		case "shuffle":
			pa.Shuffle, err = boolValue(f)
		case "overwrite":
			pa.Overwrite, err = boolValue(f)
		case "zip":
			pa.Zip, err = boolValue(f)
		case "archive-format":
			pa.ArchiveFormat, err = r.value(f)
		case "filename":
			pa.FileName, err = r.value(f)
		case "ffprobe":
			pa.FFprobePath, err = r.value(f)
		case "7z":
			pa.SevenZipPath, err = r.value(f)
		case "dry-run", "n":
			pa.DryRun, err = boolValue(f)
		case "log-level":
			pa.LogLevel, err = r.value(f)
		case "log-format":
			var v string
			if v, err = r.value(f); err == nil {
				pa.LogFormat, err = parseLogFormat(v)
			}
		default:
			return playlistArgs{}, fmt.Errorf("未知参数 %q", a)
		}
		if err != nil {
			return playlistArgs{}, err
		}
	}

	switch {
	case strings.TrimSpace(pa.Dir) == "":
		return playlistArgs{}, fmt.Errorf("-dir 不能为空")
	case strings.TrimSpace(pa.Mount) == "":
		return playlistArgs{}, fmt.Errorf("-mount 不能为空")
	case pa.Portrait && pa.Horz:
		return playlistArgs{}, fmt.Errorf("-portrait 与 -horz 不能同时开启")
	}
	return pa, nil
}

// checkArgs 是 check 命令的参数。
type checkArgs struct {
	ConfigPath   string
	FFprobePath  string
	SevenZipPath string
	Zip          bool
	ZipSet       bool
}

func parseCheckArgs(args []string) (checkArgs, error) {
	var ca checkArgs
	r := &argReader{args: args}
	for ; r.i < len(args); r.i++ {
		a := args[r.i]
		f, ok := splitFlag(a)
		if !ok {
			return checkArgs{}, fmt.Errorf("多余的参数 %q", a)
		}
		var err error
		switch f.name {
		case "config", "c":
			ca.ConfigPath, err = r.value(f)
		case "ffprobe":
			ca.FFprobePath, err = r.value(f)
		case "7z":
			ca.SevenZipPath, err = r.value(f)
		case "zip":
			ca.Zip, err = boolValue(f)
			ca.ZipSet = true
		default:
			return checkArgs{}, fmt.Errorf("未知参数 %q", a)
		}
		if err != nil {
			return checkArgs{}, err
		}
	}
	return ca, nil
}

func parseLogFormat(s string) (logx.Format, error) {
	switch f := logx.Format(strings.ToLower(strings.TrimSpace(s))); f {
	case logx.FormatAuto, logx.FormatJSON, logx.FormatConsole:
		return f, nil
	default:
		return "", fmt.Errorf("-log-format 只能是 auto、json 或 console，实际是 %q", s)
	}
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func hasHelp(args []string) bool {
	for _, a := range args {
		if a == "-h" || a == "--help" {
			return true
		}
	}
	return false
}
