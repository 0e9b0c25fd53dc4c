// Package logx 构造全局共用的 zerolog.Logger。组件只接收 Logger 值，不读全局变量。
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

type Format string

const (
	FormatAuto    Format = "auto"
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// ParseLevel 解析日志级别；空串为 info。
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	lv, err := zerolog.ParseLevel(s)
	if err != nil || lv == zerolog.NoLevel {
		return zerolog.InfoLevel, fmt.Errorf("无效的日志级别：%q", s)
	}
	return lv, nil
}

// New 返回写到 w 的 Logger。auto 在 w 为终端时使用 console 格式，否则输出 JSON 行。
func New(w io.Writer, level zerolog.Level, format Format) zerolog.Logger {
	if format == FormatConsole || (format != FormatJSON && IsTerminal(w)) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// IsTerminal 判断 w 是否为交互终端（仅对 *os.File 有意义）。
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
