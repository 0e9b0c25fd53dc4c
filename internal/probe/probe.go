// Package probe 定义媒体探测协作方接口，并提供基于 ffprobe 的默认实现。
//
// 每个文件只调用一次 ffprobe（JSON 输出）；编解码解析永远交给外部进程。
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/John-Robertt/cascadepl/internal/domain"
)

// Request 描述需要哪些字段。宽高只在启用方向过滤时请求。
type Request struct {
	Dimensions bool
}

// Prober 是媒体探测协作方。
//
// 返回值约定：
// - 不是媒体流：ProbeResult{IsVideo:false}, nil
// - 工具失败/超时：*domain.ProbeError
//
// 实现必须并发安全。
type Prober interface {
	Probe(ctx context.Context, path string, req Request) (domain.ProbeResult, error)
}

// ProberFunc 让普通函数满足 Prober（主要用于测试）。
type ProberFunc func(ctx context.Context, path string, req Request) (domain.ProbeResult, error)

func (f ProberFunc) Probe(ctx context.Context, path string, req Request) (domain.ProbeResult, error) {
	return f(ctx, path, req)
}

// FFProbe 通过 ffprobe 可执行文件探测。Bin 为空时使用 PATH 中的 ffprobe。
type FFProbe struct {
	Bin string
}

// ffprobe 对非媒体文件的典型报错；据此区分“不是媒体流”与“工具失败”。
var notMediaMarkers = []string{
	"Invalid data found when processing input",
	"could not find codec parameters",
	"moov atom not found",
}

func (f FFProbe) Probe(ctx context.Context, path string, req Request) (domain.ProbeResult, error) {
	bin := f.Bin
	if strings.TrimSpace(bin) == "" {
		bin = "ffprobe"
	}

	cmd := exec.CommandContext(ctx, bin, Args(path, req)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ProbeResult{}, &domain.ProbeError{Path: path, Reason: "timeout", Err: ctxErr}
		}
		msg := strings.TrimSpace(stderr.String())
		var ee *exec.ExitError
		if errors.As(err, &ee) && isNotMedia(msg) {
			return domain.ProbeResult{IsVideo: false}, nil
		}
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, firstLine(msg))
		}
		return domain.ProbeResult{}, &domain.ProbeError{Path: path, Reason: "ffprobe", Err: err}
	}

	res, err := ParseJSON(out, req)
	if err != nil {
		return domain.ProbeResult{}, &domain.ProbeError{Path: path, Reason: "parse", Err: err}
	}
	return res, nil
}

// Args 返回 ffprobe 参数。只请求需要的字段，宽高按需追加。
func Args(path string, req Request) []string {
	streamEntries := "stream=codec_type"
	if req.Dimensions {
		streamEntries = "stream=codec_type,width,height"
	}
	return []string{
		"-v", "error",
		"-print_format", "json",
		"-show_entries", "format=duration:" + streamEntries + ":stream_disposition=attached_pic",
		path,
	}
}

// ParseJSON 把 ffprobe JSON 转为 ProbeResult。
// 导出以便在没有 ffprobe 的环境下测试。
func ParseJSON(data []byte, req Request) (domain.ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.ProbeResult{}, fmt.Errorf("解析 ffprobe JSON 失败：%w", err)
	}

	var primary *ffprobeStream
	for i := range raw.Streams {
		s := &raw.Streams[i]
		// 封面图（attached_pic）不算视频流。
		if s.CodecType == "video" && s.Disposition["attached_pic"] != 1 {
			primary = s
			break
		}
	}
	if primary == nil {
		return domain.ProbeResult{IsVideo: false}, nil
	}

	res := domain.ProbeResult{IsVideo: true}
	if d, ok := parseDuration(raw.Format.Duration); ok {
		res.DurationSeconds = &d
	}
	if req.Dimensions && primary.Width > 0 && primary.Height > 0 {
		w, h := primary.Width, primary.Height
		res.Width = &w
		res.Height = &h
	}
	return res, nil
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecType   string         `json:"codec_type"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Disposition map[string]int `json:"disposition"`
}

func parseDuration(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

func isNotMedia(stderr string) bool {
	for _, m := range notMediaMarkers {
		if strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
