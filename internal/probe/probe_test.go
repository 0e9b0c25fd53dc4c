package probe

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/cascadepl/internal/domain"
)

// 封面图 + 竖屏 H.264 + 音频。
const samplePortrait = `{
  "programs": [],
  "streams": [
    { "codec_type": "video", "width": 600, "height": 900, "disposition": { "attached_pic": 1 } },
    { "codec_type": "video", "width": 1080, "height": 1920, "disposition": { "attached_pic": 0 } },
    { "codec_type": "audio", "disposition": { "attached_pic": 0 } }
  ],
  "format": { "duration": "45.021000" }
}`

const sampleAudioOnly = `{
  "streams": [ { "codec_type": "audio", "disposition": { "attached_pic": 0 } } ],
  "format": { "duration": "180.000000" }
}`

const sampleNoDuration = `{
  "streams": [ { "codec_type": "video", "width": 1920, "height": 1080 } ],
  "format": {}
}`

func TestParseJSON_PortraitSkipsAttachedPic(t *testing.T) {
	res, err := ParseJSON([]byte(samplePortrait), Request{Dimensions: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !res.IsVideo {
		t.Fatalf("期望 IsVideo=true")
	}
	if res.DurationSeconds == nil || *res.DurationSeconds != 45.021 {
		t.Fatalf("时长不正确：%v", res.DurationSeconds)
	}
	if res.Width == nil || res.Height == nil || *res.Width != 1080 || *res.Height != 1920 {
		t.Fatalf("应取第一个非封面视频流的宽高：%v x %v", res.Width, res.Height)
	}
}

func TestParseJSON_DimensionsOnlyWhenRequested(t *testing.T) {
	res, err := ParseJSON([]byte(samplePortrait), Request{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if res.Width != nil || res.Height != nil {
		t.Fatalf("未请求宽高时不应返回：%v x %v", res.Width, res.Height)
	}
}

func TestParseJSON_AudioOnlyIsNotVideo(t *testing.T) {
	res, err := ParseJSON([]byte(sampleAudioOnly), Request{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if res.IsVideo {
		t.Fatalf("纯音频不应视为视频")
	}
}

func TestParseJSON_MissingDuration(t *testing.T) {
	res, err := ParseJSON([]byte(sampleNoDuration), Request{Dimensions: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !res.IsVideo || res.DurationSeconds != nil {
		t.Fatalf("期望视频且时长未知：%+v", res)
	}
}

func TestParseJSON_Invalid(t *testing.T) {
	if _, err := ParseJSON([]byte("not json"), Request{}); err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}

func TestArgs(t *testing.T) {
	a := strings.Join(Args("/x/y.mp4", Request{}), " ")
	if strings.Contains(a, "width") {
		t.Fatalf("未请求宽高时不应查询 width：%s", a)
	}
	b := strings.Join(Args("/x/y.mp4", Request{Dimensions: true}), " ")
	if !strings.Contains(b, "stream=codec_type,width,height") || !strings.HasSuffix(b, "/x/y.mp4") {
		t.Fatalf("参数不符合预期：%s", b)
	}
}

func TestFFProbe_MissingBinaryIsProbeError(t *testing.T) {
	p := FFProbe{Bin: filepath.Join(t.TempDir(), "no-such-ffprobe")}
	_, err := p.Probe(context.Background(), "/x.mp4", Request{})
	var pe *domain.ProbeError
	if !errors.As(err, &pe) {
		t.Fatalf("期望 ProbeError，实际：%T %v", err, err)
	}
}
