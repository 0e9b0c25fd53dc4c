package run

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/cascadepl/internal/archive"
	"github.com/John-Robertt/cascadepl/internal/domain"
	"github.com/John-Robertt/cascadepl/internal/probe"
)

// stubProber 按文件名返回预设结果；未登记的文件返回 45s 1920x1080。
type stubProber struct {
	mu     sync.Mutex
	byName map[string]domain.ProbeResult
	calls  int32
	hook   func(path string)
}

func (p *stubProber) Probe(ctx context.Context, path string, req probe.Request) (domain.ProbeResult, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.hook != nil {
		p.hook(path)
	}
	p.mu.Lock()
	r, ok := p.byName[filepath.Base(path)]
	p.mu.Unlock()
	if ok {
		return r, nil
	}
	return domain.ProbeResult{IsVideo: true, DurationSeconds: domain.Seconds(45), Width: domain.Pixels(1920), Height: domain.Pixels(1080)}, nil
}

func deps(p probe.Prober) Deps {
	return Deps{Prober: p, Log: zerolog.Nop()}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取 %s 失败：%v", path, err)
	}
	return string(b)
}

var linux = []domain.Variant{{Name: "linux", Mount: "/mnt/media"}}

func TestRun_EndToEnd_DurationAndOrientation(t *testing.T) {
	media := t.TempDir()
	touch(t, filepath.Join(media, "A", "clip1.mp4"))
	touch(t, filepath.Join(media, "A", "clip2.mp4"))
	out := t.TempDir()

	p := &stubProber{byName: map[string]domain.ProbeResult{
		"clip1.mp4": {IsVideo: true, DurationSeconds: domain.Seconds(45), Width: domain.Pixels(1920), Height: domain.Pixels(1080)},
		"clip2.mp4": {IsVideo: true, DurationSeconds: domain.Seconds(10), Width: domain.Pixels(1080), Height: domain.Pixels(1920)},
	}}
	cfg := domain.FilterConfig{MinDurationSeconds: domain.Seconds(30), Orientation: domain.OrientationHorizontal}

	results := Run(context.Background(), media, out, linux, cfg, 2, deps(p), Options{RunID: "r1"})
	if len(results) != 1 {
		t.Fatalf("期望 1 个 job，实际 %d：%+v", len(results), results)
	}
	res := results[0]
	if res.Status != domain.StatusSuccess || res.EntryCount != 1 {
		t.Fatalf("结果不符合预期：%+v", res)
	}
	want := filepath.Join(out, "linux", "A", "A-linux-horz-r1.m3u8")
	if res.PlaylistPath != want {
		t.Fatalf("playlist 路径不符合预期：%q", res.PlaylistPath)
	}
	if got := readFile(t, want); got != "/mnt/media/A/clip1.mp4\n" {
		t.Fatalf("playlist 内容不符合预期：%q", got)
	}
	if res.Stats.Files != 2 || res.Stats.Excluded != 1 {
		t.Fatalf("统计不符合预期：%+v", res.Stats)
	}
}

func TestRun_NestedSubdirsAndVariants(t *testing.T) {
	media := t.TempDir()
	touch(t, filepath.Join(media, "A", "a.mp4"))
	touch(t, filepath.Join(media, "A", "B", "b.mp4"))
	out := t.TempDir()

	variants := []domain.Variant{{Name: "linux", Mount: "/mnt/media"}, {Name: "win", Mount: `M:\media`}}
	results := Run(context.Background(), media, out, variants, domain.FilterConfig{}, 3, deps(&stubProber{}), Options{RunID: "r"})
	if len(results) != 4 {
		t.Fatalf("期望 2 个子目录 × 2 个 variant，实际 %d", len(results))
	}

	// A 的 playlist 递归包含 B 下的文件。
	a := readFile(t, filepath.Join(out, "linux", "A", "A-linux-nofilter-r.m3u8"))
	if a != "/mnt/media/A/B/b.mp4\n/mnt/media/A/a.mp4\n" {
		t.Fatalf("A(linux) 内容不符合预期：%q", a)
	}
	aw := readFile(t, filepath.Join(out, "win", "A", "A-win-nofilter-r.m3u8"))
	if aw != "M:\\media\\A\\B\\b.mp4\nM:\\media\\A\\a.mp4\n" {
		t.Fatalf("A(win) 内容不符合预期：%q", aw)
	}
	b := readFile(t, filepath.Join(out, "win", "A", "B", "B-win-nofilter-r.m3u8"))
	if b != "M:\\media\\A\\B\\b.mp4\n" {
		t.Fatalf("B(win) 内容不符合预期：%q", b)
	}
}

func TestRun_PoolSizeOneVsN_SameOutcome(t *testing.T) {
	media := t.TempDir()
	for _, d := range []string{"A", "B", "C", "D", "E"} {
		for _, f := range []string{"1.mp4", "2.mp4", "3.mp4", "4.mp4"} {
			touch(t, filepath.Join(media, d, f))
		}
	}
	cfg := domain.FilterConfig{Shuffle: true}
	opts := Options{RunID: "same", ShuffleSeed: 42}

	out1, outN := t.TempDir(), t.TempDir()
	r1 := Run(context.Background(), media, out1, linux, cfg, 1, deps(&stubProber{}), opts)
	rN := Run(context.Background(), media, outN, linux, cfg, 5, deps(&stubProber{}), opts)

	if len(r1) != len(rN) || len(r1) != 5 {
		t.Fatalf("job 数不一致：%d vs %d", len(r1), len(rN))
	}
	for i := range r1 {
		if r1[i].Status != rN[i].Status || r1[i].EntryCount != rN[i].EntryCount {
			t.Fatalf("第 %d 个 job 结果不一致：%+v vs %+v", i, r1[i], rN[i])
		}
		rel1, _ := filepath.Rel(out1, r1[i].PlaylistPath)
		relN, _ := filepath.Rel(outN, rN[i].PlaylistPath)
		if rel1 != relN {
			t.Fatalf("输出路径不一致：%q vs %q", rel1, relN)
		}
		if readFile(t, r1[i].PlaylistPath) != readFile(t, rN[i].PlaylistPath) {
			t.Fatalf("%s 内容不一致", rel1)
		}
	}
}

func TestRun_NoOverwriteCollisionLeavesFileUnchanged(t *testing.T) {
	media := t.TempDir()
	touch(t, filepath.Join(media, "A", "a.mp4"))
	out := t.TempDir()
	opts := Options{FileName: "fixed"}

	first := Run(context.Background(), media, out, linux, domain.FilterConfig{}, 1, deps(&stubProber{}), opts)
	if first[0].Status != domain.StatusSuccess {
		t.Fatalf("第一次运行应成功：%+v", first[0])
	}
	path := first[0].PlaylistPath
	if err := os.WriteFile(path, []byte("sentinel\n"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}

	second := Run(context.Background(), media, out, linux, domain.FilterConfig{}, 1, deps(&stubProber{}), opts)
	if second[0].Status != domain.StatusFailed || second[0].ErrorCode != domain.ErrCodeAlreadyExists {
		t.Fatalf("期望 already_exists，实际：%+v", second[0])
	}
	if got := readFile(t, path); got != "sentinel\n" {
		t.Fatalf("已存在的 playlist 被修改：%q", got)
	}
}

func TestRun_OverwriteIdempotent(t *testing.T) {
	media := t.TempDir()
	touch(t, filepath.Join(media, "A", "b.mp4"))
	touch(t, filepath.Join(media, "A", "a.mp4"))
	out := t.TempDir()
	cfg := domain.FilterConfig{Overwrite: true}
	opts := Options{FileName: "fixed.m3u8"}

	first := Run(context.Background(), media, out, linux, cfg, 1, deps(&stubProber{}), opts)
	a := readFile(t, first[0].PlaylistPath)
	second := Run(context.Background(), media, out, linux, cfg, 1, deps(&stubProber{}), opts)
	if second[0].Status != domain.StatusSuccess {
		t.Fatalf("overwrite 时重复运行应成功：%+v", second[0])
	}
	if b := readFile(t, second[0].PlaylistPath); a != b {
		t.Fatalf("重复运行结果不一致：%q vs %q", a, b)
	}
}

func TestRun_FailureIsolatedPerJob(t *testing.T) {
	media := t.TempDir()
	touch(t, filepath.Join(media, "A", "a.mp4"))
	touch(t, filepath.Join(media, "B", "b.mp4"))
	touch(t, filepath.Join(media, "C", "c.mp4"))
	out := t.TempDir()
	// B 的输出目录位置已被同名文件占用。
	touch(t, filepath.Join(out, "linux", "B"))

	results := Run(context.Background(), media, out, linux, domain.FilterConfig{}, 3, deps(&stubProber{}), Options{RunID: "r"})
	got := map[string]domain.JobResult{}
	for _, r := range results {
		got[r.Target.RelDir] = r
	}
	if got["B"].Status != domain.StatusFailed || got["B"].ErrorCode != domain.ErrCodeTargetConflict {
		t.Fatalf("B 应失败为 target_conflict：%+v", got["B"])
	}
	if got["A"].Status != domain.StatusSuccess || got["C"].Status != domain.StatusSuccess {
		t.Fatalf("其他 job 不应受影响：%+v", results)
	}
}

func TestRun_MissingMediaRoot(t *testing.T) {
	results := Run(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir(), linux, domain.FilterConfig{}, 1, deps(&stubProber{}), Options{})
	if len(results) != 1 || results[0].Status != domain.StatusFailed || results[0].ErrorCode != domain.ErrCodeScanFailed {
		t.Fatalf("期望单个 scan_failed：%+v", results)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	media := t.TempDir()
	touch(t, filepath.Join(media, "A", "a.mp4"))
	touch(t, filepath.Join(media, "B", "b.mp4"))
	out := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &stubProber{}
	results := Run(ctx, media, out, linux, domain.FilterConfig{}, 2, deps(p), Options{})
	if len(results) != 2 {
		t.Fatalf("期望 2 个结果，实际 %d", len(results))
	}
	for _, r := range results {
		if r.Status != domain.StatusSkipped || r.Reason != domain.ReasonCancelled {
			t.Fatalf("期望 skipped(cancelled)：%+v", r)
		}
	}
	if p.calls != 0 {
		t.Fatalf("取消后不应探测：calls=%d", p.calls)
	}
	if des, _ := os.ReadDir(out); len(des) != 0 {
		t.Fatalf("取消后不应写入任何文件")
	}
}

func TestRun_CancelMidwayKeepsCompletedResults(t *testing.T) {
	media := t.TempDir()
	touch(t, filepath.Join(media, "A", "a.mp4"))
	touch(t, filepath.Join(media, "B", "b1.mp4"))
	touch(t, filepath.Join(media, "B", "b2.mp4"))
	touch(t, filepath.Join(media, "C", "c.mp4"))
	touch(t, filepath.Join(media, "D", "d.mp4"))
	out := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &stubProber{hook: func(path string) {
		if filepath.Base(path) == "b1.mp4" {
			cancel()
		}
	}}

	results := Run(ctx, media, out, linux, domain.FilterConfig{}, 1, deps(p), Options{RunID: "r"})
	if len(results) != 4 {
		t.Fatalf("期望 4 个结果，实际 %d", len(results))
	}
	if results[0].Status != domain.StatusSuccess {
		t.Fatalf("取消前完成的 job 应保留：%+v", results[0])
	}
	if _, err := os.Stat(results[0].PlaylistPath); err != nil {
		t.Fatalf("已完成 job 的 playlist 应存在：%v", err)
	}
	for _, r := range results[1:] {
		if r.Status != domain.StatusSkipped || r.Reason != domain.ReasonCancelled {
			t.Fatalf("取消后的 job 应为 skipped(cancelled)：%+v", r)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "linux", "B")); !os.IsNotExist(err) {
		t.Fatalf("被取消的 job 不应写入输出：%v", err)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	media := t.TempDir()
	touch(t, filepath.Join(media, "A", "a.mp4"))
	out := filepath.Join(t.TempDir(), "out")

	results := Run(context.Background(), media, out, linux, domain.FilterConfig{}, 1, deps(&stubProber{}), Options{DryRun: true})
	if results[0].Status != domain.StatusSuccess || results[0].EntryCount != 1 || results[0].PlaylistPath != "" {
		t.Fatalf("dry-run 结果不符合预期：%+v", results[0])
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("dry-run 不应创建输出目录：%v", err)
	}
}

func TestRun_SkipEmpty(t *testing.T) {
	media := t.TempDir()
	touch(t, filepath.Join(media, "A", "notes.txt"))
	touch(t, filepath.Join(media, "B", "b.mp4"))
	out := t.TempDir()

	results := Run(context.Background(), media, out, linux, domain.FilterConfig{}, 1, deps(&stubProber{}), Options{SkipEmpty: true, RunID: "r"})
	if results[0].Status != domain.StatusSkipped || results[0].Reason != domain.ReasonEmpty {
		t.Fatalf("空目录应被跳过：%+v", results[0])
	}
	if results[1].Status != domain.StatusSuccess {
		t.Fatalf("非空目录应成功：%+v", results[1])
	}

	// 未开启 skip_empty 时写出空 playlist。
	results = Run(context.Background(), media, t.TempDir(), linux, domain.FilterConfig{}, 1, deps(&stubProber{}), Options{RunID: "r"})
	if results[0].Status != domain.StatusSuccess || readFile(t, results[0].PlaylistPath) != "" {
		t.Fatalf("空目录默认应写出空 playlist：%+v", results[0])
	}
}

func TestRun_ArchiveFailureKeepsPlaylist(t *testing.T) {
	media := t.TempDir()
	touch(t, filepath.Join(media, "A", "a.mp4"))
	out := t.TempDir()

	d := deps(&stubProber{})
	d.Archive = &archive.Stage{
		Writer: archive.WriterFunc(func(ctx context.Context, src, dest string, o archive.Options) error {
			return errors.New("7z 不可用")
		}),
		Options: archive.Options{Format: archive.Format7z},
	}

	results := Run(context.Background(), media, out, linux, domain.FilterConfig{}, 1, d, Options{RunID: "r"})
	res := results[0]
	if res.Status != domain.StatusFailed || res.ErrorCode != domain.ErrCodeArchiveFailed {
		t.Fatalf("期望 archive_failed：%+v", res)
	}
	if res.PlaylistPath == "" || readFile(t, res.PlaylistPath) != "/mnt/media/A/a.mp4\n" {
		t.Fatalf("归档失败不应影响已写出的 playlist：%+v", res)
	}
	if res.ArchivePath != "" {
		t.Fatalf("失败时不应填写 archive_path：%q", res.ArchivePath)
	}
}

func TestRun_ArchiveZipSibling(t *testing.T) {
	media := t.TempDir()
	touch(t, filepath.Join(media, "A", "a.mp4"))
	out := t.TempDir()

	d := deps(&stubProber{})
	d.Archive = archive.NewStage(archive.Options{Format: archive.FormatZip, Level: 9}, "")

	res := Run(context.Background(), media, out, linux, domain.FilterConfig{}, 1, d, Options{RunID: "r"})[0]
	if res.Status != domain.StatusSuccess {
		t.Fatalf("不期望失败：%+v", res)
	}
	want := filepath.Join(out, "linux", "A", "A-linux-nofilter-r.zip")
	if res.ArchivePath != want {
		t.Fatalf("归档路径不符合预期：%q", res.ArchivePath)
	}
	if fi, err := os.Stat(want); err != nil || fi.Size() == 0 {
		t.Fatalf("归档未生成：%v", err)
	}
}

func TestRun_OutputInsideMediaTreeNotScanned(t *testing.T) {
	media := t.TempDir()
	touch(t, filepath.Join(media, "A", "a.mp4"))
	out := filepath.Join(media, "playlists")

	first := Run(context.Background(), media, out, linux, domain.FilterConfig{}, 1, deps(&stubProber{}), Options{RunID: "r1"})
	second := Run(context.Background(), media, out, linux, domain.FilterConfig{}, 1, deps(&stubProber{}), Options{RunID: "r2"})
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("输出目录不应成为 job：first=%d second=%d", len(first), len(second))
	}

	var names []string
	des, _ := os.ReadDir(filepath.Join(out, "linux", "A"))
	for _, d := range des {
		names = append(names, d.Name())
	}
	sort.Strings(names)
	if strings.Join(names, ",") != "A-linux-nofilter-r1.m3u8,A-linux-nofilter-r2.m3u8" {
		t.Fatalf("输出不符合预期：%v", names)
	}
}

// symlink 创建符号链接；当前平台或权限不支持时跳过测试。
func symlink(t *testing.T, oldname, newname string) {
	t.Helper()
	if err := os.Symlink(oldname, newname); err != nil {
		t.Skipf("无法创建符号链接：%v", err)
	}
}

func TestRun_SymlinkedMediaRootAndSubdirs(t *testing.T) {
	resolved := t.TempDir()
	ext := t.TempDir()
	touch(t, filepath.Join(resolved, "A", "a.mp4"))
	touch(t, filepath.Join(ext, "b.mp4"))
	symlink(t, ext, filepath.Join(resolved, "Linked"))
	symlink(t, resolved, filepath.Join(resolved, "A", "loop"))
	media := filepath.Join(t.TempDir(), "media")
	symlink(t, resolved, media)
	out := t.TempDir()

	results := Run(context.Background(), media, out, linux, domain.FilterConfig{}, 2, deps(&stubProber{}), Options{RunID: "r"})
	if len(results) != 2 {
		t.Fatalf("期望 A 与 Linked 两个 job，实际 %d：%+v", len(results), results)
	}
	got := map[string]domain.JobResult{}
	for _, r := range results {
		got[r.Target.RelDir] = r
	}
	cases := []struct {
		rel  string
		want string
	}{
		{rel: "A", want: "/mnt/media/A/a.mp4\n"},
		{rel: "Linked", want: "/mnt/media/Linked/b.mp4\n"},
	}
	for _, tc := range cases {
		r, ok := got[tc.rel]
		if !ok || r.Status != domain.StatusSuccess {
			t.Fatalf("%s 应成功：%+v", tc.rel, r)
		}
		if c := readFile(t, r.PlaylistPath); c != tc.want {
			t.Fatalf("%s 内容不符合预期：%q", tc.rel, c)
		}
	}
}

func TestRun_BackslashInDirNameKeepsVariantSeparator(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("反斜杠在 Windows 上是路径分隔符")
	}
	media := t.TempDir()
	touch(t, filepath.Join(media, `foo\bar`, "clip.mp4"))
	out := t.TempDir()

	variants := []domain.Variant{{Name: "linux", Mount: "/mnt/media"}, {Name: "win", Mount: `M:\media`}}
	results := Run(context.Background(), media, out, variants, domain.FilterConfig{}, 2, deps(&stubProber{}), Options{RunID: "r"})
	got := map[string]domain.JobResult{}
	for _, r := range results {
		got[r.Target.Variant] = r
	}
	cases := []struct {
		variant string
		want    string
	}{
		{variant: "linux", want: "/mnt/media/foo\\bar/clip.mp4\n"},
		{variant: "win", want: "M:\\media\\foo\\bar\\clip.mp4\n"},
	}
	for _, tc := range cases {
		r, ok := got[tc.variant]
		if !ok || r.Status != domain.StatusSuccess {
			t.Fatalf("%s 应成功：%+v", tc.variant, results)
		}
		if c := readFile(t, r.PlaylistPath); c != tc.want {
			t.Fatalf("%s 内容不符合预期：%q", tc.variant, c)
		}
	}
}
