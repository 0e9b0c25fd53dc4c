package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/John-Robertt/cascadepl/internal/domain"
	"github.com/John-Robertt/cascadepl/internal/probe"
)

func countingProber(n *int32, delay time.Duration) probe.Prober {
	return probe.ProberFunc(func(ctx context.Context, path string, req probe.Request) (domain.ProbeResult, error) {
		atomic.AddInt32(n, 1)
		time.Sleep(delay)
		res := domain.ProbeResult{IsVideo: true, DurationSeconds: domain.Seconds(42)}
		if req.Dimensions {
			res.Width, res.Height = domain.Pixels(1920), domain.Pixels(1080)
		}
		return res, nil
	})
}

func TestProbeCache_ConcurrentCallsCoalesce(t *testing.T) {
	f := touch(t, filepath.Join(t.TempDir(), "a.mp4"))

	var n int32
	c := New(countingProber(&n, 50*time.Millisecond), "", false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Probe(context.Background(), f, probe.Request{}); err != nil {
				t.Errorf("不期望错误：%v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&n); got != 1 {
		t.Fatalf("期望协作方只被调用 1 次，实际 %d", got)
	}
	hits, misses := c.Stats()
	if misses != 1 || hits != 7 {
		t.Fatalf("hits/misses 不符合预期：%d/%d", hits, misses)
	}
}

func TestProbeCache_DimensionsUpgrade(t *testing.T) {
	f := touch(t, filepath.Join(t.TempDir(), "a.mp4"))

	var n int32
	c := New(countingProber(&n, 0), "", false)

	if _, err := c.Probe(context.Background(), f, probe.Request{}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	res, err := c.Probe(context.Background(), f, probe.Request{Dimensions: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if res.Width == nil {
		t.Fatalf("请求宽高时不能返回没有宽高的缓存结果")
	}
	// 有宽高的结果可以服务不需要宽高的请求。
	if _, err := c.Probe(context.Background(), f, probe.Request{}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got := atomic.LoadInt32(&n); got != 2 {
		t.Fatalf("期望调用 2 次，实际 %d", got)
	}
}

func TestProbeCache_ErrorsNotCached(t *testing.T) {
	f := touch(t, filepath.Join(t.TempDir(), "a.mp4"))

	var n int32
	c := New(probe.ProberFunc(func(ctx context.Context, path string, req probe.Request) (domain.ProbeResult, error) {
		atomic.AddInt32(&n, 1)
		return domain.ProbeResult{}, &domain.ProbeError{Path: path, Reason: "ffprobe", Err: errors.New("boom")}
	}), "", false)

	for i := 0; i < 2; i++ {
		_, err := c.Probe(context.Background(), f, probe.Request{})
		var pe *domain.ProbeError
		if !errors.As(err, &pe) {
			t.Fatalf("期望 ProbeError，实际：%v", err)
		}
	}
	if got := atomic.LoadInt32(&n); got != 2 {
		t.Fatalf("失败结果不应缓存：调用次数 %d", got)
	}
}

func TestProbeCache_ChangedFileInvalidates(t *testing.T) {
	f := touch(t, filepath.Join(t.TempDir(), "a.mp4"))

	var n int32
	c := New(countingProber(&n, 0), "", false)
	_, _ = c.Probe(context.Background(), f, probe.Request{})

	if err := os.WriteFile(f, []byte("changed content"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
	_, _ = c.Probe(context.Background(), f, probe.Request{})

	if got := atomic.LoadInt32(&n); got != 2 {
		t.Fatalf("文件变化后应重新探测：调用次数 %d", got)
	}
}

func TestProbeCache_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := touch(t, filepath.Join(dir, "media", "a.mp4"))
	path := DefaultPath(filepath.Join(dir, "out"))

	var n int32
	c := New(countingProber(&n, 0), path, false)
	_, _ = c.Probe(context.Background(), f, probe.Request{})
	if err := c.Save(); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("期望缓存文件存在：%v", err)
	}

	c2 := New(countingProber(&n, 0), path, true)
	if err := c2.Load(); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	res, err := c2.Probe(context.Background(), f, probe.Request{})
	if err != nil || !res.IsVideo {
		t.Fatalf("期望命中持久化缓存：res=%+v err=%v", res, err)
	}
	if got := atomic.LoadInt32(&n); got != 1 {
		t.Fatalf("持久化缓存未生效：调用次数 %d", got)
	}
}

func TestProbeCache_ReadOnlyRejectSave(t *testing.T) {
	dir := t.TempDir()
	f := touch(t, filepath.Join(dir, "a.mp4"))
	path := DefaultPath(dir)

	var n int32
	c := New(countingProber(&n, 0), path, true)
	_, _ = c.Probe(context.Background(), f, probe.Request{})

	if err := c.Save(); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("期望 ErrReadOnly，实际：%v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("期望文件不存在，但 Stat err=%v", err)
	}
}

func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
	return path
}
