package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/John-Robertt/cascadepl/internal/domain"
	"github.com/John-Robertt/cascadepl/internal/infra/fsx"
	"github.com/John-Robertt/cascadepl/internal/probe"
)

// ProbeCache 是探测结果的共享缓存，包在真实 Prober 外层。
//
// 约束：
// - 并发安全；同一文件的并发探测会合并为一次协作方调用
// - key = 路径 + 大小 + mtime：文件变化后自动失效
// - 只缓存成功结果与“不是媒体流”；ProbeError（含超时）不缓存，下次运行会重试
// - 持久化是可选的：<output_dir>/cache/probe.json；dry-run 只读（ReadOnly=true）
type ProbeCache struct {
	Inner    probe.Prober
	Path     string
	ReadOnly bool

	mu       sync.Mutex
	entries  map[string]entry
	inflight map[string]*call
	dirty    bool

	hits, misses int
}

var ErrReadOnly = errors.New("cache: read-only")

var _ probe.Prober = (*ProbeCache)(nil)

type entry struct {
	Result     domain.ProbeResult `json:"result"`
	Dimensions bool               `json:"dimensions"`
}

type call struct {
	done chan struct{}
	res  domain.ProbeResult
	err  error
}

// New 创建缓存；path 为空表示只做进程内缓存。
func New(inner probe.Prober, path string, readOnly bool) *ProbeCache {
	return &ProbeCache{
		Inner:    inner,
		Path:     filepath.Clean(strings.TrimSpace(path)),
		ReadOnly: readOnly,
		entries:  map[string]entry{},
		inflight: map[string]*call{},
	}
}

// DefaultPath 返回 <outputDir>/cache/probe.json。
func DefaultPath(outputDir string) string {
	return filepath.Join(outputDir, "cache", "probe.json")
}

// Load 读取持久化缓存；文件不存在不算错误，坏文件直接忽略（视为空缓存）。
func (c *ProbeCache) Load() error {
	if c.Path == "" || c.Path == "." {
		return nil
	}
	b, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var m map[string]entry
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	c.mu.Lock()
	for k, v := range m {
		c.entries[k] = v
	}
	c.mu.Unlock()
	return nil
}

// Save 原子写回持久化缓存（仅在有新条目时）。
func (c *ProbeCache) Save() error {
	if c.Path == "" || c.Path == "." {
		return nil
	}
	if c.ReadOnly {
		return ErrReadOnly
	}

	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	b, err := json.Marshal(c.entries)
	c.dirty = false
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(c.Path), filepath.Base(c.Path), b)
}

// Stats 返回命中/未命中次数。
func (c *ProbeCache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *ProbeCache) Probe(ctx context.Context, path string, req probe.Request) (domain.ProbeResult, error) {
	key, ok := fileKey(path)
	if !ok {
		// stat 失败：不缓存，交给协作方给出具体错误。
		return c.Inner.Probe(ctx, path, req)
	}

	for {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && (e.Dimensions || !req.Dimensions || !e.Result.IsVideo) {
			c.hits++
			c.mu.Unlock()
			return e.Result, nil
		}
		if cl, ok := c.inflight[key]; ok {
			c.mu.Unlock()
			select {
			case <-cl.done:
			case <-ctx.Done():
				return domain.ProbeResult{}, &domain.ProbeError{Path: path, Reason: "timeout", Err: ctx.Err()}
			}
			if cl.err != nil {
				return domain.ProbeResult{}, cl.err
			}
			// 重新检查：先完成的调用可能没有请求宽高。
			continue
		}
		cl := &call{done: make(chan struct{})}
		c.inflight[key] = cl
		c.misses++
		c.mu.Unlock()

		cl.res, cl.err = c.Inner.Probe(ctx, path, req)

		c.mu.Lock()
		delete(c.inflight, key)
		if cl.err == nil {
			c.entries[key] = entry{Result: cl.res, Dimensions: req.Dimensions}
			c.dirty = true
		}
		c.mu.Unlock()
		close(cl.done)
		return cl.res, cl.err
	}
}

func fileKey(path string) (string, bool) {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return "", false
	}
	var b strings.Builder
	b.WriteString(filepath.Clean(path))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(fi.Size(), 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(fi.ModTime().UnixNano(), 10))
	return b.String(), true
}
