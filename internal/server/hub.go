package server

import (
	"sync"
	"time"

	"github.com/John-Robertt/cascadepl/internal/app/run"
	"github.com/John-Robertt/cascadepl/internal/config"
	"github.com/John-Robertt/cascadepl/internal/domain"
)

// 事件类型。
const (
	EventStart    = "start"
	EventPhase    = "phase"
	EventJob      = "job"
	EventProgress = "progress"
	EventDone     = "done"
)

// subBuffer 是单个订阅者的缓冲；写满说明对端读得太慢，直接断开。
const subBuffer = 256

// defaultProgressInterval 是执行阶段推送 progress 事件的间隔。
const defaultProgressInterval = 2 * time.Second

// Event 是推送给 websocket 订阅者的一条运行事件。
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`

	Phase  string         `json:"phase,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`

	Done  int               `json:"done,omitempty"`
	Total int               `json:"total,omitempty"`
	Job   *domain.JobResult `json:"job,omitempty"`

	Summary *domain.ReportSummary `json:"summary,omitempty"`
}

// hub 记录一次运行的全部事件，并把新事件广播给订阅者。
// 后加入的订阅者先收到历史事件，再接收实时事件。
//
// 执行阶段内 hub 按 interval 定期发布 progress 事件，直到最后一个 job 完成或运行结束。
type hub struct {
	mu     sync.Mutex
	events []Event
	subs   map[chan Event]struct{}
	closed bool

	interval  time.Duration
	startedAt time.Time
	workers   int
	total     int
	done      int
	ok        int
	fail      int
	skip      int
	stopTick  chan struct{}
}

var _ run.Observer = (*hub)(nil)

func newHub(interval time.Duration) *hub {
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	return &hub{subs: map[chan Event]struct{}{}, interval: interval}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(ev)
}

func (h *hub) publishLocked(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if h.closed {
		return
	}
	h.events = append(h.events, ev)
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// subscribe 返回历史事件快照与实时事件通道；运行结束后通道被关闭。
func (h *hub) subscribe() ([]Event, <-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	backlog := append([]Event(nil), h.events...)
	ch := make(chan Event, subBuffer)
	if h.closed {
		close(ch)
		return backlog, ch, func() {}
	}
	h.subs[ch] = struct{}{}
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
	return backlog, ch, cancel
}

// finish 发布 done 事件并关闭所有订阅。
func (h *hub) finish(summary domain.ReportSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopTickerLocked()
	h.publishLocked(Event{Type: EventDone, Summary: &summary})
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) OnStart(eff config.EffectiveConfig) {
	h.mu.Lock()
	h.startedAt = time.Now()
	h.mu.Unlock()

	h.publish(Event{Type: EventStart, Fields: map[string]any{
		"dirs":        eff.Dirs,
		"output_dir":  eff.OutputDir,
		"variants":    len(eff.Variants),
		"concurrency": eff.Concurrency,
		"dry_run":     eff.DryRun,
	}})
}

func (h *hub) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	f := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		f[k] = v
	}
	f["duration_ms"] = dur.Milliseconds()
	h.publish(Event{Type: EventPhase, Phase: name, Fields: f})

	if name != "exec" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers = intField(fields, "workers")
	h.total = intField(fields, "jobs")
	if h.total > 0 && h.stopTick == nil && !h.closed {
		h.startTickerLocked()
	}
}

func (h *hub) OnJobDone(idx, total int, res domain.JobResult, dur time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done, h.total = idx, total
	switch res.Status {
	case domain.StatusSuccess:
		h.ok++
	case domain.StatusSkipped:
		h.skip++
	default:
		h.fail++
	}
	if h.done >= h.total {
		h.stopTickerLocked()
	}
	h.publishLocked(Event{Type: EventJob, Done: idx, Total: total, Job: &res})
}

func (h *hub) OnProgress(done, total, ok, fail, skip, active int, activeJobs []string, elapsed time.Duration) {
	h.publish(progressEvent(done, total, ok, fail, skip, active, activeJobs, elapsed))
}

func progressEvent(done, total, ok, fail, skip, active int, activeJobs []string, elapsed time.Duration) Event {
	f := map[string]any{
		"ok":         ok,
		"fail":       fail,
		"skip":       skip,
		"active":     active,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if len(activeJobs) > 0 {
		f["jobs"] = activeJobs
	}
	return Event{Type: EventProgress, Done: done, Total: total, Fields: f}
}

func (h *hub) startTickerLocked() {
	stop := make(chan struct{})
	h.stopTick = stop
	go func() {
		t := time.NewTicker(h.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				h.tick()
			case <-stop:
				return
			}
		}
	}()
}

func (h *hub) stopTickerLocked() {
	if h.stopTick != nil {
		close(h.stopTick)
		h.stopTick = nil
	}
}

// tick 以当前计数发布一条 progress 事件；active 按剩余 job 与 worker 数估算。
func (h *hub) tick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopTick == nil || h.total == 0 {
		return
	}
	active := h.workers
	if remain := h.total - h.done; remain < active {
		active = remain
	}
	h.publishLocked(progressEvent(h.done, h.total, h.ok, h.fail, h.skip, active, nil, time.Since(h.startedAt)))
}

func intField(fields map[string]any, key string) int {
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
