// Package server 以 HTTP 接口暴露级联运行：提交运行、查询结果、通过 websocket 订阅进度事件。
//
// 同一时刻只允许一个运行：多个运行共享 output_dir，并发写入会互相制造 already_exists。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/cascadepl/internal/app/run"
	"github.com/John-Robertt/cascadepl/internal/config"
	"github.com/John-Robertt/cascadepl/internal/domain"
)

// 运行状态。
const (
	StateRunning = "running"
	StateDone    = "done"
)

// RunRequest 是 POST /api/runs 的请求体；字段为空时沿用服务启动时的配置。
type RunRequest struct {
	Dirs      []string `json:"dirs,omitempty"`
	DryRun    *bool    `json:"dry_run,omitempty"`
	Overwrite *bool    `json:"overwrite,omitempty"`
}

// RunStatus 是对外暴露的运行状态。
type RunStatus struct {
	ID         string                `json:"id"`
	State      string                `json:"state"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	ReportPath string                `json:"report_path,omitempty"`
	Summary    *domain.ReportSummary `json:"summary,omitempty"`
	Report     *domain.RunReport     `json:"report,omitempty"`
}

type runState struct {
	status RunStatus
	hub    *hub
}

// Server 持有基础配置与运行记录。
type Server struct {
	base   config.EffectiveConfig
	depsFn func(config.EffectiveConfig) run.Deps
	log    zerolog.Logger
	ctx    context.Context

	mu     sync.Mutex
	runs   map[string]*runState
	order  []string
	active string

	wg       sync.WaitGroup
	upgrader websocket.Upgrader

	// progressInterval 是执行阶段 progress 事件的推送间隔。
	progressInterval time.Duration
}

// New 创建 Server。ctx 取消时正在执行的运行会按取消语义收尾。
func New(ctx context.Context, base config.EffectiveConfig, depsFn func(config.EffectiveConfig) run.Deps, log zerolog.Logger) *Server {
	return &Server{
		base:   base,
		depsFn: depsFn,
		log:    log,
		ctx:    ctx,
		runs:   map[string]*runState{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		progressInterval: defaultProgressInterval,
	}
}

// Handler 返回路由。
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/runs", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}

// Wait 等待所有后台运行结束。
func (s *Server) Wait() {
	s.wg.Wait()
}

// Start 提交一个运行；已有运行未结束时返回 errBusy。
func (s *Server) Start(req RunRequest) (string, error) {
	eff, err := s.effective(req)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.active != "" {
		s.mu.Unlock()
		return "", errBusy
	}
	id := uuid.NewString()
	st := &runState{
		status: RunStatus{ID: id, State: StateRunning, StartedAt: time.Now().UTC()},
		hub:    newHub(s.progressInterval),
	}
	s.runs[id] = st
	s.order = append(s.order, id)
	s.active = id
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(id, st, eff)
	}()
	return id, nil
}

func (s *Server) execute(id string, st *runState, eff config.EffectiveConfig) {
	log := s.log.With().Str("server_run", id).Logger()
	deps := s.depsFn(eff)
	deps.Log = log

	rr := run.ExecuteWithObserver(s.ctx, eff, deps, st.hub)

	var reportPath string
	if !eff.DryRun {
		p, err := run.WriteReportFile(eff.OutputDir, rr)
		if err != nil {
			log.Error().Err(err).Msg("写入报告失败")
		} else {
			reportPath = p
		}
	}

	s.mu.Lock()
	finished := rr.FinishedAt
	st.status.State = StateDone
	st.status.FinishedAt = &finished
	st.status.ReportPath = reportPath
	st.status.Summary = &rr.Summary
	st.status.Report = &rr
	if s.active == id {
		s.active = ""
	}
	s.mu.Unlock()

	st.hub.finish(rr.Summary)
	log.Info().Str("run_id", rr.RunID).Int("failed", rr.Summary.Failed).Msg("运行结束")
}

var errBusy = errors.New("已有运行在执行")

func (s *Server) effective(req RunRequest) (config.EffectiveConfig, error) {
	eff := s.base
	if len(req.Dirs) > 0 {
		dirs := make([]string, 0, len(req.Dirs))
		for _, d := range req.Dirs {
			if !filepath.IsAbs(d) {
				return eff, fmt.Errorf("dirs 必须是绝对路径：%q", d)
			}
			fi, err := os.Stat(d)
			if err != nil {
				return eff, fmt.Errorf("媒体目录不可用：%w", err)
			}
			if !fi.IsDir() {
				return eff, fmt.Errorf("不是目录：%q", d)
			}
			dirs = append(dirs, filepath.Clean(d))
		}
		eff.Dirs = dirs
	}
	if len(eff.Dirs) == 0 {
		return eff, fmt.Errorf("没有可运行的媒体目录")
	}
	if req.DryRun != nil {
		eff.DryRun = *req.DryRun
	}
	if req.Overwrite != nil {
		eff.Filter.Overwrite = *req.Overwrite
	}
	return eff, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("请求体不是合法 JSON：%w", err))
			return
		}
	}
	id, err := s.Start(req)
	switch {
	case errors.Is(err, errBusy):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "state": StateRunning})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]RunStatus, 0, len(s.order))
	for _, id := range s.order {
		st := s.runs[id].status
		st.Report = nil
		out = append(out, st)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	st, ok := s.runs[id]
	var status RunStatus
	if ok {
		status = st.status
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("运行不存在：%s", id))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	st, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("运行不存在：%s", id))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写好了错误响应。
		s.log.Debug().Err(err).Msg("websocket 升级失败")
		return
	}
	defer conn.Close()

	backlog, ch, cancel := st.hub.subscribe()
	defer cancel()

	for _, ev := range backlog {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
