package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Skipped 的原因（JobResult.Reason）。
const (
	ReasonCancelled = "cancelled"
	ReasonEmpty     = "empty"
)

const (
	ErrCodeRemapFailed      = "remap_failed"
	ErrCodeScanFailed       = "scan_failed"
	ErrCodeAlreadyExists    = "already_exists"
	ErrCodeWriteFailed      = "write_failed"
	ErrCodeArchiveFailed    = "archive_failed"
	ErrCodeTargetConflict   = "target_conflict"
	ErrCodeIOFailed         = "io_failed"
	ErrCodeCancelled        = "cancelled"
	ErrCodeConfigNotFound   = "config_not_found"
	ErrCodeConfigInvalid    = "config_invalid"
	ErrCodeConfigMissingDir = "config_missing_dirs"
)

// JobStats 是单个 job 的逐文件统计。
type JobStats struct {
	Files        int `json:"files"`
	Unrecognized int `json:"unrecognized"`
	ProbeFailed  int `json:"probe_failed"`
	Excluded     int `json:"excluded"`
}

// JobResult 是一个 job 的最终结果；创建后不再修改。
type JobResult struct {
	Target     ScanTarget `json:"target"`
	EntryCount int        `json:"entry_count"`

	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`

	// PlaylistPath 在归档失败时仍指向已写好的 playlist。
	PlaylistPath string `json:"playlist_path,omitempty"`
	ArchivePath  string `json:"archive_path,omitempty"`

	Stats      JobStats `json:"stats"`
	DurationMS int64    `json:"duration_ms"`
}

// RunReport 是对外稳定输出（reports/<run_id>.json / stdout JSON）的结构。
type RunReport struct {
	RunID      string   `json:"run_id"`
	MediaRoots []string `json:"media_roots"`
	OutputDir  string   `json:"output_dir"`
	DryRun     bool     `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Jobs    []JobResult   `json:"jobs"`
}

type ReportSummary struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Entries   int `json:"entries"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) jobs 稳定排序：按 variant、源目录；没有源目录的合成条目排在最后
// 3) summary 由 jobs 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Jobs, func(i, j int) bool {
		a := r.Jobs[i].Target
		b := r.Jobs[j].Target
		if a.SourceDir == "" || b.SourceDir == "" {
			return a.SourceDir != "" && b.SourceDir == ""
		}
		if a.Variant != b.Variant {
			return a.Variant < b.Variant
		}
		return a.SourceDir < b.SourceDir
	})

	var s ReportSummary
	for _, j := range r.Jobs {
		switch j.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
		s.Entries += j.EntryCount
	}
	r.Summary = s
}

// MarshalJSON 集中约束输出的稳定性：nil 切片输出为 []。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	a := Alias(r)
	if a.MediaRoots == nil {
		a.MediaRoots = []string{}
	}
	if a.Jobs == nil {
		a.Jobs = []JobResult{}
	}
	return json.Marshal(a)
}
