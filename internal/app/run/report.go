package run

import (
	"encoding/json"
	"path/filepath"

	"github.com/John-Robertt/cascadepl/internal/app/planner"
	"github.com/John-Robertt/cascadepl/internal/domain"
	"github.com/John-Robertt/cascadepl/internal/infra/fsx"
)

// ReportPath 返回报告文件位置：<outputDir>/reports/<run_id>.json。
func ReportPath(outputDir, runID string) string {
	return filepath.Join(outputDir, planner.ReportsDirName, runID+".json")
}

// WriteReportFile 原子写入报告；dry-run 由调用方决定是否跳过。
func WriteReportFile(outputDir string, rr domain.RunReport) (string, error) {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return "", err
	}
	b = append(b, '\n')
	p := ReportPath(outputDir, rr.RunID)
	if err := fsx.WriteFileAtomicReplace(filepath.Dir(p), filepath.Base(p), b); err != nil {
		return "", err
	}
	return p, nil
}
