// Package check 在启动时确认外部协作程序（ffprobe、7z）可用。
package check

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var lookPath = exec.LookPath

var (
	ErrFFprobeMissing  = errors.New("未找到 ffprobe")
	ErrSevenZipMissing = errors.New("未找到 7z")
)

// Requirements 描述本次运行需要哪些外部程序；Bin 为空时使用默认名。
type Requirements struct {
	FFprobeBin   string
	NeedSevenZip bool
	SevenZipBin  string
}

// Tool 是单个外部程序的检查结果。
type Tool struct {
	Name     string `json:"name"`
	Bin      string `json:"bin"`
	Path     string `json:"path,omitempty"`
	Required bool   `json:"required"`
	Err      error  `json:"-"`
}

func (t Tool) OK() bool { return t.Err == nil }

// Report 列出所有检查项，供 `check` 命令展示。
func Report(req Requirements) []Tool {
	return []Tool{
		probeTool("ffprobe", orDefault(req.FFprobeBin, "ffprobe"), true, ErrFFprobeMissing),
		probeTool("7z", orDefault(req.SevenZipBin, "7z"), req.NeedSevenZip, ErrSevenZipMissing),
	}
}

// CheckDeps 汇总所有缺失的必需程序；全部可用时返回 nil。
func CheckDeps(req Requirements) error {
	var errs []error
	for _, t := range Report(req) {
		if t.Required && !t.OK() {
			errs = append(errs, t.Err)
		}
	}
	return errors.Join(errs...)
}

func probeTool(name, bin string, required bool, sentinel error) Tool {
	t := Tool{Name: name, Bin: bin, Required: required}
	p, err := lookPath(bin)
	if err != nil {
		t.Err = fmt.Errorf("%w（%s）：%v", sentinel, bin, err)
		return t
	}
	t.Path = p
	return t
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
