package check

import (
	"errors"
	"os/exec"
	"testing"
)

func stubLookPath(t *testing.T, found map[string]string) {
	t.Helper()
	old := lookPath
	lookPath = func(file string) (string, error) {
		if p, ok := found[file]; ok {
			return p, nil
		}
		return "", exec.ErrNotFound
	}
	t.Cleanup(func() { lookPath = old })
}

func TestCheckDeps_AllPresent(t *testing.T) {
	stubLookPath(t, map[string]string{"ffprobe": "/usr/bin/ffprobe", "7z": "/usr/bin/7z"})
	if err := CheckDeps(Requirements{NeedSevenZip: true}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
}

func TestCheckDeps_MissingFFprobe(t *testing.T) {
	stubLookPath(t, map[string]string{"7z": "/usr/bin/7z"})
	err := CheckDeps(Requirements{NeedSevenZip: true})
	if !errors.Is(err, ErrFFprobeMissing) {
		t.Fatalf("期望 ErrFFprobeMissing，实际：%v", err)
	}
	if errors.Is(err, ErrSevenZipMissing) {
		t.Fatalf("7z 存在时不应报告缺失")
	}
}

func TestCheckDeps_SevenZipOnlyWhenNeeded(t *testing.T) {
	stubLookPath(t, map[string]string{"ffprobe": "/usr/bin/ffprobe"})
	if err := CheckDeps(Requirements{NeedSevenZip: false}); err != nil {
		t.Fatalf("不需要 7z 时不应报错：%v", err)
	}
	if err := CheckDeps(Requirements{NeedSevenZip: true}); !errors.Is(err, ErrSevenZipMissing) {
		t.Fatalf("期望 ErrSevenZipMissing，实际：%v", err)
	}
}

func TestReport_CustomBins(t *testing.T) {
	stubLookPath(t, map[string]string{"/opt/ff/ffprobe": "/opt/ff/ffprobe"})
	tools := Report(Requirements{FFprobeBin: "/opt/ff/ffprobe", SevenZipBin: "7zz"})
	if len(tools) != 2 {
		t.Fatalf("期望 2 项，实际 %d", len(tools))
	}
	if !tools[0].OK() || tools[0].Path != "/opt/ff/ffprobe" {
		t.Fatalf("ffprobe 检查不符合预期：%+v", tools[0])
	}
	if tools[1].OK() || tools[1].Bin != "7zz" || tools[1].Required {
		t.Fatalf("7z 检查不符合预期：%+v", tools[1])
	}
}
