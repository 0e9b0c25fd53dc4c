package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := RunReport{
		RunID:      "20260209100000-abcd1234",
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Jobs: []JobResult{
			{Target: ScanTarget{Variant: "win", SourceDir: "/m/A"}, Status: StatusSuccess, EntryCount: 2},
			{Target: ScanTarget{}, Status: StatusFailed}, // 配置/根目录等合成项
			{Target: ScanTarget{Variant: "linux", SourceDir: "/m/B"}, Status: StatusSkipped},
			{Target: ScanTarget{Variant: "linux", SourceDir: "/m/A"}, Status: StatusSuccess, EntryCount: 3},
		},
	}

	r.Finalize()

	got := []string{}
	for _, j := range r.Jobs {
		got = append(got, j.Target.Variant+":"+j.Target.SourceDir)
	}
	want := []string{"linux:/m/A", "linux:/m/B", "win:/m/A", ":"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("jobs 排序不符合契约：got=%v want=%v", got, want)
		}
	}
	if r.Summary.Succeeded != 2 || r.Summary.Skipped != 1 || r.Summary.Failed != 1 || r.Summary.Entries != 5 {
		t.Fatalf("summary 统计不正确：%+v", r.Summary)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
	if !bytes.Contains(b, []byte("\"media_roots\":[]")) {
		t.Fatalf("nil media_roots 应输出 []：%s", string(b))
	}
}

func TestFilterConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     FilterConfig
		wantErr bool
	}{
		{name: "empty", cfg: FilterConfig{}},
		{name: "bounds ok", cfg: FilterConfig{MinDurationSeconds: Seconds(30), MaxDurationSeconds: Seconds(30)}},
		{name: "min > max", cfg: FilterConfig{MinDurationSeconds: Seconds(31), MaxDurationSeconds: Seconds(30)}, wantErr: true},
		{name: "negative", cfg: FilterConfig{MinDurationSeconds: Seconds(-1)}, wantErr: true},
		{name: "bad orientation", cfg: FilterConfig{Orientation: "square"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("期望错误，但得到 nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("不期望错误：%v", err)
			}
		})
	}
}
