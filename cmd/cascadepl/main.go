package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/cascadepl/internal/app/planner"
	"github.com/John-Robertt/cascadepl/internal/app/run"
	"github.com/John-Robertt/cascadepl/internal/archive"
	"github.com/John-Robertt/cascadepl/internal/check"
	"github.com/John-Robertt/cascadepl/internal/config"
	"github.com/John-Robertt/cascadepl/internal/domain"
	"github.com/John-Robertt/cascadepl/internal/logx"
	"github.com/John-Robertt/cascadepl/internal/probe"
	"github.com/John-Robertt/cascadepl/internal/server"
)

const defaultAddr = "127.0.0.1:8787"

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	var code int
	switch args[0] {
	case "run":
		code = runCmd(args[1:])
	case "playlist":
		code = playlistCmd(args[1:])
	case "sample-config":
		code = sampleCmd(args[1:])
	case "check":
		code = checkCmd(args[1:])
	case "serve":
		code = serveCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		code = 2
	}
	if code != 0 {
		os.Exit(code)
	}
}

func runCmd(args []string) int {
	if hasHelp(args) {
		printRunUsage()
		return 0
	}
	ra, err := parseRunArgs(args, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printRunUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	cwdAbs, _ := filepath.Abs(cwd)

	eff, err := config.LoadEffective(cwd, ra.CLI)
	if err != nil {
		emitReport(reportForConfigError(cwdAbs, ra.CLI, err))
		return 1
	}

	log := newLogger(eff.LogLevel, ra.LogFormat)
	if err := check.CheckDeps(requirements(eff)); err != nil {
		fmt.Fprintf(os.Stderr, "缺少外部程序：%v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progressW, interactive := pickProgressWriter()
	var obs run.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}

	rr := run.ExecuteWithObserver(ctx, eff, run.DefaultDeps(eff, log), obs)

	// dry-run 不落盘，报告只走 stdout。
	reportPath := ""
	if !eff.DryRun {
		p, err := run.WriteReportFile(eff.OutputDir, rr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "写入报告失败：%v\n", err)
			emitReport(rr)
			return 1
		}
		reportPath = p
	}

	emitReport(rr)
	if interactive {
		emitLocations(progressW, eff.OutputDir, reportPath)
	}
	if rr.Summary.Failed == 0 {
		return 0
	}
	return 1
}

func playlistCmd(args []string) int {
	if hasHelp(args) {
		printPlaylistUsage()
		return 0
	}
	pa, err := parsePlaylistArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printPlaylistUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	dir, err := filepath.Abs(pa.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "解析目录失败：%v\n", err)
		return 1
	}
	out := cwd
	if strings.TrimSpace(pa.OutputDir) != "" {
		if out, err = filepath.Abs(pa.OutputDir); err != nil {
			fmt.Fprintf(os.Stderr, "解析输出目录失败：%v\n", err)
			return 1
		}
	}

	cfg := domain.FilterConfig{
		MinDurationSeconds: pa.MinLength,
		MaxDurationSeconds: pa.MaxLength,
		Orientation:        domain.OrientationAny,
		Shuffle:            pa.Shuffle,
		Overwrite:          pa.Overwrite,
	}
	switch {
	case pa.Portrait:
		cfg.Orientation = domain.OrientationPortrait
	case pa.Horz:
		cfg.Orientation = domain.OrientationHorizontal
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n", err)
		return 2
	}
	lv, err := logx.ParseLevel(pa.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n", err)
		return 2
	}
	log := logx.New(os.Stderr, lv, pa.LogFormat)

	var stage *archive.Stage
	if pa.Zip {
		format, err := archive.ParseFormat(pa.ArchiveFormat)
		if err != nil {
			fmt.Fprintf(os.Stderr, "参数错误：%v\n", err)
			return 2
		}
		stage = archive.NewStage(archive.Options{Format: format, Level: config.DefaultArchiveLevel}, pa.SevenZipPath)
	}
	if err := check.CheckDeps(check.Requirements{
		FFprobeBin:   pa.FFprobePath,
		NeedSevenZip: stage != nil && stage.Options.Format == archive.Format7z,
		SevenZipBin:  pa.SevenZipPath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "缺少外部程序：%v\n", err)
		return 1
	}

	started := time.Now().UTC()
	runID := planner.NewRunID(started)
	ext := ""
	if stage != nil {
		ext = stage.Ext()
	}
	target, err := planner.PlanSingle(planner.Single{
		Dir:        dir,
		Mount:      pa.Mount,
		OutputDir:  out,
		Variant:    pa.Variant,
		Filter:     cfg,
		RunID:      runID,
		FileName:   pa.FileName,
		ArchiveExt: ext,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := run.Deps{
		Prober:  probe.FFProbe{Bin: pa.FFprobePath},
		Archive: stage,
		Log:     log.With().Str("run_id", runID).Logger(),
	}
	res := run.RunJob(ctx, target, cfg, deps, run.Options{
		ProbeTimeout: config.DefaultProbeTimeout,
		DryRun:       pa.DryRun,
		RunID:        runID,
	})

	rr := domain.RunReport{
		RunID:      runID,
		MediaRoots: []string{dir},
		OutputDir:  out,
		DryRun:     pa.DryRun,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Jobs:       []domain.JobResult{res},
	}
	rr.Finalize()
	emitReport(rr)
	if rr.Summary.Failed == 0 {
		return 0
	}
	return 1
}

func sampleCmd(args []string) int {
	if hasHelp(args) {
		printSampleUsage()
		return 0
	}
	if len(args) > 1 {
		fmt.Fprintf(os.Stderr, "参数错误：最多一个输出路径\n\n")
		printSampleUsage()
		return 2
	}

	path := config.DefaultFileName
	if len(args) == 1 {
		path = args[0]
	}
	if path == "-" {
		b, err := config.SampleYAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "生成示例配置失败：%v\n", err)
			return 1
		}
		_, _ = os.Stdout.Write(b)
		return 0
	}

	if err := config.WriteSample(path); err != nil {
		if errors.Is(err, os.ErrExist) {
			fmt.Fprintf(os.Stderr, "文件已存在，未覆盖：%s\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "写入示例配置失败：%v\n", err)
		}
		return 1
	}
	fmt.Fprintf(os.Stderr, "已生成示例配置：%s\n", path)
	return 0
}

func checkCmd(args []string) int {
	if hasHelp(args) {
		printCheckUsage()
		return 0
	}
	ca, err := parseCheckArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printCheckUsage()
		return 2
	}

	req, err := checkRequirements(ca)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取配置失败：%v\n", err)
		return 1
	}

	tools := check.Report(req)
	missing := writeToolTable(os.Stdout, tools)
	if missing > 0 {
		return 1
	}
	return 0
}

// checkRequirements 合并配置文件（若存在）与 CLI 参数；配置文件不存在不算错误。
func checkRequirements(ca checkArgs) (check.Requirements, error) {
	path := ca.ConfigPath
	if strings.TrimSpace(path) == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return check.Requirements{}, err
		}
		path = filepath.Join(cwd, config.DefaultFileName)
	}
	fc, exists, err := config.ReadFileConfig(path)
	if err != nil {
		return check.Requirements{}, err
	}
	if !exists && ca.ConfigPath != "" {
		return check.Requirements{}, &config.Error{Code: config.ErrCodeNotFound, Path: path, Err: os.ErrNotExist}
	}

	zip := true
	if fc.ZipOutput != nil {
		zip = bool(*fc.ZipOutput)
	}
	if ca.ZipSet {
		zip = ca.Zip
	}
	format, err := archive.ParseFormat(fc.ArchiveFormat)
	if err != nil {
		return check.Requirements{}, err
	}

	req := check.Requirements{
		FFprobeBin:   fc.FFprobePath,
		NeedSevenZip: zip && format == archive.Format7z,
		SevenZipBin:  fc.SevenZipPath,
	}
	if ca.FFprobePath != "" {
		req.FFprobeBin = ca.FFprobePath
	}
	if ca.SevenZipPath != "" {
		req.SevenZipBin = ca.SevenZipPath
	}
	return req, nil
}

// writeToolTable 输出检查结果，返回缺失的必需程序数量。
func writeToolTable(w io.Writer, tools []check.Tool) int {
	missing := 0
	for _, t := range tools {
		need := "optional"
		if t.Required {
			need = "required"
		}
		if t.OK() {
			fmt.Fprintf(w, "ok       %-8s %-8s %s\n", t.Name, need, t.Path)
			continue
		}
		if t.Required {
			missing++
		}
		fmt.Fprintf(w, "missing  %-8s %-8s %v\n", t.Name, need, t.Err)
	}
	return missing
}

func serveCmd(args []string) int {
	if hasHelp(args) {
		printServeUsage()
		return 0
	}
	ra, err := parseRunArgs(args, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printServeUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	eff, err := config.LoadEffective(cwd, ra.CLI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误：%v\n", err)
		return 1
	}
	log := newLogger(eff.LogLevel, ra.LogFormat)
	if err := check.CheckDeps(requirements(eff)); err != nil {
		fmt.Fprintf(os.Stderr, "缺少外部程序：%v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(ctx, eff, func(e config.EffectiveConfig) run.Deps {
		return run.DefaultDeps(e, log)
	}, log)
	hs := &http.Server{
		Addr:              ra.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ra.Addr).Msg("服务已启动")
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("服务异常退出")
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("关闭服务超时")
		}
	}
	srv.Wait()
	log.Info().Msg("服务已停止")
	return 0
}

func requirements(eff config.EffectiveConfig) check.Requirements {
	return check.Requirements{
		FFprobeBin:   eff.FFprobePath,
		NeedSevenZip: eff.Archive && eff.ArchiveFormat == archive.Format7z,
		SevenZipBin:  eff.SevenZipPath,
	}
}

func newLogger(level string, format logx.Format) zerolog.Logger {
	// 级别已在 LoadEffective 里校验过。
	lv, _ := logx.ParseLevel(level)
	return logx.New(os.Stderr, lv, format)
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  cascadepl <命令> [参数]

命令：
  run            为每个媒体根目录的所有子目录 × variant 生成 playlist
  playlist       为单个目录生成一个 playlist（不读配置文件）
  sample-config  生成示例配置文件
  check          检查 ffprobe / 7z 是否可用
  serve          启动 HTTP 服务，通过接口提交运行并订阅进度

使用 "cascadepl <命令> --help" 查看详细说明。
`)
}

func printRunUsage() {
	fmt.Fprint(os.Stdout, `用法：
  cascadepl run [dir...] [参数]

参数（均可写作 -name、--name、-name=value；覆盖配置文件）：
  -config PATH        配置文件（默认 ./cascadepl.yaml；未给 -dir 时必须存在）
  -dir DIR            媒体根目录，可重复；位置参数同样视为媒体目录
  -output DIR         输出目录（默认当前目录）
  -variant NAME=MOUNT 目标系统及其挂载路径，可重复（例如 linux=/mnt/media）
  -min_length SEC     最短时长（含）
  -max_length SEC     最长时长（含）
  -portrait           仅竖屏
  -horz               仅横屏（正方形保留）
  -shuffle            打乱顺序
  -overwrite          覆盖同名 playlist
  -zip[=no]           归档每个输出目录（默认开启）
  -filename NAME      固定 playlist 文件名
  -concurrency N      worker 数量（0 为 CPU 数）
  -dry-run            只扫描与过滤，不写任何文件
  -log-level LEVEL    debug|info|warn|error
  -log-format FORMAT  auto|json|console
  -h, --help          显示帮助
`)
}

func printPlaylistUsage() {
	fmt.Fprint(os.Stdout, `用法：
  cascadepl playlist -dir DIR -mount MOUNT [参数]

参数：
  -dir DIR            媒体目录（必填，递归扫描）
  -mount MOUNT        playlist 中使用的挂载路径（必填）
  -output DIR         输出目录（默认当前目录）
  -variant NAME       写入文件名的 variant 名（可选）
  -min_length SEC     最短时长（含）
  -max_length SEC     最长时长（含）
  -portrait | -horz   方向过滤
  -shuffle            打乱顺序
  -overwrite          覆盖同名 playlist
  -zip                归档输出目录
  -archive_format F   7z|zip（默认 7z）
  -filename NAME      固定 playlist 文件名
  -ffprobe PATH       ffprobe 可执行文件
  -7z PATH            7z 可执行文件
  -dry-run            只扫描与过滤，不写任何文件
`)
}

func printSampleUsage() {
	fmt.Fprint(os.Stdout, `用法：
  cascadepl sample-config [PATH|-]

默认写到 ./cascadepl.yaml；已存在时不覆盖。PATH 为 "-" 时输出到 stdout。
`)
}

func printCheckUsage() {
	fmt.Fprint(os.Stdout, `用法：
  cascadepl check [-config PATH] [-ffprobe PATH] [-7z PATH] [-zip[=no]]

缺少必需程序时退出码为 1。
`)
}

func printServeUsage() {
	fmt.Fprint(os.Stdout, `用法：
  cascadepl serve [-addr HOST:PORT] [run 的全部参数]

接口：
  POST /api/runs              提交运行（body 可选：{"dirs":[...],"dry_run":true,"overwrite":true}）
  GET  /api/runs              运行列表
  GET  /api/runs/{id}         运行状态与报告
  GET  /api/runs/{id}/events  websocket 进度事件
`)
}

func emitReport(rr domain.RunReport) {
	summary := fmt.Sprintf("完成：succeeded=%d skipped=%d failed=%d entries=%d\n",
		rr.Summary.Succeeded, rr.Summary.Skipped, rr.Summary.Failed, rr.Summary.Entries,
	)
	if logx.IsTerminal(os.Stdout) {
		fmt.Fprint(os.Stdout, summary)
		for _, j := range rr.Jobs {
			if j.Status != domain.StatusFailed {
				continue
			}
			key := run.JobLabel(j.Target)
			if key == "" {
				key = "<config>"
			}
			fmt.Fprintf(os.Stderr, "%s %s: %s\n", key, j.ErrorCode, j.ErrorMsg)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rr)
	fmt.Fprint(os.Stderr, summary)
}

func reportForConfigError(cwdAbs string, cli config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		RunID:      planner.NewRunID(now),
		MediaRoots: append([]string(nil), cli.Dirs...),
		OutputDir:  cwdAbs,
		DryRun:     cli.DryRun,
		StartedAt:  now,
		FinishedAt: now,
		Jobs: []domain.JobResult{{
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if logx.IsTerminal(os.Stderr) {
		return os.Stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if logx.IsTerminal(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, outputDir, reportPath string) {
	if w == nil {
		return
	}
	if reportPath != "" {
		fmt.Fprintf(w, "report: %s\n", reportPath)
	}
	fmt.Fprintf(w, "out: %s\n", outputDir)
}
