package domain

import "fmt"

// RemapError 表示路径不在声明的源根目录之下。
// ScanTarget 构造正确时不应出现；一旦出现即视为该 job 的致命断言失败。
type RemapError struct {
	Path string
	Root string
}

func (e *RemapError) Error() string {
	return fmt.Sprintf("路径 %q 不在源根目录 %q 之下", e.Path, e.Root)
}

// ProbeError 表示探测工具未能读取单个文件的元数据（与“不是视频流”区分）。
type ProbeError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("探测 %q 失败（%s）：%v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("探测 %q 失败（%s）", e.Path, e.Reason)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ScanError 表示遍历根目录不可读，对该 job 致命。
type ScanError struct {
	Dir string
	Err error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("扫描目录 %q 失败：%v", e.Dir, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// AlreadyExistsError 表示不允许覆盖时输出文件已存在（原文件保持不变）。
type AlreadyExistsError struct {
	Path string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("输出文件已存在且未开启 overwrite：%q", e.Path)
}

// ArchiveError 表示 playlist 写入成功后归档失败；playlist 本身仍然有效。
type ArchiveError struct {
	Dest string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("归档 %q 失败：%v", e.Dest, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }
