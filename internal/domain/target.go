package domain

// Variant 是一种客户端挂载约定（例如 linux:/mnt/media、win:D:\media）。
type Variant struct {
	Name  string `json:"name"`
	Mount string `json:"mount"`
}

// ScanTarget 描述一个 job：扫描哪个目录、映射到哪个挂载点、写到哪个输出目录。
// 每个 (子目录, variant) 一个；不持有任何可变共享状态。
type ScanTarget struct {
	SourceDir string `json:"source_dir"`
	MountRoot string `json:"mount_root"`
	OutputDir string `json:"output_dir"`
	// Separator 是 variant 挂载点的分隔符约定；为空时按 MountRoot 推断。
	Separator string `json:"separator,omitempty"`

	Variant      string `json:"variant"`
	RelDir       string `json:"rel_dir"`
	PlaylistName string `json:"playlist_name"`
	ArchiveName  string `json:"archive_name,omitempty"`
}

// PlaylistEntry 是 playlist 中的一行（已映射到挂载点的路径）。
type PlaylistEntry struct {
	RemappedPath string
}

// ProbeResult 是媒体探测结果；未知字段为 nil。
type ProbeResult struct {
	IsVideo         bool     `json:"is_video"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Width           *int     `json:"width,omitempty"`
	Height          *int     `json:"height,omitempty"`
}
