package media

import (
	"path/filepath"
	"strings"
)

// Kind 是按扩展名得到的分类结果。
type Kind int

const (
	Unrecognized Kind = iota
	Video
)

func (k Kind) String() string {
	if k == Video {
		return "video"
	}
	return "unrecognized"
}

// 固定白名单（小写，不含点）。
var videoExts = map[string]struct{}{
	"mp4": {}, "avi": {}, "mov": {}, "mkv": {}, "flv": {}, "wmv": {}, "m4v": {}, "webm": {},
	"3gp": {}, "ogv": {}, "mpg": {}, "mpeg": {}, "m2v": {}, "m4p": {}, "mp2": {}, "mpe": {},
	"mpv": {}, "m2ts": {}, "mxf": {}, "yuv": {}, "rm": {}, "asf": {}, "vob": {}, "amv": {},
	"rmvb": {}, "drc": {}, "gifv": {}, "mts": {}, "qt": {}, "svi": {}, "3g2": {}, "roq": {},
	"nsv": {}, "f4v": {}, "f4p": {}, "f4a": {}, "f4b": {},
}

// Classify 只看扩展名（大小写不敏感），不读文件内容。
func Classify(name string) Kind {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return Unrecognized
	}
	if _, ok := videoExts[strings.ToLower(ext)]; ok {
		return Video
	}
	return Unrecognized
}
