package domain

import "time"

const (
	StatusClean    = "clean"
	StatusInfected = "infected"
	StatusFailed   = "failed"
)

// Verdict 是单个 ScanTask 的结果。
type Verdict struct {
	Path     string
	Status   string
	Stage    string // 仅 Status=failed 时有值："classify" | "scan" | "panic"
	Err      error  // 仅 Status=failed 时非空
	Bytes    int64  // 实际读取的字节数（命中即停止，因此可能小于文件大小）
	Duration time.Duration
}
