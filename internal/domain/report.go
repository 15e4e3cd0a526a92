package domain

import (
	"sort"
	"time"
)

// ScanReport 是一次扫描的内存汇总（只用于最终摘要与测试断言，不落盘）。
type ScanReport struct {
	Root      string
	Workers   int
	ChunkSize int

	PatternLen         int
	PatternFingerprint string

	StartedAt  time.Time
	FinishedAt time.Time

	Summary  ReportSummary
	Infected []string
	Failures []FileFailure
}

type ReportSummary struct {
	// Visited 是遍历到的普通文件数；Candidates 是其中通过 ELF 判定并提交的任务数。
	Visited    int
	Candidates int

	Scanned  int
	Clean    int
	Infected int
	Failed   int
	Rejected int
}

// FileFailure 是单个文件的失败（分类阶段或扫描阶段）。
type FileFailure struct {
	Path  string
	Stage string // "classify" | "scan" | "panic"
	Msg   string
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) Infected/Failures 稳定排序（worker 完成顺序本身无序）
// 3) Infected/Failed 计数与列表对齐
func (r *ScanReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.Strings(r.Infected)
	sort.SliceStable(r.Failures, func(i, j int) bool {
		if r.Failures[i].Path != r.Failures[j].Path {
			return r.Failures[i].Path < r.Failures[j].Path
		}
		return r.Failures[i].Stage < r.Failures[j].Stage
	})

	r.Summary.Infected = len(r.Infected)
	r.Summary.Failed = len(r.Failures)
}

// Duration 返回扫描耗时。
func (r ScanReport) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
