package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/findsig/internal/domain"
)

// WalkError 表示遍历本身失败（目录不可读等）。
// 跳过子树可能漏掉感染文件，因此它对整次遍历是致命的。
type WalkError struct {
	Path string
	Err  error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("遍历失败：%q：%v", e.Path, e.Err)
}

func (e *WalkError) Unwrap() error { return e.Err }

// IsWalkError 判断 err 是否为 WalkError。
func IsWalkError(err error) bool {
	var e *WalkError
	return errors.As(err, &e)
}

// FileError 表示单个文件上的失败，只影响该文件。
type FileError struct {
	Path string
	Op   string // "classify" | "scan"
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Walk 递归遍历 root，对每个扫描候选调用 visit。
//
// 规则（与常见 tree-walk 语义一致）：
// - 只有普通文件是候选；指向普通文件的符号链接也是候选
// - 不进入符号链接指向的目录（避免环）；断链直接跳过
// - excludeDirs：均视为相对 root 的路径（若是绝对路径，则按绝对路径处理）
// - 任一目录读取失败即中止整次遍历
//
// visit 返回的错误同样中止遍历，并原样返回。
func Walk(root string, excludeDirs []string, visit func(path string) error) error {
	root = filepath.Clean(root)
	excluded := buildExcluded(root, excludeDirs)

	walkRoot := root
	if fi, err := os.Lstat(root); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
		// 根本身是符号链接：以 "root/" 形式遍历，Lstat 会跟随到目标目录。
		walkRoot = root + string(filepath.Separator)
	}

	return filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &WalkError{Path: path, Err: walkErr}
		}

		// 统一的排除判断：目录用 SkipDir，文件则直接跳过。
		if isExcluded(path, excluded) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		switch t := d.Type(); {
		case t.IsDir():
			return nil
		case t.IsRegular():
			return visit(path)
		case t&fs.ModeSymlink != 0:
			fi, err := os.Stat(path)
			if err != nil || !fi.Mode().IsRegular() {
				return nil
			}
			return visit(path)
		default:
			// 设备/管道/套接字：读它们可能阻塞，不是候选。
			return nil
		}
	})
}

// Stats 是 producer 侧的计数。
type Stats struct {
	Visited        int
	Candidates     int
	Rejected       int
	ClassifyFailed int
}

// Producer 把遍历、ELF 判定与任务提交串起来。
//
// 遍历是顺序的；每个命中的文件变成一个可独立调度的 ScanTask。
type Producer struct {
	Classify    func(path string) (bool, error)
	Submit      func(task domain.ScanTask) error
	OnFileError func(err *FileError)
	// OnRejected 在 Submit 失败时调用（池已不再接收）。可为 nil。
	OnRejected func(task domain.ScanTask, err error)

	ExcludeDirs []string
}

// Run 遍历 root 并提交任务。每个通过判定的文件恰好提交一次；未通过的不提交。
// 单个文件的判定失败只通过 OnFileError 上报，不中止遍历。
func (p Producer) Run(root string) (Stats, error) {
	var st Stats
	err := Walk(root, p.ExcludeDirs, func(path string) error {
		st.Visited++

		ok, err := p.Classify(path)
		if err != nil {
			st.ClassifyFailed++
			if p.OnFileError != nil {
				p.OnFileError(&FileError{Path: path, Op: "classify", Err: err})
			}
			return nil
		}
		if !ok {
			return nil
		}

		// 显式构造独立的 path 副本，任务不持有遍历器的任何状态。
		task := domain.ScanTask{Path: strings.Clone(path)}
		if err := p.Submit(task); err != nil {
			st.Rejected++
			if p.OnRejected != nil {
				p.OnRejected(task, err)
			}
			return nil
		}
		st.Candidates++
		return nil
	})
	return st, err
}

func buildExcluded(root string, excludeDirs []string) []string {
	excluded := make([]string, 0, len(excludeDirs))
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		// x 是相对路径：相对 root。
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}

	// 排除列表排序后，isExcluded 的行为更可预测（且便于测试）。
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
