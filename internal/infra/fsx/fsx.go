package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// 通过可替换的函数指针，让测试能稳定模拟 open 失败等错误。
// 以非阻塞方式打开：路径在检查之后被换成 FIFO 时 open 不会挂住。
var openFunc = func(name string) (*os.File, error) {
	return os.OpenFile(name, os.O_RDONLY|oNonblock, 0)
}

// PathTypeConflictError 表示路径类型不符合预期（例如期望目录但实际是文件）。
// 上层可把它映射为对应的 error_code。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("路径类型不符：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// TooLargeError 表示文件超过允许读入内存的上限。
type TooLargeError struct {
	Path  string
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("文件过大：%q（%d 字节，上限 %d 字节）", e.Path, e.Size, e.Limit)
}

// IsTooLarge 判断 err 是否为 TooLargeError。
func IsTooLarge(err error) bool {
	var e *TooLargeError
	return errors.As(err, &e)
}

// CheckDir 校验 path 存在且是目录（跟随符号链接）。
func CheckDir(path string) error {
	fi, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return &PathTypeConflictError{Path: path, Want: "dir", Got: typeName(fi.Mode())}
	}
	return nil
}

// CheckRegularFile 校验 path 存在且是普通文件（跟随符号链接）。
func CheckRegularFile(path string) error {
	fi, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return &PathTypeConflictError{Path: path, Want: "regular file", Got: typeName(fi.Mode())}
	}
	return nil
}

// ReadFileLimited 把整个普通文件读入内存，但最多 limit 字节。
//
// 说明：
// - 先 Stat 判断大小，避免对超大文件做无意义的分配
// - 读取时仍用 LimitReader 兜底（文件可能在 Stat 之后被追加）
func ReadFileLimited(path string, limit int64) ([]byte, error) {
	f, fi, err := openRegular(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if fi.Size() > limit {
		return nil, &TooLargeError{Path: path, Size: fi.Size(), Limit: limit}
	}

	b, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, &TooLargeError{Path: path, Size: int64(len(b)), Limit: limit}
	}
	return b, nil
}

// OpenRegular 打开一个普通文件用于只读扫描。
// 打开后的实际类型不是普通文件时返回 PathTypeConflictError。
func OpenRegular(path string) (*os.File, error) {
	f, _, err := openRegular(path)
	return f, err
}

func openRegular(path string) (*os.File, os.FileInfo, error) {
	f, err := openFunc(filepath.Clean(path))
	if err != nil {
		return nil, nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, nil, &PathTypeConflictError{Path: path, Want: "regular file", Got: typeName(fi.Mode())}
	}
	if err := setBlocking(f); err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, fi, nil
}

func typeName(m os.FileMode) string {
	switch {
	case m.IsDir():
		return "dir"
	case m.IsRegular():
		return "file"
	case m&os.ModeSymlink != 0:
		return "symlink"
	default:
		return m.Type().String()
	}
}
