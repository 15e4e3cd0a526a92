package report

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// Sink 接收单个文件的扫描结论。
//
// 实现必须并发安全：多个 worker 会同时调用；单次调用对其它调用是原子的（按行，不按字节）。
// 不保证不同文件之间的先后顺序。
type Sink interface {
	Infected(path string) error
	Failed(path string, cause error) error
}

// PanicError 表示任务执行期间发生的 panic，被转换为该文件的失败。
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// WriterSink 把结论写成人类可读的行：感染写到 out，失败写到 errOut。
//
// 一把锁覆盖两个输出，同一行总是一次 Write 完成。
// 路径按 Go 字符串字面量加引号输出，文件名里的换行等控制字符不会拆出额外的行。
type WriterSink struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
}

// NewWriterSink 创建 WriterSink。errOut 为 nil 时失败行被丢弃。
func NewWriterSink(out, errOut io.Writer) *WriterSink {
	if errOut == nil {
		errOut = io.Discard
	}
	return &WriterSink{out: out, errOut: errOut}
}

func (s *WriterSink) Infected(path string) error {
	line := "File " + strconv.Quote(path) + " is infected!\n"

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, line)
	return err
}

func (s *WriterSink) Failed(path string, cause error) error {
	line := "could not scan " + strconv.Quote(path) + ": " + escapeLine(causeText(cause)) + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.errOut, line)
	return err
}

func causeText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// escapeLine 转义控制字符，结果不含换行，也不带外层引号。
func escapeLine(s string) string {
	q := strconv.Quote(s)
	return q[1 : len(q)-1]
}

type tee []Sink

// Tee 把同一结论依次交给每个 sink。某个 sink 出错不影响其余 sink，错误合并返回。
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (t tee) Infected(path string) error {
	var errs []error
	for _, s := range t {
		if err := s.Infected(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) Failed(path string, cause error) error {
	var errs []error
	for _, s := range t {
		if err := s.Failed(path, cause); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
