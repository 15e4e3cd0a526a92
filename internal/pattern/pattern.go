package pattern

import (
	"errors"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/John-Robertt/findsig/internal/infra/fsx"
)

// DefaultMaxSize 是特征文件的默认大小上限（1 MiB）。
const DefaultMaxSize = 1 << 20

var (
	// ErrEmpty 表示特征为空（L 必须 >= 1）。
	ErrEmpty = errors.New("pattern: 特征不能为空")
)

// Pattern 是不可变的特征字节序列，以及构造时一次性算好的 Horspool 跳转表。
//
// 约束：
// - 构造完成后只读，可被所有 worker 共享（按指针共享，不复制）
// - 构造发生在任何 worker 启动之前，构成安全发布点，因此读取无需加锁
type Pattern struct {
	b    []byte
	skip [256]int
	fp   uint64
}

// New 复制 b 并构建跳转表。
func New(b []byte) (*Pattern, error) {
	if len(b) == 0 {
		return nil, ErrEmpty
	}
	p := &Pattern{b: append([]byte(nil), b...)}

	// bad-character 表：窗口末字节 c 不匹配时，窗口可右移的距离。
	m := len(p.b)
	for i := range p.skip {
		p.skip[i] = m
	}
	for i := 0; i < m-1; i++ {
		p.skip[p.b[i]] = m - 1 - i
	}
	p.fp = xxh3.Hash(p.b)
	return p, nil
}

// Load 整体读入特征文件（文件很小，且只读一次）。
func Load(path string, maxSize int64) (*Pattern, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	b, err := fsx.ReadFileLimited(path, maxSize)
	if err != nil {
		return nil, err
	}
	p, err := New(b)
	if err != nil {
		return nil, fmt.Errorf("%s：%w", path, err)
	}
	return p, nil
}

// Len 返回特征长度 L。
func (p *Pattern) Len() int { return len(p.b) }

// Bytes 返回特征内容。调用方不得修改返回的切片。
func (p *Pattern) Bytes() []byte { return p.b }

// Fingerprint 是特征内容的 xxh3 指纹，仅用于日志/事件中标识“扫的是哪份特征”。
func (p *Pattern) Fingerprint() string {
	return fmt.Sprintf("%016x", p.fp)
}

// Index 返回特征在 hay 中首次出现的位置；不存在则返回 -1。
func (p *Pattern) Index(hay []byte) int {
	m := len(p.b)
	n := len(hay)
	if m > n {
		return -1
	}
	last := m - 1
	for i := 0; i <= n-m; {
		j := last
		for j >= 0 && hay[i+j] == p.b[j] {
			j--
		}
		if j < 0 {
			return i
		}
		i += p.skip[hay[i+last]]
	}
	return -1
}
