package match

import (
	"errors"
	"io"

	"github.com/John-Robertt/findsig/internal/infra/fsx"
	"github.com/John-Robertt/findsig/internal/pattern"
)

// DefaultChunkSize 是单次读取的块大小（4 KiB）。
const DefaultChunkSize = 4096

// ErrInvalidChunkSize 表示 chunkSize < 1。
var ErrInvalidChunkSize = errors.New("match: chunk size 必须 >= 1")

// Contains 以固定块大小流式读取 r，判断其中是否包含特征 p。
//
// 缓冲区容量为 chunkSize + L - 1：
// - 首次读取从偏移 0 开始（没有上一块的残留）
// - 之后每次把上一窗口末尾的 L-1 字节搬到缓冲区开头，再从偏移 carry 读入新块
// - 这样跨两块的命中一定完整落在某一个搜索窗口内
//
// 命中即返回 true，不再读取剩余内容。EOF 导致的短读是正常结束；其它读错误原样返回。
func Contains(r io.Reader, p *pattern.Pattern, chunkSize int) (bool, error) {
	found, _, err := scan(r, p, chunkSize)
	return found, err
}

// File 打开 path 并调用 Contains，额外返回实际读取的字节数。
func File(path string, p *pattern.Pattern, chunkSize int) (bool, int64, error) {
	f, err := fsx.OpenRegular(path)
	if err != nil {
		return false, 0, err
	}
	defer f.Close()
	return scan(f, p, chunkSize)
}

func scan(r io.Reader, p *pattern.Pattern, chunkSize int) (bool, int64, error) {
	if chunkSize < 1 {
		return false, 0, ErrInvalidChunkSize
	}
	overlap := p.Len() - 1
	buf := make([]byte, chunkSize+overlap)

	var total int64
	carry := 0
	for {
		n, err := io.ReadFull(r, buf[carry:carry+chunkSize])
		total += int64(n)
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			return false, total, err
		}
		if n == 0 {
			return false, total, nil
		}

		end := carry + n
		if p.Index(buf[:end]) >= 0 {
			return true, total, nil
		}
		if eof {
			return false, total, nil
		}

		// carry 取实际已有字节数与 L-1 的较小值：文件比 L-1 还短时不能假设有 L-1 字节。
		keep := overlap
		if end < keep {
			keep = end
		}
		copy(buf, buf[end-keep:end])
		carry = keep
	}
}
