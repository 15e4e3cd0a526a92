package elfcheck

import (
	"errors"
	"io"

	"github.com/John-Robertt/findsig/internal/infra/fsx"
)

// HeaderSize 是参与比较的文件头字节数。
const HeaderSize = 16

// magic 是 64 位、小端、当前版本 ELF 的 16 字节模板。
//
// 注意：这是宽松的前缀比较，不是完整的 ELF 头校验。
// e_ident 的 OSABI/ABIVERSION/padding 必须全 0；e_type（可执行/共享库/core）根本不在这 16 字节内，
// 因此 ET_EXEC 与 ET_DYN、ET_CORE 无法区分，它们都会被当作候选。
var magic = [HeaderSize]byte{
	0x7f, 'E', 'L', 'F', // ELFMAG
	0x02,       // ELFCLASS64
	0x01,       // ELFDATA2LSB
	0x01,       // EV_CURRENT
	0x00,       // ELFOSABI_SYSV
	0, 0, 0, 0, 0, 0, 0, 0,
}

// Magic 返回模板的副本，调用方修改它不影响 Classify。
func Magic() []byte {
	return append([]byte(nil), magic[:]...)
}

// Classify 读取 r 开头最多 16 字节并与模板比较。
// 不足 16 字节视为“不是 ELF”，不算错误。
func Classify(r io.Reader) (bool, error) {
	var hdr [HeaderSize]byte
	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return hdr == magic, nil
}

// IsELF 打开 path 并调用 Classify。
func IsELF(path string) (bool, error) {
	f, err := fsx.OpenRegular(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	return Classify(f)
}
