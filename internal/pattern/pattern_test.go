package pattern

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Empty(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrEmpty)

	_, err = New([]byte{})
	require.ErrorIs(t, err, ErrEmpty)
}

func TestNew_CopiesInput(t *testing.T) {
	src := []byte("abc")
	p, err := New(src)
	require.NoError(t, err)

	// 调用方之后修改原切片，不应影响已构造的 Pattern。
	src[0] = 'x'
	require.Equal(t, []byte("abc"), p.Bytes())
	require.Equal(t, 3, p.Len())
}

func TestIndex_Basic(t *testing.T) {
	p, err := New([]byte("abc"))
	require.NoError(t, err)

	cases := []struct {
		hay  string
		want int
	}{
		{"", -1},
		{"ab", -1},
		{"abc", 0},
		{"xxabc", 2},
		{"abxabc", 3},
		{"aabbcc", -1},
		{"cbaabc", 3},
		{"abcabc", 0},
	}
	for _, c := range cases {
		require.Equal(t, c.want, p.Index([]byte(c.hay)), "hay=%q", c.hay)
	}
}

func TestIndex_SingleByte(t *testing.T) {
	p, err := New([]byte{0x00})
	require.NoError(t, err)

	require.Equal(t, -1, p.Index([]byte{1, 2, 3}))
	require.Equal(t, 2, p.Index([]byte{1, 2, 0, 0}))
}

func TestIndex_AgreesWithBytesIndex(t *testing.T) {
	// 小字母表 + 随机数据，尽量制造大量部分匹配。
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 2000; iter++ {
		pat := randBytes(rng, 1+rng.Intn(6), 3)
		hay := randBytes(rng, rng.Intn(64), 3)

		p, err := New(pat)
		require.NoError(t, err)
		require.Equal(t, bytes.Index(hay, pat), p.Index(hay), "pat=%v hay=%v", pat, hay)
	}
}

func TestFingerprint_StableAndDistinct(t *testing.T) {
	a1, _ := New([]byte("abc"))
	a2, _ := New([]byte("abc"))
	b, _ := New([]byte("abd"))

	require.Equal(t, a1.Fingerprint(), a2.Fingerprint())
	require.NotEqual(t, a1.Fingerprint(), b.Fingerprint())
	require.Len(t, a1.Fingerprint(), 16)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sig.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xde, 0xad, 0xbe, 0xef}, 0o644))

	p, err := Load(path, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, p.Bytes())
}

func TestLoad_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := Load(path, 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrEmpty), "期望 ErrEmpty，实际：%v", err)
}

func TestLoad_TooLarge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 10), 0o644))

	_, err := Load(path, 4)
	require.Error(t, err)
}

func randBytes(rng *rand.Rand, n, alphabet int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + rng.Intn(alphabet))
	}
	return b
}
