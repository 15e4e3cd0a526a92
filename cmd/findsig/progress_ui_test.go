package main

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/findsig/internal/config"
	"github.com/John-Robertt/findsig/internal/domain"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestProgressUI_Events(t *testing.T) {
	var buf syncBuffer
	ui := newProgressUI(&buf)
	defer ui.close()

	ui.OnStart(config.EffectiveConfig{Root: "/srv", PatternPath: "/sig", Workers: 3, ChunkSize: 4096})
	ui.OnPhaseDone("pattern", map[string]any{"bytes": 9, "fingerprint": "00ff"}, 0)
	ui.OnFileDone(domain.Verdict{Path: "/srv/a", Status: domain.StatusClean})
	ui.OnFileDone(domain.Verdict{Path: "/srv/b", Status: domain.StatusInfected})
	ui.OnFileDone(domain.Verdict{Path: "/srv/c", Status: domain.StatusFailed, Stage: "scan", Err: errors.New("permission denied")})
	ui.OnPhaseDone("walk", map[string]any{"visited": 5, "candidates": 3}, time.Second)
	ui.OnPhaseDone("drain", map[string]any{"executed": int64(3)}, 0)

	out := buf.String()
	for _, want := range []string{
		"root: /srv",
		"workers: 3",
		"exclude_dirs: []",
		"特征: bytes=9 fp=00ff",
		`[2] INFECTED "/srv/b"`,
		"遍历: visited=5 candidates=3 (1.0s)",
		"排空: executed=3",
	} {
		require.Contains(t, out, want)
	}
	require.NotContains(t, out, "/srv/a", "clean 文件不应逐条打印")
	require.NotContains(t, out, "/srv/c", "失败行只由 sink 输出")
	require.False(t, ui.tickerStarted, "drain 之后 ticker 应已停止")
}

func TestProgressUI_Keepalive(t *testing.T) {
	var buf syncBuffer
	ui := newProgressUI(&buf)
	ui.keepaliveThreshold = time.Millisecond
	ui.tickerInterval = 5 * time.Millisecond

	ui.OnStart(config.EffectiveConfig{Workers: 2})
	ui.OnPhaseDone("pattern", nil, 0)
	ui.OnFileDone(domain.Verdict{Status: domain.StatusClean})

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), "进度: done=1 clean=1") {
		require.False(t, time.Now().After(deadline), "期望出现 keepalive 行：\n%s", buf.String())
		time.Sleep(5 * time.Millisecond)
	}
	ui.close()
	ui.close()
}

func TestFormatHelpers(t *testing.T) {
	require.Equal(t, "01:02:03", formatElapsed(3723*time.Second))
	require.Equal(t, "abc...", truncate("abcdefgh", 6))
	require.Equal(t, `["proc"]`, formatStringListJSON([]string{"proc"}))
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	// 每个汉字 3 字节，字节上限落在字符中间。
	s := "读取文件失败：权限不足"
	for max := 1; max < len(s); max++ {
		got := truncate(s, max)
		require.True(t, utf8.ValidString(got), "max=%d got=%q", max, got)
		require.LessOrEqual(t, len(got), max, "max=%d got=%q", max, got)
	}
	require.Equal(t, "读...", truncate(s, 8))
}
