package run

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/findsig/internal/config"
	"github.com/John-Robertt/findsig/internal/domain"
)

type recordObserver struct {
	mu sync.Mutex

	startCalls int
	phases     []string
	files      map[string]string
}

func (o *recordObserver) OnStart(eff config.EffectiveConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startCalls++
}

func (o *recordObserver) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, name)
}

func (o *recordObserver) OnFileDone(v domain.Verdict) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.files == nil {
		o.files = make(map[string]string)
	}
	o.files[filepath.Base(v.Path)] = v.Status
}

func TestExecuteWithObserver_EmitsPhaseAndFileEvents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "evil"), elfBytes("..abc.."))
	writeFile(t, filepath.Join(root, "clean"), elfBytes("......."))
	writeFile(t, filepath.Join(root, "text"), []byte("abc"))

	obs := &recordObserver{}
	var logBuf bytes.Buffer
	logger := zerolog.New(&logBuf).Level(zerolog.InfoLevel)

	_, err := ExecuteWithObserver(baseConfig(t, root, "abc"), &recordSink{}, obs, logger)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if obs.startCalls != 1 {
		t.Fatalf("期望 OnStart 调用 1 次，实际 %d", obs.startCalls)
	}
	if want := []string{"pattern", "walk", "drain"}; !reflect.DeepEqual(obs.phases, want) {
		t.Fatalf("阶段事件不符合预期：期望 %v，实际 %v", want, obs.phases)
	}
	want := map[string]string{"evil": domain.StatusInfected, "clean": domain.StatusClean}
	if !reflect.DeepEqual(obs.files, want) {
		t.Fatalf("文件事件不符合预期：期望 %v，实际 %v", want, obs.files)
	}

	// 开始与结束各一条 info 日志；clean 是 debug，不应出现。
	lines := strings.Split(strings.TrimSpace(logBuf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("期望 2 行日志，实际 %d 行：%s", len(lines), logBuf.String())
	}
	var last map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &last); err != nil {
		t.Fatalf("日志不是 JSON：%v", err)
	}
	if last["message"] != "scanning finished" || last["infected"] != float64(1) {
		t.Fatalf("结束日志不符合预期：%v", last)
	}
}

func TestExecuteWithObserver_PatternFailureStillStarts(t *testing.T) {
	obs := &recordObserver{}
	_, err := ExecuteWithObserver(baseConfig(t, t.TempDir(), ""), &recordSink{}, obs, zerolog.Nop())
	if err == nil {
		t.Fatalf("空特征应返回错误")
	}
	if obs.startCalls != 1 || len(obs.phases) != 0 {
		t.Fatalf("期望只有 OnStart：start=%d phases=%v", obs.startCalls, obs.phases)
	}
}
