package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/findsig/internal/app/run"
	"github.com/John-Robertt/findsig/internal/config"
	"github.com/John-Robertt/findsig/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的简洁进度输出。
//
// - 所有过程信息写到 stderr，stdout 只留给感染行
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：长时间没有新输出时定期打印一行计数
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	workers  int
	done     int
	clean    int
	infected int
	failed   int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}
	p.workers = eff.Workers

	fmt.Fprintf(p.w, "[%s] findsig scan\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  root: %s\n", eff.Root)
	fmt.Fprintf(p.w, "  pattern: %s\n", eff.PatternPath)
	fmt.Fprintf(p.w, "  workers: %d\n", eff.Workers)
	fmt.Fprintf(p.w, "  chunk_size: %d\n", eff.ChunkSize)
	fmt.Fprintf(p.w, "  exclude_dirs: %s\n", formatStringListJSON(eff.ExcludeDirs))
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	}
	if eff.NATSURL != "" {
		fmt.Fprintf(p.w, "  nats: %s -> %s\n", truncate(eff.NATSURL, 120), eff.NATSSubject)
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "pattern":
		fmt.Fprintf(p.w, "特征: bytes=%d fp=%s (%s)\n",
			intField(fields, "bytes"), stringField(fields, "fingerprint"), formatShortDuration(dur),
		)
		// 遍历与扫描同时进行，从这里开始 keepalive。
		if !p.tickerStarted {
			p.startTickerLocked()
		}
	case "walk":
		fmt.Fprintf(p.w, "遍历: visited=%d candidates=%d (%s)\n",
			intField(fields, "visited"), intField(fields, "candidates"), formatShortDuration(dur),
		)
	case "drain":
		fmt.Fprintf(p.w, "排空: executed=%d (%s)\n",
			intField(fields, "executed"), formatShortDuration(dur),
		)
		p.stopTickerLocked()
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnFileDone(v domain.Verdict) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	switch v.Status {
	case domain.StatusClean:
		p.clean++
		// clean 不逐条打印，交给 keepalive。
		return
	case domain.StatusInfected:
		p.infected++
		fmt.Fprintf(p.w, "[%d] INFECTED %q (%s)\n", p.done, v.Path, formatShortDuration(v.Duration))
	case domain.StatusFailed:
		// 失败行由 sink 写到 stderr，这里只计数。
		p.failed++
		return
	}
	p.lastPrinted = time.Now()
}

// close 停止 keepalive。可重复调用；用于 run 提前返回（未到 drain 阶段）的情况。
func (p *progressUI) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTickerLocked()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}
	stop := p.stopCh

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if time.Since(p.lastPrinted) > threshold {
					p.printProgressLocked()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) stopTickerLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) printProgressLocked() {
	fmt.Fprintf(p.w, "进度: done=%d clean=%d infected=%d fail=%d workers=%d elapsed=%s\n",
		p.done, p.clean, p.infected, p.failed, p.workers, formatElapsed(time.Since(p.startedAt)),
	)
	p.lastPrinted = time.Now()
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// truncate 按字节上限截断，只在 rune 边界处切。
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:runeCut(s, max)]
	}
	return s[:runeCut(s, max-3)] + "..."
}

func runeCut(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
