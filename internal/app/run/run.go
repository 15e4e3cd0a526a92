package run

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/John-Robertt/findsig/internal/config"
	"github.com/John-Robertt/findsig/internal/domain"
	"github.com/John-Robertt/findsig/internal/elfcheck"
	"github.com/John-Robertt/findsig/internal/infra/telemetry"
	"github.com/John-Robertt/findsig/internal/match"
	"github.com/John-Robertt/findsig/internal/pattern"
	"github.com/John-Robertt/findsig/internal/pool"
	"github.com/John-Robertt/findsig/internal/report"
	"github.com/John-Robertt/findsig/internal/scan"
)

const (
	StageClassify = "classify"
	StageScan     = "scan"
	StagePanic    = "panic"
)

// Options 是 ExecuteWithOptions 的可选依赖。零值可用。
type Options struct {
	Observer Observer
	Logger   *zerolog.Logger
	Metrics  *telemetry.Metrics

	// Pattern 非空时直接使用，不再读取 eff.PatternPath。
	Pattern *pattern.Pattern

	// Classify 默认 elfcheck.IsELF；测试可替换。
	Classify func(path string) (bool, error)
}

// Execute 执行一次扫描：加载特征 -> 启动 worker 池 -> 遍历并提交 ELF 文件 -> 排空并关闭池。
//
// 单个文件的失败会被“降级”为该文件的 failed 结论（交给 sink），不影响其它文件。
// 返回的 error 只代表整次扫描无法完成：特征不可用、池无法创建或遍历失败。
// 遍历失败时池仍会被排空并关闭，返回的 ScanReport 包含已完成部分的统计。
func Execute(eff config.EffectiveConfig, sink report.Sink) (domain.ScanReport, error) {
	return ExecuteWithOptions(eff, sink, Options{})
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 与日志器。
func ExecuteWithObserver(eff config.EffectiveConfig, sink report.Sink, obs Observer, logger zerolog.Logger) (domain.ScanReport, error) {
	return ExecuteWithOptions(eff, sink, Options{Observer: obs, Logger: &logger})
}

func ExecuteWithOptions(eff config.EffectiveConfig, sink report.Sink, opts Options) (domain.ScanReport, error) {
	started := time.Now()

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	obs := opts.Observer
	classify := opts.Classify
	if classify == nil {
		classify = elfcheck.IsELF
	}
	metrics := opts.Metrics
	if metrics == nil {
		m, err := telemetry.New(noop.NewMeterProvider().Meter(telemetry.ScopeName))
		if err != nil {
			return domain.ScanReport{}, err
		}
		metrics = m
	}
	if sink == nil {
		return domain.ScanReport{}, errors.New("run: sink 不能为空")
	}

	rr := domain.ScanReport{
		Root:      eff.Root,
		Workers:   eff.Workers,
		ChunkSize: eff.ChunkSize,
		StartedAt: started,
	}
	if obs != nil {
		obs.OnStart(eff)
	}

	// 特征在任何 worker 启动前构造完成，此后只读。
	patStarted := time.Now()
	pat := opts.Pattern
	if pat == nil {
		p, err := LoadPattern(eff)
		if err != nil {
			return rr, err
		}
		pat = p
	}
	rr.PatternLen = pat.Len()
	rr.PatternFingerprint = pat.Fingerprint()
	if obs != nil {
		obs.OnPhaseDone("pattern", map[string]any{
			"bytes":       pat.Len(),
			"fingerprint": pat.Fingerprint(),
		}, time.Since(patStarted))
	}

	log.Info().
		Str("root", eff.Root).
		Int("workers", eff.Workers).
		Int("chunk_size", eff.ChunkSize).
		Int("pattern_len", pat.Len()).
		Str("pattern_fp", pat.Fingerprint()).
		Msg("scanning started")

	col := &collector{
		sink:    sink,
		log:     log,
		metrics: metrics,
		obs:     obs,
	}

	pl, err := pool.New(eff.Workers, func(task domain.ScanTask) {
		col.finish(scanOne(task, pat, eff.ChunkSize))
	}, pool.Options[domain.ScanTask]{
		OnPanic: col.panicked,
	})
	if err != nil {
		return rr, fmt.Errorf("创建 worker 池失败：%w", err)
	}

	walkStarted := time.Now()
	st, walkErr := scan.Producer{
		Classify: classify,
		Submit: func(task domain.ScanTask) error {
			if err := pl.Submit(task); err != nil {
				return err
			}
			metrics.Discovered()
			return nil
		},
		OnFileError: func(e *scan.FileError) {
			col.finish(domain.Verdict{
				Path:   e.Path,
				Status: domain.StatusFailed,
				Stage:  StageClassify,
				Err:    e.Err,
			})
		},
		OnRejected: func(task domain.ScanTask, err error) {
			log.Warn().Str("path", task.Path).Err(err).Msg("task rejected")
		},
		ExcludeDirs: eff.ExcludeDirs,
	}.Run(eff.Root)
	walkDur := time.Since(walkStarted)

	if obs != nil {
		obs.OnPhaseDone("walk", map[string]any{
			"visited":    st.Visited,
			"candidates": st.Candidates,
		}, walkDur)
	}

	// 遍历失败也必须排空并关闭池，不泄漏 worker。
	drainStarted := time.Now()
	pl.Shutdown()
	if obs != nil {
		obs.OnPhaseDone("drain", map[string]any{
			"executed": pl.Stats().Executed,
		}, time.Since(drainStarted))
	}

	col.fill(&rr)
	rr.Summary.Visited = st.Visited
	rr.Summary.Candidates = st.Candidates
	rr.Summary.Rejected = st.Rejected
	rr.FinishedAt = time.Now()
	rr.Finalize()

	ev := log.Info()
	if walkErr != nil {
		ev = log.Error().Err(walkErr)
	}
	ev.Int("visited", rr.Summary.Visited).
		Int("candidates", rr.Summary.Candidates).
		Int("infected", rr.Summary.Infected).
		Int("failed", rr.Summary.Failed).
		Dur("elapsed", rr.Duration()).
		Msg("scanning finished")

	if walkErr != nil {
		return rr, walkErr
	}
	return rr, nil
}

// LoadPattern 按 eff 读取特征文件；失败统一映射为 pattern_invalid。
func LoadPattern(eff config.EffectiveConfig) (*pattern.Pattern, error) {
	p, err := pattern.Load(eff.PatternPath, eff.MaxPatternSize)
	if err != nil {
		return nil, &config.Error{Code: config.ErrCodePatternInvalid, Path: eff.PatternPath, Err: err}
	}
	return p, nil
}

// scanOne 在 worker 上执行单个任务。每个任务独占自己的匹配缓冲区。
func scanOne(task domain.ScanTask, pat *pattern.Pattern, chunkSize int) domain.Verdict {
	started := time.Now()
	found, n, err := match.File(task.Path, pat, chunkSize)
	v := domain.Verdict{
		Path:     task.Path,
		Bytes:    n,
		Duration: time.Since(started),
	}
	switch {
	case err != nil:
		v.Status = domain.StatusFailed
		v.Stage = StageScan
		v.Err = err
	case found:
		v.Status = domain.StatusInfected
	default:
		v.Status = domain.StatusClean
	}
	return v
}

// collector 把结论交给 sink/日志/指标/Observer，并累积汇总。
// finish 会同时被多个 worker 与遍历 goroutine 调用。
type collector struct {
	sink    report.Sink
	log     zerolog.Logger
	metrics *telemetry.Metrics
	obs     Observer

	mu       sync.Mutex
	scanned  int
	clean    int
	infected []string
	failures []domain.FileFailure
}

func (c *collector) finish(v domain.Verdict) {
	switch v.Status {
	case domain.StatusInfected:
		if err := c.sink.Infected(v.Path); err != nil {
			c.log.Warn().Str("path", v.Path).Err(err).Msg("report infected failed")
		}
		c.metrics.Scanned(v.Bytes, v.Duration, true)
	case domain.StatusClean:
		c.log.Debug().Str("path", v.Path).Int64("bytes", v.Bytes).Msg("clean")
		c.metrics.Scanned(v.Bytes, v.Duration, false)
	case domain.StatusFailed:
		// 面向用户的失败行只由 sink 输出。
		c.log.Debug().Str("path", v.Path).Str("stage", v.Stage).Err(v.Err).Msg("file failed")
		if err := c.sink.Failed(v.Path, v.Err); err != nil {
			c.log.Warn().Str("path", v.Path).Err(err).Msg("report failure failed")
		}
		c.metrics.Failed(v.Stage, v.Bytes)
	}

	c.mu.Lock()
	switch v.Status {
	case domain.StatusInfected:
		c.scanned++
		c.infected = append(c.infected, v.Path)
	case domain.StatusClean:
		c.scanned++
		c.clean++
	case domain.StatusFailed:
		msg := ""
		if v.Err != nil {
			msg = v.Err.Error()
		}
		c.failures = append(c.failures, domain.FileFailure{Path: v.Path, Stage: v.Stage, Msg: msg})
	}
	c.mu.Unlock()

	if c.obs != nil {
		c.obs.OnFileDone(v)
	}
}

// panicked 是池的 OnPanic 钩子：任务内的 panic 变成该文件的失败。
func (c *collector) panicked(task domain.ScanTask, r any) {
	defer func() {
		// 上报路径本身再 panic 时只记日志，worker 必须存活。
		if r2 := recover(); r2 != nil {
			c.log.Error().Str("path", task.Path).Interface("panic", r2).Msg("panic while reporting panic")
		}
	}()
	c.finish(domain.Verdict{
		Path:   task.Path,
		Status: domain.StatusFailed,
		Stage:  StagePanic,
		Err:    &report.PanicError{Value: r},
	})
}

func (c *collector) fill(rr *domain.ScanReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rr.Summary.Scanned = c.scanned
	rr.Summary.Clean = c.clean
	rr.Infected = append([]string(nil), c.infected...)
	rr.Failures = append([]domain.FileFailure(nil), c.failures...)
}
