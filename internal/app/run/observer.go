package run

import (
	"time"

	"github.com/John-Robertt/findsig/internal/config"
	"github.com/John-Robertt/findsig/internal/domain"
)

// Observer 把“运行进度/阶段/单文件结论”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（stdout 只留给感染行）。
// - Observer 的实现必须并发安全：OnFileDone 会被多个 worker 同时调用。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用：pattern / walk / drain。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnFileDone 在单个文件得出结论时调用（clean / infected / failed）。
	OnFileDone(v domain.Verdict)
}
