package pool

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrInvalidSize 表示 worker 数 < 1。
	ErrInvalidSize = errors.New("pool: worker 数必须 >= 1")
	// ErrNotAccepting 表示池已进入 draining/terminated，不再接收任务（任务被丢弃）。
	ErrNotAccepting = errors.New("pool: 已停止接收任务")
)

// Options 是可选行为。
type Options[T any] struct {
	// OnPanic 在某个任务 panic 时调用（在执行该任务的 worker 上）。
	// 为 nil 时 panic 只会被吞掉并计数，worker 继续处理下一个任务。
	OnPanic func(task T, recovered any)
}

// Stats 是池的计数快照。
type Stats struct {
	Workers   int
	Submitted int64
	Rejected  int64
	Executed  int64
	Panicked  int64
}

// Pool 是固定大小的 worker 池，状态机为 Running -> Draining -> Terminated。
//
// 并发约束：
// - 一把 mu 同时保护 {queue, accepting, shutdown}
// - notEmpty：入队时 Signal，唤醒一个等待的 worker；进入 Terminated 时 Broadcast
// - drained：draining 期间队列被取空时 Signal，唤醒阻塞在 Shutdown 的调用方
// - 判断 accepting 与入队必须在同一临界区内，否则 drain 期间可能丢任务
type Pool[T any] struct {
	handle  func(T)
	onPanic func(T, any)
	size    int

	mu        sync.Mutex
	notEmpty  *sync.Cond
	drained   *sync.Cond
	q         queue[T]
	accepting bool
	shutdown  bool

	wg       sync.WaitGroup
	stopOnce sync.Once

	submitted atomic.Int64
	rejected  atomic.Int64
	executed  atomic.Int64
	panicked  atomic.Int64
}

// New 创建并启动 n 个 worker，每个 worker 对取到的任务调用 handle。
func New[T any](n int, handle func(T), opts Options[T]) (*Pool[T], error) {
	if n < 1 {
		return nil, ErrInvalidSize
	}
	if handle == nil {
		return nil, errors.New("pool: handle 不能为空")
	}

	p := &Pool[T]{
		handle:    handle,
		onPanic:   opts.OnPanic,
		size:      n,
		accepting: true,
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.drained = sync.NewCond(&p.mu)

	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit 把一个任务交给池。不会阻塞调用方。
// 池已不再接收时返回 ErrNotAccepting，任务被丢弃。
func (p *Pool[T]) Submit(task T) error {
	p.mu.Lock()
	if !p.accepting {
		p.mu.Unlock()
		p.rejected.Add(1)
		return ErrNotAccepting
	}
	p.q.push(task)
	p.submitted.Add(1)
	p.notEmpty.Signal()
	p.mu.Unlock()
	return nil
}

// Shutdown 停止接收新任务，等待已提交的任务全部执行完，然后让所有 worker 退出。
// 返回时保证：不再有任务在执行，也没有 worker 存活。可重复调用。
func (p *Pool[T]) Shutdown() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.accepting = false
		for p.q.len() > 0 {
			p.drained.Wait()
		}
		p.shutdown = true
		p.notEmpty.Broadcast()
		p.mu.Unlock()

		// 队列空不代表任务已执行完：正在执行的任务由 wg 兜住。
		p.wg.Wait()
	})
}

// Stats 返回计数快照。
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:   p.size,
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Executed:  p.executed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		p.run(task)
	}
}

// next 阻塞直到取到任务；池进入 Terminated 且队列为空时返回 ok=false。
func (p *Pool[T]) next() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 必须用循环：被唤醒不代表一定有任务（虚假唤醒 / 被其它 worker 抢先）。
	for p.q.len() == 0 && !p.shutdown {
		p.notEmpty.Wait()
	}
	task, ok := p.q.pop()
	if !ok {
		return task, false
	}
	if !p.accepting && p.q.len() == 0 {
		p.drained.Signal()
	}
	return task, true
}

// run 执行单个任务；任务内的 panic 被限制在该任务内，worker 继续存活。
func (p *Pool[T]) run(task T) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			if p.onPanic != nil {
				p.onPanic(task, r)
			}
		}
		p.executed.Add(1)
	}()
	p.handle(task)
}
