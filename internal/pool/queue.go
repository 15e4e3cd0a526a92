package pool

// compactThreshold 之前不做搬移：小队列直接靠 head 归零回收。
const compactThreshold = 1024

// queue 是无界 FIFO。自身不加锁，由 Pool.mu 保护。
type queue[T any] struct {
	buf  []T
	head int
}

func (q *queue[T]) push(v T) {
	q.buf = append(q.buf, v)
}

func (q *queue[T]) pop() (T, bool) {
	var zero T
	if q.head >= len(q.buf) {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero // 释放引用，任务的所有权已转交给调用方
	q.head++

	switch {
	case q.head == len(q.buf):
		q.buf = q.buf[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.buf):
		n := copy(q.buf, q.buf[q.head:])
		clear(q.buf[n:])
		q.buf = q.buf[:n]
		q.head = 0
	}
	return v, true
}

func (q *queue[T]) len() int {
	return len(q.buf) - q.head
}
