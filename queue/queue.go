package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type (
	// Options 请求队列选项
	Options struct {
		// MaxConcurrent 同时执行的请求数上限，默认 10
		MaxConcurrent int
		// MaxQueued 排队等待的请求数上限，默认 100，超出后立即返回 ErrQueueFull
		MaxQueued int
		// Timeout 排队等待的最长时间，默认 30s，超时返回 *TimeoutError
		Timeout time.Duration
		// Rate 每秒最多放行的请求数，0 表示不限制
		Rate float64
		// Burst 配合 Rate 使用的突发容量，默认 1
		Burst int
	}

	// Stats 请求队列统计信息
	Stats struct {
		Active     int
		Queued     int
		Dispatched uint64
		Rejected   uint64
		TimedOut   uint64
		Cleared    uint64
	}

	// TimeoutError 请求排队超时
	TimeoutError struct {
		Waited time.Duration
	}

	// ClearedError 请求在排队期间被 Clear 移出队列
	ClearedError struct {
		Reason string
	}

	// Queue 是与传输方式无关的请求准入控制，按 FIFO 顺序放行
	Queue struct {
		options Options
		limiter *rate.Limiter

		mu      sync.Mutex
		active  int
		waiters []*waiter
		stats   Stats
	}

	waiter struct {
		ready      chan struct{}
		err        error
		enqueuedAt time.Time
	}
)

const (
	DefaultMaxConcurrent = 10
	DefaultMaxQueued     = 100
	DefaultTimeout       = 30 * time.Second
)

var ErrQueueFull = errors.New("request queue is full")

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request queue timeout after %s", e.Waited.Round(time.Millisecond))
}

func (e *ClearedError) Error() string {
	return "request queue cleared: " + e.Reason
}

func (o *Options) init() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.MaxQueued <= 0 {
		o.MaxQueued = DefaultMaxQueued
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
}

// New 创建请求队列
func New(options *Options) *Queue {
	var o Options
	if options != nil {
		o = *options
	}
	o.init()
	q := &Queue{options: o}
	if o.Rate > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(o.Rate), o.Burst)
	}
	return q
}

// Acquire 获取一个执行名额，成功后必须调用 release 归还
//
// 有空闲名额且没有更早的排队者时立即返回，否则排队等待直到被放行、超时、ctx 取消或队列被清空。
func (q *Queue) Acquire(ctx context.Context) (release func(), err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.active < q.options.MaxConcurrent && len(q.waiters) == 0 {
		q.active++
		q.stats.Dispatched++
		q.mu.Unlock()
		return q.admit(ctx)
	}
	if len(q.waiters) >= q.options.MaxQueued {
		q.stats.Rejected++
		q.mu.Unlock()
		return nil, ErrQueueFull
	}
	w := &waiter{ready: make(chan struct{}), enqueuedAt: time.Now()}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	timer := time.NewTimer(q.options.Timeout)
	defer timer.Stop()

	select {
	case <-w.ready:
	case <-timer.C:
		if q.remove(w, true) {
			return nil, &TimeoutError{Waited: time.Since(w.enqueuedAt)}
		}
		<-w.ready
	case <-ctx.Done():
		if q.remove(w, false) {
			return nil, ctx.Err()
		}
		<-w.ready
		if w.err == nil {
			q.release()
			return nil, ctx.Err()
		}
	}

	if w.err != nil {
		return nil, w.err
	}
	return q.admit(ctx)
}

// Do 在获取执行名额后调用 fn
func (q *Queue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := q.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Clear 以 reason 拒绝所有排队中的请求，已放行的请求不受影响，返回被拒绝的数量
func (q *Queue) Clear(reason string) int {
	q.mu.Lock()
	waiters := q.waiters
	q.waiters = nil
	q.stats.Cleared += uint64(len(waiters))
	q.mu.Unlock()

	for _, w := range waiters {
		w.err = &ClearedError{Reason: reason}
		close(w.ready)
	}
	return len(waiters)
}

// Stats 返回统计信息
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := q.stats
	stats.Active = q.active
	stats.Queued = len(q.waiters)
	return stats
}

// admit 在名额已占用后等待速率限制，并返回幂等的 release
func (q *Queue) admit(ctx context.Context) (func(), error) {
	var once sync.Once
	release := func() { once.Do(q.release) }
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			release()
			return nil, err
		}
	}
	return release, nil
}

func (q *Queue) release() {
	q.mu.Lock()
	q.active--
	var next *waiter
	if len(q.waiters) > 0 && q.active < q.options.MaxConcurrent {
		next = q.waiters[0]
		q.waiters = slices.Delete(q.waiters, 0, 1)
		q.active++
		q.stats.Dispatched++
	}
	q.mu.Unlock()

	if next != nil {
		close(next.ready)
	}
}

// remove 将仍在排队的 w 移出队列，w 已被放行或清空时返回 false
func (q *Queue) remove(w *waiter, timedOut bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, candidate := range q.waiters {
		if candidate == w {
			q.waiters = slices.Delete(q.waiters, i, i+1)
			if timedOut {
				q.stats.TimedOut++
			}
			return true
		}
	}
	return false
}
