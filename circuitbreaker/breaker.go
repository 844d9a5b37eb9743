package circuitbreaker

import (
	"fmt"
	"sync"
	"time"
)

type (
	// State 熔断器状态
	State int

	// Options 熔断器选项
	Options struct {
		// FailureThreshold 在 FailureWindow 内累计失败达到该次数后熔断，默认 5
		FailureThreshold int
		// FailureWindow 失败计数的滑动窗口，默认 30s
		FailureWindow time.Duration
		// RecoveryTimeout 熔断后经过该时长进入半开状态，默认 10s
		RecoveryTimeout time.Duration
		// SuccessThreshold 半开状态下连续成功达到该次数后恢复，默认 2
		SuccessThreshold int
		// Now 返回当前时间，用于测试
		Now func() time.Time
	}

	// Stats 熔断器统计信息
	Stats struct {
		State           State
		Failures        int
		Successes       int
		OpenedAt        time.Time
		RecoveryRemains time.Duration
	}

	// OpenError 熔断器处于打开状态时返回的错误
	OpenError struct {
		// Remaining 距离进入半开状态的剩余时间
		Remaining time.Duration
	}

	// Breaker 熔断器
	//
	// 状态转换只在 Allow/CanExecute/RecordSuccess/RecordFailure 中发生，不依赖后台定时器。
	Breaker struct {
		options Options

		mu        sync.Mutex
		state     State
		failures  []time.Time
		successes int
		openedAt  time.Time

		observersMu sync.Mutex
		observers   map[int]func(to, from State)
		nextID      int
	}
)

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

const (
	DefaultFailureThreshold = 5
	DefaultFailureWindow    = 30 * time.Second
	DefaultRecoveryTimeout  = 10 * time.Second
	DefaultSuccessThreshold = 2
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open, retry after %s", e.Remaining.Round(time.Millisecond))
}

func (o *Options) init() {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.FailureWindow <= 0 {
		o.FailureWindow = DefaultFailureWindow
	}
	if o.RecoveryTimeout <= 0 {
		o.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = DefaultSuccessThreshold
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// New 创建熔断器
func New(options *Options) *Breaker {
	var o Options
	if options != nil {
		o = *options
	}
	o.init()
	return &Breaker{options: o, observers: make(map[int]func(to, from State))}
}

// CanExecute 判断当前是否允许发起调用
func (b *Breaker) CanExecute() bool {
	return b.Allow() == nil
}

// Allow 判断当前是否允许发起调用，不允许时返回 *OpenError
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var transition func()
	defer func() {
		b.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	now := b.options.Now()
	switch b.state {
	case StateOpen:
		elapsed := now.Sub(b.openedAt)
		if elapsed < b.options.RecoveryTimeout {
			return &OpenError{Remaining: b.options.RecoveryTimeout - elapsed}
		}
		transition = b.setState(StateHalfOpen)
		b.successes = 0
		return nil
	case StateClosed:
		b.pruneFailures(now)
	}
	return nil
}

// Execute 在熔断器保护下执行 fn，并根据结果记录成功或失败
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Do 是 Execute 的泛型版本
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var result T
	err := b.Execute(func() (err error) {
		result, err = fn()
		return
	})
	return result, err
}

// RecordSuccess 记录一次成功调用
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	var transition func()
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.options.SuccessThreshold {
			transition = b.setState(StateClosed)
			b.failures = nil
			b.successes = 0
			b.openedAt = time.Time{}
		}
	}
	b.mu.Unlock()
	if transition != nil {
		transition()
	}
}

// RecordFailure 记录一次失败调用
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	var transition func()
	now := b.options.Now()
	switch b.state {
	case StateHalfOpen:
		transition = b.trip(now)
	case StateClosed:
		b.pruneFailures(now)
		b.failures = append(b.failures, now)
		if len(b.failures) >= b.options.FailureThreshold {
			transition = b.trip(now)
		}
	}
	b.mu.Unlock()
	if transition != nil {
		transition()
	}
}

// Reset 将熔断器恢复到关闭状态并清空所有计数
func (b *Breaker) Reset() {
	b.mu.Lock()
	transition := b.setState(StateClosed)
	b.failures = nil
	b.successes = 0
	b.openedAt = time.Time{}
	b.mu.Unlock()
	if transition != nil {
		transition()
	}
}

// State 返回当前状态，不会触发状态转换
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats 返回统计信息
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.options.Now()
	if b.state == StateClosed {
		b.pruneFailures(now)
	}
	stats := Stats{
		State:     b.state,
		Failures:  len(b.failures),
		Successes: b.successes,
		OpenedAt:  b.openedAt,
	}
	if b.state == StateOpen {
		if remains := b.options.RecoveryTimeout - now.Sub(b.openedAt); remains > 0 {
			stats.RecoveryRemains = remains
		}
	}
	return stats
}

// OnStateChange 注册状态变更回调，返回的函数用于取消注册
func (b *Breaker) OnStateChange(fn func(to, from State)) (unsubscribe func()) {
	b.observersMu.Lock()
	id := b.nextID
	b.nextID++
	b.observers[id] = fn
	b.observersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.observersMu.Lock()
			delete(b.observers, id)
			b.observersMu.Unlock()
		})
	}
}

// trip 必须在持有 b.mu 时调用
func (b *Breaker) trip(now time.Time) func() {
	transition := b.setState(StateOpen)
	b.openedAt = now
	b.successes = 0
	return transition
}

// setState 必须在持有 b.mu 时调用，返回的函数在释放锁后通知观察者
func (b *Breaker) setState(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	return func() { b.notify(to, from) }
}

func (b *Breaker) notify(to, from State) {
	b.observersMu.Lock()
	observers := make([]func(to, from State), 0, len(b.observers))
	for _, fn := range b.observers {
		observers = append(observers, fn)
	}
	b.observersMu.Unlock()

	for _, fn := range observers {
		fn(to, from)
	}
}

// pruneFailures 必须在持有 b.mu 时调用
func (b *Breaker) pruneFailures(now time.Time) {
	cutoff := now.Add(-b.options.FailureWindow)
	i := 0
	for i < len(b.failures) && !b.failures[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.failures = append(b.failures[:0], b.failures[i:]...)
	}
}
