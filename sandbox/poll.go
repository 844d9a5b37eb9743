package sandbox

import (
	"context"
	"time"

	"github.com/qiniu/sandbox-sdk-go/backoff"
)

const defaultPollInterval = time.Second

// PollOption 配置轮询行为的选项。
type PollOption func(*pollOpts)

type pollOpts struct {
	backoff backoff.Backoff
	onPoll  func(attempt int)
}

// WithPollInterval 设置固定的轮询间隔。
func WithPollInterval(d time.Duration) PollOption {
	return func(o *pollOpts) { o.backoff = backoff.NewFixedBackoff(d) }
}

// WithBackoff 使用指定的退避器计算轮询间隔。
func WithBackoff(b backoff.Backoff) PollOption {
	return func(o *pollOpts) { o.backoff = b }
}

// WithOnPoll 设置每次轮询时的回调函数，attempt 从 1 开始递增。
func WithOnPoll(fn func(attempt int)) PollOption {
	return func(o *pollOpts) { o.onPoll = fn }
}

func applyPollOpts(opts []PollOption) *pollOpts {
	o := &pollOpts{backoff: backoff.NewFixedBackoff(defaultPollInterval)}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// pollLoop 反复调用 pollFn 直到其返回 done 或错误，两次调用之间按退避器等待。
func pollLoop[T any](ctx context.Context, opts *pollOpts, pollFn func() (bool, T, error)) (T, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; ; attempt++ {
		if opts.onPoll != nil {
			opts.onPoll(attempt)
		}

		done, result, err := pollFn()
		if err != nil || done {
			return result, err
		}

		interval := opts.backoff.Time(ctx, &backoff.BackoffOptions{Attempts: attempt - 1})
		if timer == nil {
			timer = time.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
