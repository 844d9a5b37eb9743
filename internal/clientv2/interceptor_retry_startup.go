package clientv2

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/qiniu/sandbox-sdk-go/backoff"
	"github.com/qiniu/sandbox-sdk-go/internal/log"
	"github.com/qiniu/sandbox-sdk-go/retrier"
)

const (
	DefaultStartupRetryBudget       = 120 * time.Second
	DefaultStartupRetryMinRemaining = 15 * time.Second
)

// StartupRetryOptions 容器冷启动重试选项
type StartupRetryOptions struct {
	// Budget 从第一次请求开始计算的总重试时长，默认 120s
	Budget time.Duration
	// MinRemaining 剩余时长不超过该值时不再重试，默认 15s
	MinRemaining time.Duration
	// Backoff 默认为 backoff.NewStartupBackoff()
	Backoff backoff.Backoff
	// Retrier 默认为 retrier.NewStartupRetrier()
	Retrier retrier.Retrier
	Now     func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
}

func (o *StartupRetryOptions) init() {
	if o.Budget <= 0 {
		o.Budget = DefaultStartupRetryBudget
	}
	if o.MinRemaining <= 0 {
		o.MinRemaining = DefaultStartupRetryMinRemaining
	}
	if o.Backoff == nil {
		o.Backoff = backoff.NewStartupBackoff()
	}
	if o.Retrier == nil {
		o.Retrier = retrier.NewStartupRetrier()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

type startupRetryInterceptor struct {
	options StartupRetryOptions
}

// NewStartupRetryInterceptor 创建吸收容器冷启动错误的重试拦截器
//
// 每次失败后由 Retrier 判断是否可重试，可重试且剩余时长大于 MinRemaining 时按 Backoff 等待后重发请求，
// 否则原样返回最后一次的响应和错误。
func NewStartupRetryInterceptor(options StartupRetryOptions) Interceptor {
	options.init()
	return &startupRetryInterceptor{options: options}
}

func (r *startupRetryInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityRetryStartup
}

func (r *startupRetryInterceptor) Intercept(req *http.Request, handler Handler) (resp *http.Response, err error) {
	if err = makeRequestReplayable(req); err != nil {
		return nil, err
	}

	ctx := req.Context()
	startedAt := r.options.Now()
	for attempts := 0; ; attempts++ {
		attemptReq, e := cloneRequest(req)
		if e != nil {
			return resp, e
		}
		resp, err = handler(attemptReq)

		decision := r.options.Retrier.Retry(resp, err, &retrier.RetrierOptions{Attempts: attempts})
		if decision != retrier.RetryRequest {
			return resp, err
		}

		remaining := r.options.Budget - r.options.Now().Sub(startedAt)
		if remaining <= r.options.MinRemaining {
			log.Warn("container startup retry budget exhausted", "url", req.URL.String(), "attempts", attempts+1)
			return resp, err
		}

		wait := r.options.Backoff.Time(ctx, &backoff.BackoffOptions{Attempts: attempts})
		log.Info("container is starting, retrying", "url", req.URL.String(), "attempt", attempts+1, "wait", wait, "error", err)
		drainResponse(resp)
		if err = r.options.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func makeRequestReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.ContentLength = int64(len(body))
	return nil
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	cloned := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		cloned.Body = body
	}
	return cloned, nil
}

func drainResponse(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
