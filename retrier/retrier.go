package retrier

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"

	"github.com/qiniu/sandbox-sdk-go/backoff"
)

type (
	// RetryDecision 重试决策
	RetryDecision int
	// RetrierOptions 重试器选项
	RetrierOptions backoff.BackoffOptions

	// Retrier 重试器接口
	Retrier interface {
		// Retry 判断是否重试，response 与 err 至多一个为空
		Retry(*http.Response, error, *RetrierOptions) RetryDecision
	}

	dialRetrier    struct{}
	startupRetrier struct{}
)

const (
	// 不再重试
	DontRetry RetryDecision = iota

	// 重试当前请求
	RetryRequest
)

// NewDialRetrier 创建建立连接使用的重试器
//
// 连接被拒绝、重置、超时、DNS 未找到等网络错误，以及握手时返回的 5xx 响应会重试；
// 调用方取消、ctx 超时和其他状态码不重试。
func NewDialRetrier() Retrier {
	return dialRetrier{}
}

func (dialRetrier) Retry(response *http.Response, err error, _ *RetrierOptions) RetryDecision {
	if response != nil && isStatusCodeRetryable(response.StatusCode) {
		return RetryRequest
	}
	return decisionForError(err)
}

func isStatusCodeRetryable(statusCode int) bool {
	if statusCode < http.StatusInternalServerError {
		return false
	}
	switch statusCode {
	case http.StatusNotImplemented, http.StatusHTTPVersionNotSupported, http.StatusLoopDetected:
		return false
	}
	return true
}

func decisionForError(err error) RetryDecision {
	if err == nil {
		return DontRetry
	}

	cause := unwrapNetworkError(err)
	switch {
	case cause == context.DeadlineExceeded, cause == context.Canceled:
		return DontRetry
	case os.IsTimeout(cause):
		return RetryRequest
	}

	switch e := cause.(type) {
	case *net.DNSError:
		if e.IsNotFound {
			return RetryRequest
		}
		return DontRetry
	case syscall.Errno:
		switch e {
		case syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.ECONNRESET:
			return RetryRequest
		}
		return DontRetry
	}

	desc := cause.Error()
	if strings.Contains(desc, "use of closed network connection") ||
		strings.Contains(desc, "transport connection broken") ||
		strings.Contains(desc, "server closed idle connection") {
		return RetryRequest
	}
	return DontRetry
}

// unwrapNetworkError 剥离 url/net/os 与 fmt 的包装，多错误取第一个
func unwrapNetworkError(err error) error {
	for {
		switch e := err.(type) {
		case *url.Error:
			err = e.Err
		case *net.OpError:
			err = e.Err
		case *os.SyscallError:
			err = e.Err
		case *os.PathError:
			err = e.Err
		case *net.DNSError:
			return err
		case interface{ Unwrap() error }:
			inner := e.Unwrap()
			if inner == nil {
				return err
			}
			err = inner
		case interface{ Unwrap() []error }:
			errs := e.Unwrap()
			if len(errs) == 0 {
				return err
			}
			err = errs[0]
		default:
			return err
		}
	}
}
