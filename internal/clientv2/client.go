package clientv2

import (
	"errors"
	"net/http"
	"sort"
)

// ErrNoResponse 底层 HTTP 客户端既没有返回响应也没有返回错误
var ErrNoResponse = errors.New("unknown error, no response")

type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

type Handler func(req *http.Request) (*http.Response, error)

type client struct {
	coreClient   Client
	interceptors interceptorList
}

// NewClient 创建带拦截器链的 HTTP 客户端，cli 为 nil 时使用 http.DefaultClient
//
// 除传入的拦截器外，总会追加默认 Header 拦截器和调试拦截器，按优先级排序后依次执行。
func NewClient(cli Client, interceptors ...Interceptor) Client {
	if cli == nil {
		cli = http.DefaultClient
	}

	is := make(interceptorList, 0, len(interceptors)+2)
	is = append(is, interceptors...)
	is = append(is, newDefaultHeaderInterceptor())
	is = append(is, newDebugInterceptor())
	sort.Stable(is)

	return &client{
		coreClient:   cli,
		interceptors: is,
	}
}

func (c *client) Do(req *http.Request) (*http.Response, error) {
	handler := func(req *http.Request) (*http.Response, error) {
		return c.coreClient.Do(req)
	}

	// 优先级最高的拦截器位于最外层
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		h := handler
		interceptor := c.interceptors[i]
		handler = func(r *http.Request) (*http.Response, error) {
			return interceptor.Intercept(r, h)
		}
	}

	return handleResponseAndError(handler(req))
}

// Do 按 options 构造请求并发送，非 2xx 响应同样作为正常响应返回
func Do(c Client, options RequestParams) (*http.Response, error) {
	req, err := NewRequest(options)
	if err != nil {
		return nil, err
	}

	return handleResponseAndError(c.Do(req))
}

func handleResponseAndError(resp *http.Response, err error) (*http.Response, error) {
	if err != nil {
		return resp, err
	}

	if resp == nil {
		return nil, ErrNoResponse
	}

	return resp, nil
}
