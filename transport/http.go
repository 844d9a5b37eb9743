package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/qiniu/sandbox-sdk-go/conf"
	"github.com/qiniu/sandbox-sdk-go/internal/clientv2"
)

// StartupRetryOptions 冷启动重试选项：总时长 Budget、剩余时长下限 MinRemaining、等待策略 Backoff 与判定策略 Retrier
type StartupRetryOptions = clientv2.StartupRetryOptions

// HTTPOptions HTTP 传输选项
type HTTPOptions struct {
	// BaseURL 容器 HTTP API 地址，如 http://127.0.0.1:3000
	BaseURL string
	// HTTPClient 为空时使用 http.DefaultClient
	HTTPClient clientv2.Client
	// Header 每个请求额外携带的 Header
	Header http.Header
	// StartupRetry 冷启动重试选项，零值使用默认的 120s 预算
	StartupRetry StartupRetryOptions
}

// HTTPTransport 每个逻辑请求发起一次 HTTP 调用，调用前后由冷启动重试拦截器兜底
type HTTPTransport struct {
	baseURL string
	client  clientv2.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport 创建 HTTP 传输
func NewHTTPTransport(options HTTPOptions) (*HTTPTransport, error) {
	u, err := url.Parse(options.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid base url: %w", err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("transport: unsupported base url scheme %q", u.Scheme)
	}

	interceptors := []clientv2.Interceptor{clientv2.NewStartupRetryInterceptor(options.StartupRetry)}
	if len(options.Header) > 0 {
		interceptors = append(interceptors, newHeaderInterceptor(options.Header.Clone()))
	}

	return &HTTPTransport{
		baseURL: strings.TrimSuffix(options.BaseURL, "/"),
		client:  clientv2.NewClient(options.HTTPClient, interceptors...),
	}, nil
}

// newHeaderInterceptor 为每次发送（包括重试）补充 header 中请求尚未设置的字段
func newHeaderInterceptor(header http.Header) clientv2.Interceptor {
	return clientv2.NewSimpleInterceptorWithPriority(clientv2.InterceptorPrioritySetHeader, func(req *http.Request, handler clientv2.Handler) (*http.Response, error) {
		for key, values := range header {
			if _, ok := req.Header[key]; !ok {
				req.Header[key] = append([]string(nil), values...)
			}
		}
		return handler(req)
	})
}

func (t *HTTPTransport) Mode() Mode {
	return ModeHTTP
}

func (t *HTTPTransport) Connect(context.Context) error {
	return nil
}

func (t *HTTPTransport) Close() error {
	return nil
}

func (t *HTTPTransport) Fetch(ctx context.Context, req *Request) (*Response, error) {
	resp, err := t.do(ctx, req, conf.CONTENT_TYPE_JSON)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func (t *HTTPTransport) FetchStream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	resp, err := t.do(ctx, req, conf.CONTENT_TYPE_EVENT_STREAM)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return resp.Body, nil
}

func (t *HTTPTransport) do(ctx context.Context, req *Request, accept string) (*http.Response, error) {
	header := http.Header{}
	header.Set("Accept", accept)

	params := clientv2.RequestParams{
		Context: ctx,
		Method:  req.method(),
		Url:     t.baseURL + req.path(),
		Header:  header,
	}
	if req.Body != nil {
		getBody, err := clientv2.GetJsonRequestBody(req.Body)
		if err != nil {
			return nil, err
		}
		params.GetBody = getBody
	}
	return clientv2.Do(t.client, params)
}
