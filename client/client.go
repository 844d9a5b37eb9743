package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/qiniu/sandbox-sdk-go/circuitbreaker"
	sdkerrors "github.com/qiniu/sandbox-sdk-go/errors"
	"github.com/qiniu/sandbox-sdk-go/internal/clientv2"
	"github.com/qiniu/sandbox-sdk-go/internal/log"
	"github.com/qiniu/sandbox-sdk-go/queue"
	"github.com/qiniu/sandbox-sdk-go/transport"
)

const breakerOpenReason = "circuit breaker open"

// Client 组合传输、熔断器、请求队列和错误转换，所有领域客户端共享同一个 Client
//
// 每个请求依次经过：请求队列准入、熔断器检查、传输层发送。连接类错误和 5xx 响应计为熔断器失败，其余结果计为成功。
// 熔断器打开时清空排队中的请求。
type Client struct {
	transport   transport.Transport
	breaker     *circuitbreaker.Breaker
	queue       *queue.Queue
	metrics     *metrics
	unsubscribe func()
}

// New 根据配置创建客户端，不会立即建立连接
func New(config *Config) (*Client, error) {
	if config == nil {
		config = &Config{}
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	t, err := newTransport(config)
	if err != nil {
		return nil, err
	}

	breakerOptions := config.Breaker
	queueOptions := config.Queue
	c := &Client{
		transport: t,
		breaker:   circuitbreaker.New(&breakerOptions),
		queue:     queue.New(&queueOptions),
	}
	clientID := config.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	if c.metrics, err = newMetrics(config.Registerer, string(t.Mode()), clientID, c.queue); err != nil {
		t.Close()
		return nil, err
	}
	c.unsubscribe = c.breaker.OnStateChange(c.onBreakerStateChange)
	return c, nil
}

func newTransport(config *Config) (transport.Transport, error) {
	if config.Transport != nil {
		return config.Transport, nil
	}

	switch config.mode() {
	case transport.ModeWebSocket:
		wsURL, err := config.webSocketURL()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		var d transport.Dialer
		if config.HostConnector != nil {
			d = &transport.HostDialer{Connector: config.HostConnector}
		} else {
			d = transport.NewDirectDialer()
		}
		return transport.NewWebSocketTransport(transport.WebSocketOptions{
			URL:               wsURL,
			Dialer:            d,
			Header:            config.Header,
			RequestTimeout:    config.RequestTimeout,
			StreamIdleTimeout: config.StreamIdleTimeout,
		}), nil
	default:
		httpClient := config.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Transport: DefaultTransport}
		}
		startupRetry := config.StartupRetry
		if config.StartupRetryBudget > 0 {
			startupRetry.Budget = config.StartupRetryBudget
		}
		return transport.NewHTTPTransport(transport.HTTPOptions{
			BaseURL:      config.BaseURL,
			HTTPClient:   httpClient,
			Header:       config.Header,
			StartupRetry: startupRetry,
		})
	}
}

func (c *Client) onBreakerStateChange(to, from circuitbreaker.State) {
	c.metrics.stateChanged(to)
	if to == circuitbreaker.StateOpen {
		cleared := c.queue.Clear(breakerOpenReason)
		log.Warn("circuit breaker opened", "from", from.String(), "cleared", cleared)
		return
	}
	log.Info("circuit breaker state changed", "from", from.String(), "to", to.String())
}

func (c *Client) Transport() transport.Transport {
	return c.transport
}

func (c *Client) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

func (c *Client) Queue() *queue.Queue {
	return c.queue
}

// Connect 提前建立传输层连接，HTTP 模式下不做任何事
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Close 断开传输层连接，排队中的请求被拒绝
func (c *Client) Close() error {
	c.unsubscribe()
	c.queue.Clear("client closed")
	c.metrics.close()
	return c.transport.Close()
}

// DoJSON 发送 JSON 请求并将 2xx 响应解析到 ret，ret 为 nil 时丢弃响应体
func (c *Client) DoJSON(ctx context.Context, method, path string, body, ret interface{}) error {
	return c.do(ctx, method, path, func(ctx context.Context) error {
		resp, err := c.transport.Fetch(ctx, &transport.Request{Method: method, Path: path, Body: body})
		if err != nil {
			return err
		}
		if resp.StatusCode/100 != 2 {
			return sdkerrors.FromResponse(resp.StatusCode, resp.Body)
		}
		if ret == nil || len(resp.Body) == 0 {
			return nil
		}
		if err = json.Unmarshal(resp.Body, ret); err != nil {
			return &decodeError{err: err}
		}
		return nil
	})
}

// DoStream 发送流式请求，返回 "data: ...\n\n" 格式的事件流，调用方负责关闭
//
// 请求队列的名额只在建立流的过程中占用，流开始后即释放。
func (c *Client) DoStream(ctx context.Context, method, path string, body interface{}) (io.ReadCloser, error) {
	var stream io.ReadCloser
	err := c.do(ctx, method, path, func(ctx context.Context) (err error) {
		stream, err = c.transport.FetchStream(ctx, &transport.Request{Method: method, Path: path, Body: body})
		return err
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *Client) do(ctx context.Context, method, path string, fn func(ctx context.Context) error) error {
	started := time.Now()
	release, err := c.queue.Acquire(ctx)
	if err != nil {
		c.metrics.observe(outcomeRejected, started)
		log.Warn("sandbox request rejected by queue", "method", method, "path", path, "error", err)
		return err
	}
	defer release()

	if err = c.breaker.Allow(); err != nil {
		c.metrics.observe(outcomeRejected, started)
		return err
	}

	err = convertError(fn(ctx))
	c.record(ctx, err)
	if err == nil {
		c.metrics.observe(outcomeSuccess, started)
		return nil
	}

	c.metrics.observe(outcomeError, started)
	if !sdkerrors.IsExpected(err) {
		log.Warn("sandbox request failed", "method", method, "path", path, "error", err)
	}
	return err
}

func (c *Client) record(ctx context.Context, err error) {
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// 调用方主动取消，不影响熔断器
	case isServiceFailure(err):
		c.breaker.RecordFailure()
	default:
		c.breaker.RecordSuccess()
	}
}

// isServiceFailure 判断错误是否反映下游不健康：5xx 响应或连接类错误
func isServiceFailure(err error) bool {
	var statusErr interface{ HTTPStatus() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus() >= http.StatusInternalServerError
	}
	var decodeErr *decodeError
	return !errors.As(err, &decodeErr)
}

func convertError(err error) error {
	if err == nil {
		return nil
	}
	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) {
		return sdkerrors.FromResponse(statusErr.StatusCode, statusErr.Body)
	}
	var frameErr *transport.FrameError
	if errors.As(err, &frameErr) {
		return sdkerrors.Wrap(&sdkerrors.APIError{
			StatusCode: frameErr.StatusCode,
			Code:       frameErr.Code,
			Message:    frameErr.Message,
		})
	}
	if errors.Is(err, clientv2.ErrNoResponse) {
		return fmt.Errorf("%w: %v", transport.ErrConnectionClosed, err)
	}
	return err
}

type decodeError struct {
	err error
}

func (e *decodeError) Error() string {
	return "failed to decode response: " + e.err.Error()
}

func (e *decodeError) Unwrap() error {
	return e.err
}
