package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Mode 传输模式
type Mode string

const (
	ModeHTTP      Mode = "http"
	ModeWebSocket Mode = "websocket"
)

// ErrConnectionClosed 连接断开，所有未完成的请求都会以该错误结束
var ErrConnectionClosed = errors.New("transport: connection closed")

type (
	// Transport 将逻辑请求发送到容器 HTTP API
	//
	// Fetch 返回的非 2xx 响应不视为错误，由调用方决定如何处理；FetchStream 在非 2xx 时返回 *StatusError。
	Transport interface {
		Mode() Mode
		// Connect 建立底层连接，HTTP 模式下不做任何事
		Connect(ctx context.Context) error
		// Close 断开底层连接
		Close() error
		Fetch(ctx context.Context, req *Request) (*Response, error)
		// FetchStream 返回 "data: ...\n\n" 格式的事件流
		FetchStream(ctx context.Context, req *Request) (io.ReadCloser, error)
	}

	// Request 逻辑请求，Body 非空时以 JSON 发送
	Request struct {
		Method string
		Path   string
		Body   interface{}
	}

	// Response 逻辑响应，Body 为原始 JSON 字节
	Response struct {
		StatusCode int
		Body       []byte
	}

	// StatusError 流式请求收到非 2xx 响应
	StatusError struct {
		StatusCode int
		Body       []byte
	}

	// FrameError 服务端通过 error 帧拒绝了请求
	FrameError struct {
		StatusCode int
		Code       string
		Message    string
	}

	TimeoutKind string

	// TimeoutError 请求在限定时间内没有完成
	TimeoutError struct {
		Kind  TimeoutKind
		After time.Duration
	}
)

const (
	TimeoutKindRequest    TimeoutKind = "request"
	TimeoutKindStreamIdle TimeoutKind = "stream idle"
)

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

func (r *Request) path() string {
	if strings.HasPrefix(r.Path, "/") {
		return r.Path
	}
	return "/" + r.Path
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: unexpected status %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("transport: %s (code=%s, status=%d)", e.Message, e.Code, e.StatusCode)
}

func (e *FrameError) HTTPStatus() int {
	return e.StatusCode
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: %s timeout after %s", e.Kind, e.After)
}

func (e *TimeoutError) Timeout() bool {
	return true
}
