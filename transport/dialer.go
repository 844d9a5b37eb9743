package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/alex-ant/gomath/rational"
	"github.com/gorilla/websocket"

	"github.com/qiniu/sandbox-sdk-go/backoff"
	"github.com/qiniu/sandbox-sdk-go/internal/dialer"
	"github.com/qiniu/sandbox-sdk-go/internal/log"
	"github.com/qiniu/sandbox-sdk-go/retrier"
)

type (
	// Dialer 建立 WebSocket 连接的策略
	Dialer interface {
		Dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)
	}

	// HostConnector 由宿主提供的到容器端口的原始连接
	HostConnector interface {
		ConnectSocket(ctx context.Context) (net.Conn, error)
	}

	// HostConnectorFunc 将函数适配为 HostConnector
	HostConnectorFunc func(ctx context.Context) (net.Conn, error)

	// DirectDialer 直接拨号 WebSocket 地址
	//
	// TCP 连接对主机名解析出的所有 IP 错峰拨号；Retrier 判定可重试的失败按 Backoff 重试 RetryMax 次。
	DirectDialer struct {
		HandshakeTimeout time.Duration
		DialOptions      dialer.DialOptions
		RetryMax         int
		Backoff          backoff.Backoff
		// Retrier 为空时使用 retrier.NewDialRetrier()
		Retrier retrier.Retrier
	}

	// HostDialer 通过宿主取得原始连接，再在该连接上完成 WebSocket 升级
	HostDialer struct {
		Connector        HostConnector
		HandshakeTimeout time.Duration
	}
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultDialRetryMax     = 2
	defaultDialRetryBackoff = 200 * time.Millisecond
)

var (
	_ Dialer = (*DirectDialer)(nil)
	_ Dialer = (*HostDialer)(nil)
)

func (f HostConnectorFunc) ConnectSocket(ctx context.Context) (net.Conn, error) {
	return f(ctx)
}

// NewDirectDialer 创建使用默认选项的 DirectDialer
func NewDirectDialer() *DirectDialer {
	return &DirectDialer{
		RetryMax: defaultDialRetryMax,
		Backoff: backoff.NewRandomizedBackoff(
			backoff.NewExponentialBackoff(defaultDialRetryBackoff, 2),
			rational.New(1, 2), rational.New(3, 2),
		),
		Retrier: retrier.NewDialRetrier(),
	}
}

func (d *DirectDialer) Dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	wsDialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout(d.HandshakeTimeout),
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(ctx, network, addr, d.DialOptions)
		},
	}

	r := d.Retrier
	if r == nil {
		r = retrier.NewDialRetrier()
	}
	for attempts := 0; ; attempts++ {
		conn, resp, err := wsDialer.DialContext(ctx, url, header)
		if err == nil {
			return conn, nil
		}
		err = handshakeError(err, resp)
		if attempts >= d.RetryMax {
			return nil, err
		}
		if r.Retry(resp, err, &retrier.RetrierOptions{Attempts: attempts}) != retrier.RetryRequest {
			return nil, err
		}

		var wait time.Duration
		if d.Backoff != nil {
			wait = d.Backoff.Time(ctx, &backoff.BackoffOptions{Attempts: attempts})
		}
		log.Debug("websocket dial failed, retrying", "url", url, "attempt", attempts+1, "wait", wait, "error", err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

func (d *HostDialer) Dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	if d.Connector == nil {
		return nil, errors.New("transport: host dialer has no connector")
	}
	wsDialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout(d.HandshakeTimeout),
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return d.Connector.ConnectSocket(ctx)
		},
	}
	conn, resp, err := wsDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, handshakeError(err, resp)
	}
	return conn, nil
}

func handshakeTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultHandshakeTimeout
	}
	return d
}

func handshakeError(err error, resp *http.Response) error {
	if resp == nil {
		return err
	}
	if resp.Body != nil {
		resp.Body.Close()
	}
	return fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
}
