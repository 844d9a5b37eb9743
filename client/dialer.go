package client

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/qiniu/sandbox-sdk-go/internal/dialer"
)

type (
	resolverContextKey          struct{}
	dialTimeoutContextKey       struct{}
	keepAliveIntervalContextKey struct{}
	resolverContextValue        struct {
		host string
		ips  []net.IP
	}
)

// DefaultTransport HTTP 模式默认使用的 RoundTripper，拨号时对主机解析出的所有 IP 错峰连接
var DefaultTransport http.RoundTripper = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	DialContext:           defaultDialFunc,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

func defaultDialFunc(ctx context.Context, network string, address string) (net.Conn, error) {
	options := dialer.DialOptions{Timeout: 30 * time.Second, KeepAlive: 15 * time.Second}
	if dialTimeout, ok := ctx.Value(dialTimeoutContextKey{}).(time.Duration); ok {
		options.Timeout = dialTimeout
	}
	if keepAliveInterval, ok := ctx.Value(keepAliveIntervalContextKey{}).(time.Duration); ok {
		options.KeepAlive = keepAliveInterval
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if resolved, ok := ctx.Value(resolverContextKey{}).(resolverContextValue); ok && len(resolved.ips) > 0 && resolved.host == host {
		return dialer.DialContext(ctx, network, resolved.ips, port, options)
	}
	return dialer.Dial(ctx, network, address, options)
}

// WithResolvedIPs 让该 ctx 下对 host 的连接直接使用给定的 IP，不再做 DNS 解析
func WithResolvedIPs(ctx context.Context, host string, ips []net.IP) context.Context {
	return context.WithValue(ctx, resolverContextKey{}, resolverContextValue{host: host, ips: ips})
}

func WithDialTimeout(ctx context.Context, timeout time.Duration) context.Context {
	return context.WithValue(ctx, dialTimeoutContextKey{}, timeout)
}

func WithKeepAliveInterval(ctx context.Context, interval time.Duration) context.Context {
	return context.WithValue(ctx, keepAliveIntervalContextKey{}, interval)
}
