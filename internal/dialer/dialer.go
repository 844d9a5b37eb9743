package dialer

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

type (
	// Resolver 将主机名解析为 IP 列表
	Resolver interface {
		LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	}

	DialOptions struct {
		// Timeout 整体拨号超时，默认 30s
		Timeout time.Duration
		// KeepAlive TCP KeepAlive 间隔，默认 15s
		KeepAlive time.Duration
		// Resolver 默认为 net.DefaultResolver
		Resolver Resolver
	}

	dialResult struct {
		conn net.Conn
		err  error
	}

	dialErrors struct {
		errs []error
	}
)

// ErrNoAddress 主机没有可拨号的 IP
var ErrNoAddress = errors.New("no ip could be dialed")

func (o *DialOptions) init() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 15 * time.Second
	}
	if o.Resolver == nil {
		o.Resolver = net.DefaultResolver
	}
}

// Dial 解析 address 中的主机名后对所有 IP 错峰发起连接，返回最先成功的连接
//
// 主机部分本身就是 IP 时不做解析。
func Dial(ctx context.Context, network, address string, options DialOptions) (net.Conn, error) {
	options.init()
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); ip != nil {
		return DialContext(ctx, network, []net.IP{ip}, port, options)
	}

	addrs, err := options.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, &net.OpError{Op: "dial", Net: network, Err: err}
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		ips = append(ips, addr.IP)
	}
	return DialContext(ctx, network, ips, port, options)
}

// DialContext 每隔 Timeout/len(ips) 对下一个 IP 发起连接，返回最先成功的连接，其余连接尝试被取消
func DialContext(ctx context.Context, network string, ips []net.IP, port string, options DialOptions) (net.Conn, error) {
	options.init()
	if len(ips) == 0 {
		return nil, ErrNoAddress
	}

	ctx, cancel := context.WithTimeout(ctx, options.Timeout)
	var wg sync.WaitGroup
	results := make(chan dialResult, len(ips))
	defer func() {
		cancel()
		wg.Wait()
		close(results)
		for r := range results {
			if r.conn != nil {
				r.conn.Close()
			}
		}
	}()

	errs := &dialErrors{errs: make([]error, 0, len(ips))}
	pending := 0
	next := func() {
		ip := ips[0]
		ips = ips[1:]
		pending++
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := dialOne(ctx, network, ip, port, options.KeepAlive)
			results <- dialResult{conn: conn, err: err}
		}()
	}

	ticker := time.NewTicker(options.Timeout / time.Duration(len(ips)))
	next()
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if len(ips) > 0 {
				next()
			}
		case r := <-results:
			pending--
			if r.err == nil {
				return r.conn, nil
			}
			errs.errs = append(errs.errs, r.err)
			if len(ips) > 0 {
				next()
			} else if pending == 0 {
				return nil, errs
			}
		case <-ctx.Done():
			if len(errs.errs) == 0 {
				errs.errs = append(errs.errs, ctx.Err())
			}
			return nil, errs
		}
	}
}

func dialOne(ctx context.Context, network string, ip net.IP, port string, keepAlive time.Duration) (net.Conn, error) {
	d := net.Dialer{KeepAlive: keepAlive}
	addr := ip.String()
	if port != "" {
		addr = net.JoinHostPort(addr, port)
	}
	return d.DialContext(ctx, network, addr)
}

func (e *dialErrors) Error() string {
	if len(e.errs) > 0 {
		return e.errs[0].Error()
	}
	return context.DeadlineExceeded.Error()
}

func (e *dialErrors) Unwrap() []error {
	if len(e.errs) > 0 {
		return e.errs
	}
	return []error{context.DeadlineExceeded}
}

func (e *dialErrors) Timeout() bool {
	for _, err := range e.errs {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		if te, ok := err.(interface{ Timeout() bool }); ok && te.Timeout() {
			return true
		}
	}
	return len(e.errs) == 0
}
