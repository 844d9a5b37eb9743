//go:build unit
// +build unit

package dialer_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiniu/sandbox-sdk-go/internal/dialer"
)

type staticResolver map[string][]net.IP

func (r staticResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := r[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	addrs := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.IPAddr{IP: ip})
	}
	return addrs, nil
}

func listen(t *testing.T) (net.Listener, string) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return listener, strconv.Itoa(listener.Addr().(*net.TCPAddr).Port)
}

func closedPort(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := strconv.Itoa(listener.Addr().(*net.TCPAddr).Port)
	listener.Close()
	return port
}

func TestDialContextFirstSuccess(t *testing.T) {
	_, port := listen(t)

	conn, err := dialer.DialContext(context.Background(), "tcp",
		[]net.IP{net.IPv4(127, 0, 0, 1), net.IPv4(127, 0, 0, 1)}, port, dialer.DialOptions{Timeout: 3 * time.Second})
	require.NoError(t, err)
	conn.Close()
}

func TestDialContextAllRefused(t *testing.T) {
	port := closedPort(t)

	start := time.Now()
	_, err := dialer.DialContext(context.Background(), "tcp",
		[]net.IP{net.IPv4(127, 0, 0, 1), net.IPv4(127, 0, 0, 1)}, port, dialer.DialOptions{Timeout: 3 * time.Second})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestDialContextNoAddress(t *testing.T) {
	_, err := dialer.DialContext(context.Background(), "tcp", nil, "80", dialer.DialOptions{})
	assert.ErrorIs(t, err, dialer.ErrNoAddress)
}

func TestDialResolvesHost(t *testing.T) {
	_, port := listen(t)
	resolver := staticResolver{"sandbox.local": {net.IPv4(127, 0, 0, 1)}}

	conn, err := dialer.Dial(context.Background(), "tcp", net.JoinHostPort("sandbox.local", port), dialer.DialOptions{Resolver: resolver})
	require.NoError(t, err)
	conn.Close()

	_, err = dialer.Dial(context.Background(), "tcp", net.JoinHostPort("unknown.local", port), dialer.DialOptions{Resolver: resolver})
	var dnsErr *net.DNSError
	assert.ErrorAs(t, err, &dnsErr)

	conn, err = dialer.Dial(context.Background(), "tcp", net.JoinHostPort("127.0.0.1", port), dialer.DialOptions{Resolver: resolver})
	require.NoError(t, err)
	conn.Close()
}
