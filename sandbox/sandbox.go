package sandbox

import (
	"context"
	"net/http"

	"github.com/qiniu/sandbox-sdk-go/client"
)

// Sandbox 是容器内 API 的领域客户端，所有子客户端共享同一个 client.Client。
type Sandbox struct {
	client    *client.Client
	commands  *Commands
	files     *Files
	ports     *Ports
	git       *Git
	processes *Processes
}

// New 基于已配置的 client.Client 创建 Sandbox。
func New(c *client.Client) *Sandbox {
	s := &Sandbox{client: c}
	s.commands = &Commands{sandbox: s}
	s.files = &Files{sandbox: s}
	s.ports = &Ports{sandbox: s}
	s.git = &Git{sandbox: s}
	s.processes = &Processes{sandbox: s}
	return s
}

// Client 返回底层客户端，可用于查看熔断器和请求队列状态。
func (s *Sandbox) Client() *client.Client {
	return s.client
}

// Commands 返回命令执行客户端。
func (s *Sandbox) Commands() *Commands {
	return s.commands
}

// Files 返回文件操作客户端。
func (s *Sandbox) Files() *Files {
	return s.files
}

// Ports 返回端口暴露客户端。
func (s *Sandbox) Ports() *Ports {
	return s.ports
}

// Git 返回 Git 操作客户端。
func (s *Sandbox) Git() *Git {
	return s.git
}

// Processes 返回后台进程客户端。
func (s *Sandbox) Processes() *Processes {
	return s.processes
}

// Ping 检查容器是否可用。
func (s *Sandbox) Ping(ctx context.Context) (*PingResult, error) {
	var ret PingResult
	if err := s.client.DoJSON(ctx, http.MethodGet, "/api/ping", nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// WaitForReady 轮询 Ping 直到容器可用或 ctx 结束。
//
// 连接类错误和 5xx 响应会继续轮询，其余错误直接返回。
func (s *Sandbox) WaitForReady(ctx context.Context, opts ...PollOption) (*PingResult, error) {
	return pollLoop(ctx, applyPollOpts(opts), func() (bool, *PingResult, error) {
		ret, err := s.Ping(ctx)
		if err == nil {
			return true, ret, nil
		}
		if ctx.Err() != nil || !isTransient(err) {
			return false, nil, err
		}
		return false, nil, nil
	})
}
