package sandbox

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	sdkerrors "github.com/qiniu/sandbox-sdk-go/errors"
	"github.com/qiniu/sandbox-sdk-go/sse"
)

var errProcessExited = errors.New("process exited")

// Processes 管理容器内的后台进程。
type Processes struct {
	sandbox *Sandbox
}

// ProcessOptions 启动后台进程的选项。
type ProcessOptions struct {
	// ProcessID 自定义进程 ID，为空时由容器分配
	ProcessID string
	Env       map[string]string
	Cwd       string
	SessionID string
}

type startProcessRequest struct {
	Command   string            `json:"command"`
	ProcessID string            `json:"processId,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
}

// Start 在后台启动进程，立即返回进程信息。
func (p *Processes) Start(ctx context.Context, cmd string, options *ProcessOptions) (*ProcessInfo, error) {
	if cmd == "" {
		return nil, sdkerrors.MissingRequiredFieldError{Name: "command"}
	}
	if options == nil {
		options = &ProcessOptions{}
	}
	req := &startProcessRequest{
		Command:   cmd,
		ProcessID: options.ProcessID,
		Env:       options.Env,
		Cwd:       options.Cwd,
		SessionID: options.SessionID,
	}
	var ret processResult
	if err := p.sandbox.client.DoJSON(ctx, http.MethodPost, "/api/process/start", req, &ret); err != nil {
		return nil, err
	}
	return &ret.Process, nil
}

// List 列出所有后台进程。
func (p *Processes) List(ctx context.Context) ([]ProcessInfo, error) {
	var ret processListResult
	if err := p.sandbox.client.DoJSON(ctx, http.MethodGet, "/api/process/list", nil, &ret); err != nil {
		return nil, err
	}
	return ret.Processes, nil
}

// Get 查询单个后台进程。
func (p *Processes) Get(ctx context.Context, id string) (*ProcessInfo, error) {
	var ret processResult
	if err := p.sandbox.client.DoJSON(ctx, http.MethodGet, processPath(id), nil, &ret); err != nil {
		return nil, err
	}
	return &ret.Process, nil
}

// Kill 终止后台进程。
func (p *Processes) Kill(ctx context.Context, id string) error {
	return p.sandbox.client.DoJSON(ctx, http.MethodDelete, processPath(id), nil, nil)
}

// StreamLogs 订阅进程的实时日志，直到进程退出、fn 返回错误或 ctx 结束。
func (p *Processes) StreamLogs(ctx context.Context, id string, fn func(*LogEvent) error) error {
	stream, err := p.sandbox.client.DoStream(ctx, http.MethodGet, processPath(id)+"/logs/stream", nil)
	if err != nil {
		return err
	}
	defer stream.Close()

	err = sse.Decode(ctx, stream, func(event LogEvent) error {
		if err := fn(&event); err != nil {
			return err
		}
		if event.Type == LogEventExit {
			return errProcessExited
		}
		return nil
	})
	if errors.Is(err, errProcessExited) {
		return nil
	}
	return err
}

func processPath(id string) string {
	return "/api/process/" + url.PathEscape(id)
}
