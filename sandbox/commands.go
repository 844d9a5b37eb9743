package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/qiniu/sandbox-sdk-go/sse"
)

// CommandOption 命令选项。
type CommandOption func(*commandOpts)

type commandOpts struct {
	envs      map[string]string
	cwd       string
	sessionID string
	timeout   time.Duration
	onStdout  func(data string)
	onStderr  func(data string)
	onEvent   func(event *ExecEvent)
}

// WithEnvs 设置命令的环境变量。
func WithEnvs(envs map[string]string) CommandOption {
	return func(o *commandOpts) { o.envs = envs }
}

// WithCwd 设置命令的工作目录。
func WithCwd(cwd string) CommandOption {
	return func(o *commandOpts) { o.cwd = cwd }
}

// WithSessionID 指定命令所属的会话，同一会话共享工作目录和环境变量。
func WithSessionID(id string) CommandOption {
	return func(o *commandOpts) { o.sessionID = id }
}

// WithTimeout 设置命令超时时间，同时作用于容器内的执行和本次请求。
func WithTimeout(timeout time.Duration) CommandOption {
	return func(o *commandOpts) { o.timeout = timeout }
}

// WithOnStdout 设置 stdout 数据回调，仅 Stream 生效。
func WithOnStdout(fn func(data string)) CommandOption {
	return func(o *commandOpts) { o.onStdout = fn }
}

// WithOnStderr 设置 stderr 数据回调，仅 Stream 生效。
func WithOnStderr(fn func(data string)) CommandOption {
	return func(o *commandOpts) { o.onStderr = fn }
}

// WithOnEvent 设置任意事件的回调，仅 Stream 生效。
func WithOnEvent(fn func(event *ExecEvent)) CommandOption {
	return func(o *commandOpts) { o.onEvent = fn }
}

func applyCommandOpts(opts []CommandOption) *commandOpts {
	o := &commandOpts{}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

type execRequest struct {
	Command   string            `json:"command"`
	Env       map[string]string `json:"env,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Timeout   int64             `json:"timeout,omitempty"`
}

func (o *commandOpts) request(cmd string) *execRequest {
	return &execRequest{
		Command:   cmd,
		Env:       o.envs,
		Cwd:       o.cwd,
		SessionID: o.sessionID,
		Timeout:   o.timeout.Milliseconds(),
	}
}

func (o *commandOpts) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return ctx, func() {}
}

// Commands 提供沙箱命令执行能力。
type Commands struct {
	sandbox *Sandbox
}

// Run 在沙箱中执行命令并等待完成。
//
// 命令以非零状态退出不视为错误，调用方应检查 ExecResult.ExitCode。
func (c *Commands) Run(ctx context.Context, cmd string, opts ...CommandOption) (*ExecResult, error) {
	o := applyCommandOpts(opts)
	ctx, cancel := o.context(ctx)
	defer cancel()

	var ret ExecResult
	if err := c.sandbox.client.DoJSON(ctx, http.MethodPost, "/api/execute", o.request(cmd), &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Stream 在沙箱中执行命令并实时回调输出，返回 complete 事件携带的结果。
//
// 输出通过 WithOnStdout、WithOnStderr、WithOnEvent 回调；stdout 和 stderr 不在内存中累积。
func (c *Commands) Stream(ctx context.Context, cmd string, opts ...CommandOption) (*ExecResult, error) {
	o := applyCommandOpts(opts)
	ctx, cancel := o.context(ctx)
	defer cancel()

	stream, err := c.sandbox.client.DoStream(ctx, http.MethodPost, "/api/execute/stream", o.request(cmd))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var result *ExecResult
	err = sse.Decode(ctx, stream, func(event ExecEvent) error {
		if o.onEvent != nil {
			o.onEvent(&event)
		}
		switch event.Type {
		case ExecEventStdout:
			if o.onStdout != nil {
				o.onStdout(event.Data)
			}
		case ExecEventStderr:
			if o.onStderr != nil {
				o.onStderr(event.Data)
			}
		case ExecEventComplete:
			result = completeResult(cmd, &event)
		case ExecEventError:
			return &CommandStreamError{Command: cmd, Message: event.Error}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.New("command stream ended without complete event")
	}
	return result, nil
}

func completeResult(cmd string, event *ExecEvent) *ExecResult {
	if event.Result != nil {
		return event.Result
	}
	result := &ExecResult{Command: cmd, Timestamp: event.Timestamp}
	if event.ExitCode != nil {
		result.ExitCode = *event.ExitCode
	}
	result.Success = result.ExitCode == 0
	return result
}

// CommandStreamError 流式命令执行过程中容器上报的错误事件。
type CommandStreamError struct {
	Command string
	Message string
}

func (e *CommandStreamError) Error() string {
	return fmt.Sprintf("command %q failed: %s", e.Command, e.Message)
}
