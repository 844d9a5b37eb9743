package sandbox

import "time"

// ExecResult 命令执行结果。
type ExecResult struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Command  string `json:"command"`
	// Duration 命令耗时，单位毫秒。
	Duration  int64     `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecEventType 流式命令事件类型。
type ExecEventType string

const (
	ExecEventStart    ExecEventType = "start"
	ExecEventStdout   ExecEventType = "stdout"
	ExecEventStderr   ExecEventType = "stderr"
	ExecEventComplete ExecEventType = "complete"
	ExecEventError    ExecEventType = "error"
)

// ExecEvent 流式命令执行过程中产生的事件。
type ExecEvent struct {
	Type      ExecEventType `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Command   string        `json:"command,omitempty"`
	Data      string        `json:"data,omitempty"`
	ExitCode  *int          `json:"exitCode,omitempty"`
	Result    *ExecResult   `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ReadFileResult 读取文件的结果。
type ReadFileResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Content string `json:"content"`
	// Encoding 为 utf-8 或 base64。
	Encoding  string    `json:"encoding,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOperationResult 写入、创建目录、删除等文件操作的结果。
type FileOperationResult struct {
	Success   bool      `json:"success"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

type existsResult struct {
	Success bool `json:"success"`
	Exists  bool `json:"exists"`
}

// ExposedPort 已暴露的端口。
type ExposedPort struct {
	Port      int       `json:"port"`
	Name      string    `json:"name,omitempty"`
	URL       string    `json:"exposedAt,omitempty"`
	ExposedAt time.Time `json:"timestamp"`
}

type exposedPortsResult struct {
	Success bool          `json:"success"`
	Ports   []ExposedPort `json:"ports"`
}

// GitCheckoutResult 克隆仓库的结果。
type GitCheckoutResult struct {
	Success   bool   `json:"success"`
	RepoURL   string `json:"repoUrl"`
	Branch    string `json:"branch"`
	TargetDir string `json:"targetDir"`
}

// ProcessStatus 后台进程状态。
type ProcessStatus string

const (
	ProcessStarting  ProcessStatus = "starting"
	ProcessRunning   ProcessStatus = "running"
	ProcessCompleted ProcessStatus = "completed"
	ProcessFailed    ProcessStatus = "failed"
	ProcessKilled    ProcessStatus = "killed"
	ProcessError     ProcessStatus = "error"
)

// Done 判断进程是否已经结束。
func (s ProcessStatus) Done() bool {
	switch s {
	case ProcessCompleted, ProcessFailed, ProcessKilled, ProcessError:
		return true
	}
	return false
}

// ProcessInfo 后台进程信息。
type ProcessInfo struct {
	ID        string        `json:"id"`
	PID       int           `json:"pid,omitempty"`
	Command   string        `json:"command"`
	Status    ProcessStatus `json:"status"`
	StartTime time.Time     `json:"startTime"`
	EndTime   *time.Time    `json:"endTime,omitempty"`
	ExitCode  *int          `json:"exitCode,omitempty"`
}

type processResult struct {
	Success bool        `json:"success"`
	Process ProcessInfo `json:"process"`
}

type processListResult struct {
	Success   bool          `json:"success"`
	Processes []ProcessInfo `json:"processes"`
}

// LogEventType 进程日志事件类型。
type LogEventType string

const (
	LogEventStdout LogEventType = "stdout"
	LogEventStderr LogEventType = "stderr"
	LogEventExit   LogEventType = "exit"
	LogEventError  LogEventType = "error"
)

// LogEvent 进程日志流中的事件。
type LogEvent struct {
	Type      LogEventType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	ProcessID string       `json:"processId"`
	Data      string       `json:"data,omitempty"`
	ExitCode  *int         `json:"exitCode,omitempty"`
}

// PingResult 容器健康检查结果。
type PingResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
