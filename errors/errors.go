package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type (
	MissingRequiredFieldError struct {
		Name string
	}

	// Kind 是错误的分类
	Kind string

	// APIError 表示容器 API 返回的非预期 HTTP 响应。
	//
	// 其余错误类型均内嵌 *APIError，可通过 errors.As 取得原始信息。
	APIError struct {
		// StatusCode 是响应的 HTTP 状态码
		StatusCode int
		// Code 是从响应 body 中解析出的错误码（如果有）
		Code string
		// Message 是从响应 body 中解析出的错误消息（如果有）
		Message string
		// Context 是错误码附带的上下文，例如 path、pid、port
		Context map[string]interface{}
		// Timestamp 是服务端记录的错误时间
		Timestamp time.Time
		// Body 是原始响应 body
		Body []byte
	}

	FileError       struct{ *APIError }
	PermissionError struct{ *APIError }
	CommandError    struct{ *APIError }
	ProcessError    struct{ *APIError }
	PortError       struct{ *APIError }
	GitError        struct{ *APIError }
)

const (
	KindUnknown    Kind = "unknown"
	KindFile       Kind = "file"
	KindPermission Kind = "permission"
	KindCommand    Kind = "command"
	KindProcess    Kind = "process"
	KindPort       Kind = "port"
	KindGit        Kind = "git"
)

func (err MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("missing required field `%s`", err.Name)
}

// Error 实现 error 接口
func (e *APIError) Error() string {
	if e.Message != "" {
		if e.Code != "" {
			return fmt.Sprintf("sandbox api error: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
		}
		return fmt.Sprintf("sandbox api error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("sandbox api error: status %d, body: %s", e.StatusCode, string(e.Body))
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

func (e *APIError) Kind() Kind { return KindUnknown }

func (e *FileError) Kind() Kind       { return KindFile }
func (e *PermissionError) Kind() Kind { return KindPermission }
func (e *CommandError) Kind() Kind    { return KindCommand }
func (e *ProcessError) Kind() Kind    { return KindProcess }
func (e *PortError) Kind() Kind       { return KindPort }
func (e *GitError) Kind() Kind        { return KindGit }

func (e *FileError) Unwrap() error       { return e.APIError }
func (e *PermissionError) Unwrap() error { return e.APIError }
func (e *CommandError) Unwrap() error    { return e.APIError }
func (e *ProcessError) Unwrap() error    { return e.APIError }
func (e *PortError) Unwrap() error       { return e.APIError }
func (e *GitError) Unwrap() error        { return e.APIError }

// errorBody 是容器返回的结构化错误
type errorBody struct {
	Code       string                 `json:"code"`
	Error      string                 `json:"error"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context"`
	HTTPStatus int                    `json:"httpStatus"`
	Timestamp  string                 `json:"timestamp"`
}

// NewAPIError 创建 APIError 并尝试从 JSON body 中解析结构化字段
func NewAPIError(statusCode int, body []byte) *APIError {
	e := &APIError{StatusCode: statusCode, Body: body}
	var parsed errorBody
	if len(body) == 0 || json.Unmarshal(body, &parsed) != nil {
		e.Message = strings.TrimSpace(string(body))
		return e
	}
	e.Code = parsed.Code
	e.Message = parsed.Message
	if e.Message == "" {
		e.Message = parsed.Error
	}
	e.Context = parsed.Context
	if parsed.HTTPStatus != 0 {
		e.StatusCode = parsed.HTTPStatus
	}
	if parsed.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, parsed.Timestamp); err == nil {
			e.Timestamp = ts
		}
	}
	return e
}

// FromResponse 将非 2xx 响应转换为对应类型的错误
func FromResponse(statusCode int, body []byte) error {
	return Wrap(NewAPIError(statusCode, body))
}

// Wrap 根据错误码将 APIError 包装为具体的错误类型
func Wrap(e *APIError) error {
	switch kindOfCode(e.Code) {
	case KindFile:
		return &FileError{e}
	case KindPermission:
		return &PermissionError{e}
	case KindCommand:
		return &CommandError{e}
	case KindProcess:
		return &ProcessError{e}
	case KindPort:
		return &PortError{e}
	case KindGit:
		return &GitError{e}
	default:
		return e
	}
}

func kindOfCode(code string) Kind {
	switch code {
	case "PERMISSION_DENIED", "EACCES":
		return KindPermission
	case "FILE_NOT_FOUND", "FILE_EXISTS", "IS_DIRECTORY", "NOT_DIRECTORY", "NO_SPACE",
		"TOO_MANY_FILES", "RESOURCE_BUSY", "READ_ONLY", "NAME_TOO_LONG", "TOO_MANY_LINKS",
		"FILESYSTEM_ERROR", "INVALID_PATH":
		return KindFile
	case "COMMAND_NOT_FOUND", "COMMAND_PERMISSION_DENIED", "COMMAND_EXECUTION_ERROR", "INVALID_COMMAND":
		return KindCommand
	case "PROCESS_NOT_FOUND", "PROCESS_PERMISSION_DENIED", "PROCESS_ERROR", "STREAM_START_ERROR":
		return KindProcess
	case "PORT_ALREADY_EXPOSED", "PORT_NOT_EXPOSED", "PORT_IN_USE", "INVALID_PORT",
		"INVALID_PORT_NUMBER", "PORT_OPERATION_ERROR", "SERVICE_NOT_RESPONDING":
		return KindPort
	case "GIT_REPOSITORY_NOT_FOUND", "GIT_AUTH_FAILED", "GIT_BRANCH_NOT_FOUND", "GIT_NETWORK_ERROR",
		"GIT_CLONE_FAILED", "GIT_CHECKOUT_FAILED", "GIT_OPERATION_FAILED", "INVALID_GIT_URL":
		return KindGit
	}
	return KindUnknown
}

// KindOf 返回错误的分类，非 API 错误返回空字符串
func KindOf(err error) Kind {
	var kinded interface{ Kind() Kind }
	if stderrors.As(err, &kinded) {
		return kinded.Kind()
	}
	return ""
}

// IsExpected 判断是否为调用方可预期的 4xx 类错误，这类错误不需要记录日志
func IsExpected(err error) bool {
	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= http.StatusBadRequest && apiErr.StatusCode < http.StatusInternalServerError
}
