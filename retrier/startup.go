package retrier

import (
	"bytes"
	"io"
	"net/http"
	"strings"
)

// 以下短语按小写匹配容器返回的错误信息，用于区分冷启动期间的暂时性错误与永久性错误
var (
	permanentStartupErrors = []string{
		"no such image",
		"container already exists",
		"malformed containerinspect response",
	}

	transientStartupErrors = []string{
		"container port not found",
		"connection refused: container port",
		"the container is not listening",
		"failed to verify port",
		"container did not start",
		"network connection lost",
		"container suddenly disconnected",
		"monitor failed to find container",
		"no container instance available",
		"currently provisioning",
		"timed out",
		"timeout",
	}
)

// IsContainerStartupRetryable 判断容器返回的 500/503 错误是否为冷启动期间的暂时性错误
//
// 永久性错误优先判断；无法识别的错误信息一律不重试。
func IsContainerStartupRetryable(statusCode int, body string) bool {
	if statusCode != http.StatusInternalServerError && statusCode != http.StatusServiceUnavailable {
		return false
	}

	text := strings.ToLower(body)
	for _, phrase := range permanentStartupErrors {
		if strings.Contains(text, phrase) {
			return false
		}
	}
	for _, phrase := range transientStartupErrors {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// NewStartupRetrier 创建容器冷启动重试器
//
// 只对 body 可识别为暂时性错误的 500/503 响应返回 RetryRequest，传输层错误不重试。
// 判断时会读取并回填 response.Body，调用方仍可正常读取。
func NewStartupRetrier() Retrier {
	return startupRetrier{}
}

func (startupRetrier) Retry(response *http.Response, err error, _ *RetrierOptions) RetryDecision {
	if err != nil || response == nil {
		return DontRetry
	}
	if response.StatusCode != http.StatusInternalServerError && response.StatusCode != http.StatusServiceUnavailable {
		return DontRetry
	}
	body, readErr := peekBody(response)
	if readErr != nil {
		return DontRetry
	}
	if IsContainerStartupRetryable(response.StatusCode, string(body)) {
		return RetryRequest
	}
	return DontRetry
}

func peekBody(response *http.Response) ([]byte, error) {
	if response.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(response.Body)
	response.Body.Close()
	response.Body = io.NopCloser(bytes.NewReader(body))
	return body, err
}
