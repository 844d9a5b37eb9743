package conf

import (
	"github.com/qiniu/sandbox-sdk-go/internal/env"
)

const Version = "1.4.0"

const (
	CONTENT_TYPE_JSON         = "application/json"
	CONTENT_TYPE_EVENT_STREAM = "text/event-stream"
)

// IsDebugMode 返回是否通过环境变量开启了调试模式
func IsDebugMode() bool {
	isDebug, _ := env.DebugFromEnvironment()
	return isDebug
}
