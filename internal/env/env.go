package env

import (
	"os"
	"strings"
	"time"
)

const (
	environmentVariableNameSandboxTransport      = "SANDBOX_TRANSPORT"
	environmentVariableNameSandboxBaseURL        = "SANDBOX_BASE_URL"
	environmentVariableNameSandboxWebSocketURL   = "SANDBOX_WS_URL"
	environmentVariableNameSandboxRequestTimeout = "SANDBOX_REQUEST_TIMEOUT"
	environmentVariableNameSandboxConfigFile     = "SANDBOX_CONFIG_FILE"
	environmentVariableNameSandboxProfile        = "SANDBOX_PROFILE"
	environmentVariableNameSandboxDebug          = "SANDBOX_DEBUG"
)

func TransportModeFromEnvironment() string {
	return strings.ToLower(strings.TrimSpace(os.Getenv(environmentVariableNameSandboxTransport)))
}

func BaseURLFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameSandboxBaseURL))
}

func WebSocketURLFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameSandboxWebSocketURL))
}

// RequestTimeoutFromEnvironment 解析形如 "30s" 的超时时间，第二个返回值表示是否设置且合法
func RequestTimeoutFromEnvironment() (time.Duration, bool) {
	value := strings.TrimSpace(os.Getenv(environmentVariableNameSandboxRequestTimeout))
	if value == "" {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func ConfigFileFromEnvironment() string {
	return os.Getenv(environmentVariableNameSandboxConfigFile)
}

func ProfileFromEnvironment() string {
	return os.Getenv(environmentVariableNameSandboxProfile)
}

func DebugFromEnvironment() (bool, bool) {
	value := strings.ToLower(os.Getenv(environmentVariableNameSandboxDebug))
	if value == "" {
		return false, false
	}
	return value == "true" || value == "yes" || value == "y" || value == "1", true
}
