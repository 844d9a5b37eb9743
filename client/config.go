package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qiniu/sandbox-sdk-go/circuitbreaker"
	"github.com/qiniu/sandbox-sdk-go/internal/configfile"
	"github.com/qiniu/sandbox-sdk-go/internal/env"
	"github.com/qiniu/sandbox-sdk-go/queue"
	"github.com/qiniu/sandbox-sdk-go/transport"
)

// Config 客户端配置
type Config struct {
	// Mode 传输模式，http 或 websocket，默认 http
	Mode transport.Mode `validate:"omitempty,oneof=http websocket"`
	// BaseURL 容器 HTTP API 地址
	BaseURL string `validate:"omitempty,url"`
	// WebSocketURL WebSocket 地址，为空时由 BaseURL 推导为 ws(s)://host/ws
	WebSocketURL string `validate:"omitempty,url"`
	// RequestTimeout 非流式请求超时，默认 120s，仅 websocket 模式生效
	RequestTimeout time.Duration `validate:"gte=0"`
	// StreamIdleTimeout 流式请求空闲超时，默认 300s，仅 websocket 模式生效
	StreamIdleTimeout time.Duration `validate:"gte=0"`
	// StartupRetryBudget 容器冷启动重试总时长，默认 120s，仅 http 模式生效，非零时覆盖 StartupRetry.Budget
	StartupRetryBudget time.Duration `validate:"gte=0"`
	// StartupRetry 冷启动重试的完整选项，仅 http 模式生效
	StartupRetry transport.StartupRetryOptions `validate:"-"`

	Breaker circuitbreaker.Options `validate:"-"`
	Queue   queue.Options          `validate:"-"`

	// HostConnector 非空时 websocket 模式通过宿主取得连接，否则直接拨号
	HostConnector transport.HostConnector `validate:"-"`
	// HTTPClient 为空时使用 DefaultTransport
	HTTPClient *http.Client `validate:"-"`
	// Header 每个请求额外携带的 Header
	Header http.Header `validate:"-"`
	// Registerer 非空时注册 Prometheus 指标
	Registerer prometheus.Registerer `validate:"-"`
	// ClientID 指标的 client 标签，默认随机生成；多个客户端共享 Registerer 时用于区分
	ClientID string `validate:"omitempty,printascii"`
	// Transport 非空时直接使用该传输，忽略 Mode 等传输相关配置
	Transport transport.Transport `validate:"-"`
}

func (c *Config) mode() transport.Mode {
	if c.Mode == "" {
		return transport.ModeHTTP
	}
	return c.Mode
}

func (c *Config) validate() error {
	if err := defaultValidator.Validate(c); err != nil {
		return err
	}
	if c.Transport != nil {
		return nil
	}
	switch c.mode() {
	case transport.ModeHTTP:
		if c.BaseURL == "" {
			return fmt.Errorf("%w: BaseURL is required in http mode", ErrInvalidConfig)
		}
	case transport.ModeWebSocket:
		if c.WebSocketURL == "" && c.BaseURL == "" {
			return fmt.Errorf("%w: WebSocketURL or BaseURL is required in websocket mode", ErrInvalidConfig)
		}
	}
	return nil
}

func (c *Config) webSocketURL() (string, error) {
	if c.WebSocketURL != "" {
		return c.WebSocketURL, nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// LoadConfig 从当前 profile 的配置文件和环境变量加载配置，环境变量优先
//
// 配置文件路径由 SANDBOX_CONFIG_FILE 指定，默认为 ~/.config/sandbox/config.toml；profile 由 SANDBOX_PROFILE 指定，默认为 default。
func LoadConfig() (*Config, error) {
	profile, err := configfile.ProfileFromConfigFile()
	if err != nil {
		return nil, err
	}
	return configFromProfile(profile)
}

// LoadConfigFile 从指定配置文件的 profile 和环境变量加载配置，环境变量优先
func LoadConfigFile(path, profileName string) (*Config, error) {
	profiles, err := configfile.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if profileName == "" {
		profileName = "default"
	}
	return configFromProfile(profiles[profileName])
}

func configFromProfile(profile *configfile.Profile) (*Config, error) {
	config := &Config{}
	if profile != nil {
		if err := applyProfile(config, profile); err != nil {
			return nil, err
		}
	}

	if mode := env.TransportModeFromEnvironment(); mode != "" {
		config.Mode = transport.Mode(mode)
	}
	if baseURL := env.BaseURLFromEnvironment(); baseURL != "" {
		config.BaseURL = baseURL
	}
	if wsURL := env.WebSocketURLFromEnvironment(); wsURL != "" {
		config.WebSocketURL = wsURL
	}
	if timeout, ok := env.RequestTimeoutFromEnvironment(); ok {
		config.RequestTimeout = timeout
	}
	return config, nil
}

func applyProfile(config *Config, profile *configfile.Profile) (err error) {
	config.Mode = transport.Mode(strings.ToLower(profile.Transport))
	config.BaseURL = profile.BaseURL
	config.WebSocketURL = profile.WebSocketURL

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"request_timeout", profile.RequestTimeout, &config.RequestTimeout},
		{"stream_idle_timeout", profile.StreamIdleTimeout, &config.StreamIdleTimeout},
		{"breaker.failure_window", profile.Breaker.FailureWindow, &config.Breaker.FailureWindow},
		{"breaker.recovery_timeout", profile.Breaker.RecoveryTimeout, &config.Breaker.RecoveryTimeout},
		{"queue.timeout", profile.Queue.Timeout, &config.Queue.Timeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if *d.dst, err = time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, d.name, err)
		}
	}

	config.Breaker.FailureThreshold = profile.Breaker.FailureThreshold
	config.Breaker.SuccessThreshold = profile.Breaker.SuccessThreshold
	config.Queue.MaxConcurrent = profile.Queue.MaxConcurrent
	config.Queue.MaxQueued = profile.Queue.MaxQueued
	config.Queue.Rate = profile.Queue.Rate
	config.Queue.Burst = profile.Queue.Burst
	return nil
}
