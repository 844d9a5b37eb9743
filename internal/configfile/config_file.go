package configfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/qiniu/sandbox-sdk-go/internal/env"
)

type (
	// Profile 是配置文件中一个 profile 的内容，时长字段使用 time.ParseDuration 格式
	Profile struct {
		Transport         string         `toml:"transport" yaml:"transport"`
		BaseURL           string         `toml:"base_url" yaml:"base_url"`
		WebSocketURL      string         `toml:"ws_url" yaml:"ws_url"`
		RequestTimeout    string         `toml:"request_timeout" yaml:"request_timeout"`
		StreamIdleTimeout string         `toml:"stream_idle_timeout" yaml:"stream_idle_timeout"`
		Breaker           BreakerProfile `toml:"breaker" yaml:"breaker"`
		Queue             QueueProfile   `toml:"queue" yaml:"queue"`
	}

	BreakerProfile struct {
		FailureThreshold int    `toml:"failure_threshold" yaml:"failure_threshold"`
		FailureWindow    string `toml:"failure_window" yaml:"failure_window"`
		RecoveryTimeout  string `toml:"recovery_timeout" yaml:"recovery_timeout"`
		SuccessThreshold int    `toml:"success_threshold" yaml:"success_threshold"`
	}

	QueueProfile struct {
		MaxConcurrent int     `toml:"max_concurrent" yaml:"max_concurrent"`
		MaxQueued     int     `toml:"max_queued" yaml:"max_queued"`
		Timeout       string  `toml:"timeout" yaml:"timeout"`
		Rate          float64 `toml:"rate" yaml:"rate"`
		Burst         int     `toml:"burst" yaml:"burst"`
	}
)

var (
	profiles      map[string]*Profile
	profilesError error
	profilesOnce  sync.Once

	ErrUnsupportedFormat = errors.New("unsupported config file format")
)

// ProfileFromConfigFile 返回当前 profile 的配置，配置文件或 profile 不存在时返回 nil
func ProfileFromConfigFile() (*Profile, error) {
	if err := load(); err != nil {
		return nil, err
	}
	profileName := env.ProfileFromEnvironment()
	if profileName == "" {
		profileName = "default"
	}
	profile, ok := profiles[profileName]
	if !ok || profile == nil {
		return nil, nil
	}
	return profile, nil
}

// LoadFile 解析指定的配置文件，根据扩展名选择 TOML 或 YAML
func LoadFile(path string) (map[string]*Profile, error) {
	result := make(map[string]*Profile)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", "":
		if _, err := toml.DecodeFile(path, &result); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err = yaml.Unmarshal(data, &result); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnsupportedFormat
	}
	return result, nil
}

func load() error {
	profilesOnce.Do(func() {
		profilesError = _load()
	})
	return profilesError
}

func _load() error {
	configFilePath := env.ConfigFileFromEnvironment()
	explicit := configFilePath != ""
	if !explicit {
		configFilePath = getDefaultConfigFilePath()
	}
	loaded, err := LoadFile(configFilePath)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	profiles = loaded
	return nil
}

func reset() {
	profiles = nil
	profilesError = nil
	profilesOnce = sync.Once{}
}

func getDefaultConfigFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return filepath.Join(homeDir, ".config", "sandbox", "config.toml")
}
