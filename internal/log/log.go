package log

import (
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/qiniu/sandbox-sdk-go/internal/env"
)

// Config 日志配置
type Config struct {
	// Level 日志级别：debug、info、warn、error，默认 warn
	Level string
	// Encoding console 或 json，默认 console
	Encoding string
	// File 日志文件路径，为空时输出到 stderr
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var logger atomic.Pointer[zap.SugaredLogger]

func init() {
	level := "warn"
	if isDebug, ok := env.DebugFromEnvironment(); ok && isDebug {
		level = "debug"
	}
	SetLogger(New(&Config{Level: level}))
}

// New 根据配置创建 zap 日志记录器
func New(config *Config) *zap.Logger {
	if config == nil {
		config = &Config{}
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(config.Level))); err != nil || config.Level == "" {
		level = zapcore.WarnLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if config.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var output zapcore.WriteSyncer
	if config.File != "" {
		output = zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		})
	} else {
		output = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, output, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Named("sandbox")
}

// SetLogger 替换全局日志记录器，传入 nil 时丢弃所有日志
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l.Sugar())
}

// L 返回当前全局日志记录器
func L() *zap.Logger {
	return logger.Load().Desugar()
}

func Debug(msg string, keysAndValues ...interface{}) {
	logger.Load().Debugw(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...interface{}) {
	logger.Load().Infow(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...interface{}) {
	logger.Load().Warnw(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...interface{}) {
	logger.Load().Errorw(msg, keysAndValues...)
}
