// internal/service/logger.go
package service

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger 根据配置构建 Zap 日志器
// 日志器在启动时构建一次，之后注入到各个组件中使用
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)

	// 格式化时间
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"

	var outputs []string
	if cfg.ConsoleOutput {
		outputs = append(outputs, "stdout")
	}
	if cfg.File != "" {
		outputs = append(outputs, cfg.File)
	}
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	config.OutputPaths = outputs

	return config.Build()
}
