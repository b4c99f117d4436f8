package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/pkg-restore/internal/config"
)

// InitLogger 构建 JSON 结构化日志。role 标识当前进程（restore、worker 等），
// 与 pid 一起附加到每条日志上：process 模式下父子进程共用 stderr，靠这两个字段区分来源。
// 控制台模式写 stderr，stdout 留给状态流与 worker 报告。
func InitLogger(cfg config.GlobalConfig, role string) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, outErr := openOutput(cfg)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.AddHook(processHook{fields: ProcessFields(role, os.Getpid())})

	// 第三方库经由标准 logger 输出的日志保持同样的格式与去向。
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		fields := BaseFields("logger_fallback", "")
		fields["path"] = cfg.LogFilePath
		logger.WithFields(fields).Warn(outErr.Error())
	}
	return logger, nil
}

// openOutput 返回日志 Writer：未配置文件时为 stderr，否则为按大小轮转的文件。
// 日志目录不可用时退回 stderr，并把原因作为错误返回。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stderr, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// processHook 为每条日志补齐进程字段，调用方显式设置的同名字段优先。
type processHook struct {
	fields logrus.Fields
}

func (h processHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h processHook) Fire(entry *logrus.Entry) error {
	for key, value := range h.fields {
		if _, ok := entry.Data[key]; !ok {
			entry.Data[key] = value
		}
	}
	return nil
}
