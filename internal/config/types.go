package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GroupMode 决定多个 manifest 之间的调度方式。
type GroupMode string

const (
	// GroupModeShared 合并全部 manifest，由一个工作池处理。
	GroupModeShared GroupMode = "shared"
	// GroupModeGrouped 每个 manifest 一个工作池，在同一进程内并行。
	GroupModeGrouped GroupMode = "grouped"
	// GroupModeProcess 每个 manifest 一个子进程，依靠文件锁跨进程去重。
	GroupModeProcess GroupMode = "process"
)

// GlobalConfig 描述一次还原运行的全部参数。
type GlobalConfig struct {
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	CachePath         string   `mapstructure:"CachePath"`
	StagingPath       string   `mapstructure:"StagingPath"`
	RepositoryURL     string   `mapstructure:"RepositoryURL"`
	Layout            string   `mapstructure:"Layout"`
	ArtifactExt       string   `mapstructure:"ArtifactExt"`
	Workers           int      `mapstructure:"Workers"`
	GroupMode         string   `mapstructure:"GroupMode"`
	MaxRetries        int      `mapstructure:"MaxRetries"`
	InitialBackoff    Duration `mapstructure:"InitialBackoff"`
	RequestTimeout    Duration `mapstructure:"RequestTimeout"`
	RequestsPerSecond float64  `mapstructure:"RequestsPerSecond"`
	MaxArtifactSize   int64    `mapstructure:"MaxArtifactSize"`
	MaxExtractedSize  int64    `mapstructure:"MaxExtractedSize"`
	StatusListen      string   `mapstructure:"StatusListen"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// Mode 返回标准化后的调度模式（假定 Validate 已经通过）。
func (g GlobalConfig) Mode() GroupMode {
	return GroupMode(strings.ToLower(strings.TrimSpace(g.GroupMode)))
}
