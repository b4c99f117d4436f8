package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/any-hub/pkg-restore/internal/layout"
)

// DefaultFileName 是未显式指定配置文件时尝试读取的文件名。
const DefaultFileName = "pkg-restore.toml"

// Load 读取可选的 TOML 配置文件，叠加命令行标志后注入默认值并校验。
// path 为空时只使用默认值与标志；bindings 的键为配置字段名，只有显式设置过的标志会覆盖文件值。
func Load(path string, bindings map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	for key, flag := range bindings {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("绑定参数 %s 失败: %w", flag.Name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(expandHome(cfg.Global.CachePath))
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.CachePath = absCache
	if cfg.Global.StagingPath != "" {
		absStaging, err := filepath.Abs(expandHome(cfg.Global.StagingPath))
		if err != nil {
			return nil, fmt.Errorf("无法解析 staging 目录: %w", err)
		}
		cfg.Global.StagingPath = absStaging
	}

	return &cfg, nil
}

// ResolvePath 按 flag > 环境变量 > 当前目录默认文件的顺序决定配置文件路径，
// 都不存在时返回空串表示仅使用默认值。
func ResolvePath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue != "" {
		return envValue
	}
	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName
	}
	return ""
}

// DefaultCachePath 与 NuGet 全局包目录保持一致。
func DefaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".", "packages")
	}
	return filepath.Join(home, ".nuget", "packages")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CachePath", DefaultCachePath())
	v.SetDefault("StagingPath", "")
	v.SetDefault("RepositoryURL", "")
	v.SetDefault("Layout", layout.DefaultKey())
	v.SetDefault("ArtifactExt", "nupkg")
	v.SetDefault("Workers", 5)
	v.SetDefault("GroupMode", string(GroupModeShared))
	v.SetDefault("MaxRetries", 2)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("RequestTimeout", "100s")
	v.SetDefault("RequestsPerSecond", 0)
	v.SetDefault("MaxArtifactSize", 512*1024*1024)
	v.SetDefault("MaxExtractedSize", int64(4<<30))
	v.SetDefault("StatusListen", "")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.Workers == 0 {
		g.Workers = 5
	}
	if g.GroupMode == "" {
		g.GroupMode = string(GroupModeShared)
	}
	if g.Layout == "" {
		g.Layout = layout.DefaultKey()
	}
	if g.ArtifactExt == "" {
		g.ArtifactExt = "nupkg"
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.RequestTimeout.DurationValue() == 0 {
		g.RequestTimeout = Duration(100 * time.Second)
	}
	if g.CachePath == "" {
		g.CachePath = DefaultCachePath()
	}
}

func expandHome(path string) string {
	if path == "~" || len(path) > 1 && path[0] == '~' && os.IsPathSeparator(path[1]) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
