package main

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/any-hub/pkg-restore/internal/cache"
	"github.com/any-hub/pkg-restore/internal/config"
	"github.com/any-hub/pkg-restore/internal/fetch"
	"github.com/any-hub/pkg-restore/internal/logging"
	"github.com/any-hub/pkg-restore/internal/restore"
)

// flagBindings 把命令行标志映射到配置字段，未定义的标志会被忽略。
var flagBindings = map[string]string{
	"output":        "StagingPath",
	"cache-path":    "CachePath",
	"repository":    "RepositoryURL",
	"layout":        "Layout",
	"workers":       "Workers",
	"mode":          "GroupMode",
	"status-listen": "StatusListen",
	"log-level":     "LogLevel",

	"requests-per-second": "RequestsPerSecond",
}

// addRepositoryFlags 注册 restore 与 worker 共用的覆盖参数。
func addRepositoryFlags(flags *pflag.FlagSet) {
	flags.String("output", "", "staging 目录，需与缓存目录位于同一文件系统（默认 <cache>/.staging）")
	flags.String("cache-path", "", "共享缓存根目录（默认 ~/.nuget/packages）")
	flags.String("repository", "", "仓库基础地址，例如 https://repo.example.com/nuget")
	flags.String("layout", "", "仓库 URL 布局：artifactory|flatcontainer")
	flags.Int("workers", 5, "每个工作池的并发数")
	flags.String("log-level", "", "日志级别")
	flags.Float64("requests-per-second", 0, "仓库请求速率上限（每秒），0 表示不限速")
}

// loadConfig 解析配置文件路径并叠加命令行标志，返回配置与最终使用的路径。
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, string, error) {
	path := config.ResolvePath(opts.configFlag, os.Getenv(envConfigPath))

	bindings := make(map[string]*pflag.Flag, len(flagBindings))
	for flagName, key := range flagBindings {
		if f := cmd.Flags().Lookup(flagName); f != nil {
			bindings[key] = f
		}
	}

	cfg, err := config.Load(path, bindings)
	if err != nil {
		return nil, path, setupError("加载配置失败: %w", err)
	}
	return cfg, path, nil
}

// initLogger 以子命令名作为日志中的 role 字段。
func initLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logger, err := logging.InitLogger(cfg.Global, cmd.Name())
	if err != nil {
		return nil, setupError("初始化日志失败: %w", err)
	}
	return logger, nil
}

// engine 聚合一次运行共享的缓存、拉取器与协调器。
type engine struct {
	store       cache.Store
	fetcher     *fetch.Fetcher
	coordinator *restore.Coordinator
}

// newEngine 按“缓存目录 → HTTP client → Fetcher → Coordinator”顺序初始化，
// 任一步失败都属于启动错误。
func newEngine(cfg *config.Config, logger *logrus.Logger) (*engine, error) {
	store, err := cache.NewStore(cfg.Global.CachePath, cache.Options{
		StagingPath:      cfg.Global.StagingPath,
		ArtifactExt:      cfg.Global.ArtifactExt,
		MaxExtractedSize: cfg.Global.MaxExtractedSize,
	})
	if err != nil {
		return nil, setupError("初始化缓存目录失败: %w", err)
	}

	fetcher, err := fetch.NewFromConfig(cfg, fetch.NewClient(cfg), logger)
	if err != nil {
		return nil, setupError("初始化仓库客户端失败: %w", err)
	}

	coordinator, err := restore.NewCoordinator(restore.Options{
		Store:   store,
		Fetcher: fetcher,
		Locker:  restore.NewFileLocker(store),
		Logger:  logger,
	})
	if err != nil {
		return nil, setupError("初始化还原协调器失败: %w", err)
	}
	return &engine{store: store, fetcher: fetcher, coordinator: coordinator}, nil
}

// workerArgs 把父进程的有效配置传给 worker 子进程，保证双方看到同一份缓存与仓库。
// children 个子进程同时运行，速率上限在它们之间均分，仓库看到的总速率不变。
func workerArgs(configPath string, cfg *config.Config, children int) []string {
	g := cfg.Global
	args := []string{
		"--repository", g.RepositoryURL,
		"--cache-path", g.CachePath,
		"--layout", g.Layout,
		"--workers", strconv.Itoa(g.Workers),
		"--log-level", g.LogLevel,
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if g.StagingPath != "" {
		args = append(args, "--output", g.StagingPath)
	}
	if rps := childRate(g.RequestsPerSecond, children); rps > 0 {
		args = append(args, "--requests-per-second", strconv.FormatFloat(rps, 'g', -1, 64))
	}
	return args
}

func childRate(total float64, children int) float64 {
	if total <= 0 {
		return 0
	}
	if children <= 1 {
		return total
	}
	return total / float64(children)
}
