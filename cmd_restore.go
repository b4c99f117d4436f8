package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/pkg-restore/internal/config"
	"github.com/any-hub/pkg-restore/internal/logging"
	"github.com/any-hub/pkg-restore/internal/manifest"
	"github.com/any-hub/pkg-restore/internal/restore"
	"github.com/any-hub/pkg-restore/internal/scheduler"
	"github.com/any-hub/pkg-restore/internal/server"
	"github.com/any-hub/pkg-restore/internal/server/routes"
	"github.com/any-hub/pkg-restore/internal/version"
)

func newRestoreCommand(opts *rootOptions) *cobra.Command {
	var failOnError bool

	cmd := &cobra.Command{
		Use:   "restore [project-path]",
		Short: "Restore every package referenced by the manifests under project-path",
		Long: `Discovers manifests in project-path (a directory, non-recursive, or a single
manifest file; defaults to the current directory), restores every missing
package into the shared cache and prints one line per outcome followed by a
summary. Package failures are reported but do not change the exit code unless
--fail-on-error is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := "."
			if len(args) == 1 {
				project = args[0]
			}
			return runRestore(cmd, opts, project, failOnError)
		},
	}

	flags := cmd.Flags()
	addRepositoryFlags(flags)
	flags.String("mode", "", "多个 manifest 的调度方式：shared|grouped|process")
	flags.String("status-listen", "", "状态端点监听地址，例如 127.0.0.1:9090（为空则不启动）")
	flags.BoolVar(&failOnError, "fail-on-error", false, "存在失败的包时以退出码 3 结束")
	return cmd
}

func runRestore(cmd *cobra.Command, opts *rootOptions, project string, failOnError bool) error {
	cfg, configPath, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger, err := initLogger(cmd, cfg)
	if err != nil {
		return err
	}

	manifests, err := manifest.Discover(project)
	if err != nil {
		return setupError("读取项目失败: %w", err)
	}

	eng, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}

	fields := logging.BaseFields("startup", configPath)
	fields["project"] = project
	fields["manifests"] = len(manifests)
	fields["cache_path"] = eng.store.Root()
	fields["repository"] = cfg.Global.RepositoryURL
	fields["mode"] = cfg.Global.Mode()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if cfg.Global.StatusListen != "" {
		srv, err := startStatusServer(cfg, eng.coordinator.Table(), logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := srv.Shutdown(); err != nil {
				logger.WithField("action", "status_shutdown").Warn(err.Error())
			}
		}()
	}

	schedOpts := scheduler.Options{
		Mode:        cfg.Global.Mode(),
		Workers:     cfg.Global.Workers,
		Coordinator: eng.coordinator,
		Store:       eng.store,
		Logger:      logger,
		Progress: func(o restore.Outcome) {
			fmt.Fprintln(stdOut, o.String())
		},
	}
	groups, skipped := scheduler.LoadGroups(manifests, logger)
	if schedOpts.Mode == config.GroupModeProcess {
		runner, err := scheduler.NewExecRunner(workerArgs(configPath, cfg, len(groups)), &lockedWriter{w: stdErr})
		if err != nil {
			return setupError("初始化 worker 进程失败: %w", err)
		}
		schedOpts.Runner = runner
	}
	sched, err := scheduler.New(schedOpts)
	if err != nil {
		return setupError("初始化调度器失败: %w", err)
	}

	report := sched.Run(cmd.Context(), groups)
	report.ManifestErrors = append(skipped, report.ManifestErrors...)
	printReport(report)

	if failOnError && len(report.Failures()) > 0 {
		return &exitError{code: exitPackageFailures}
	}
	return nil
}

func startStatusServer(cfg *config.Config, table *restore.StatusTable, logger *logrus.Logger) (*server.StatusServer, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:  logger,
		Status:  table,
		Mode:    string(cfg.Global.Mode()),
		Started: time.Now(),
	})
	if err != nil {
		return nil, setupError("初始化状态服务失败: %w", err)
	}
	routes.RegisterLayoutRoutes(app, cfg.Global.Layout, cfg.Global.ArtifactExt)

	srv, err := server.Start(app, cfg.Global.StatusListen, logger)
	if err != nil {
		return nil, setupError("状态服务启动失败: %w", err)
	}
	return srv, nil
}

// printReport 在状态流之后输出缺失、被拒绝的记录与聚合统计。
func printReport(report restore.Report) {
	for _, id := range report.Missing {
		fmt.Fprintf(stdOut, "%-19s %s\n", "missing", id)
	}
	for _, rej := range report.Rejected {
		fmt.Fprintf(stdOut, "%-19s %s@%s (%s): %s\n", "rejected", rej.Record.Name, rej.Record.Version, rej.Record.Source, rej.Reason)
	}
	for _, msg := range report.ManifestErrors {
		fmt.Fprintf(stdOut, "%-19s %s\n", "manifest-error", msg)
	}
	fmt.Fprintf(stdOut, "summary: %s\n", report.Summary())
}
