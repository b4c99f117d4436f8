package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/any-hub/pkg-restore/internal/config"
	"github.com/any-hub/pkg-restore/internal/scheduler"
)

// newWorkerCommand 供 process 模式使用：还原单个 manifest 并把 JSON 报告写到 stdout。
func newWorkerCommand(opts *rootOptions) *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:    "worker --manifest <file>",
		Short:  "Restore a single manifest and print a JSON report (used by process mode)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, err := initLogger(cmd, cfg)
			if err != nil {
				return err
			}
			eng, err := newEngine(cfg, logger)
			if err != nil {
				return err
			}

			sched, err := scheduler.New(scheduler.Options{
				Mode:        config.GroupModeShared,
				Workers:     cfg.Global.Workers,
				Coordinator: eng.coordinator,
				Logger:      logger,
			})
			if err != nil {
				return setupError("初始化调度器失败: %w", err)
			}

			groups, skipped := scheduler.LoadGroups([]string{manifestPath}, logger)
			report := sched.Run(cmd.Context(), groups)
			report.ManifestErrors = skipped
			return json.NewEncoder(stdOut).Encode(report)
		},
	}

	flags := cmd.Flags()
	addRepositoryFlags(flags)
	flags.StringVar(&manifestPath, "manifest", "", "要还原的 manifest 文件")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}
