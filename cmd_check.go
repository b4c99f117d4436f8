package main

import (
	"github.com/spf13/cobra"

	"github.com/any-hub/pkg-restore/internal/logging"
)

func newCheckConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, configPath, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, err := initLogger(cmd, cfg)
			if err != nil {
				return err
			}

			fields := logging.BaseFields("check_config", configPath)
			fields["cache_path"] = cfg.Global.CachePath
			fields["repository"] = cfg.Global.RepositoryURL
			fields["layout"] = cfg.Global.Layout
			fields["mode"] = cfg.Global.Mode()
			fields["result"] = "ok"
			logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
	addRepositoryFlags(cmd.Flags())
	return cmd
}
