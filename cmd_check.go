package main

import (
	"github.com/spf13/cobra"

	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/logging"
)

func newCheckConfigCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:               "check-config",
		Short:             "Validate the configuration file and exit",
		DisableAutoGenTag: true,
		Args:              cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckConfig(opts.configPath())
		},
	}
}

func runCheckConfig(configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	site, err := config.BuildSiteRuntime(cfg)
	if err != nil {
		return err
	}

	fields := logging.BaseFields("check_config", configPath)
	fields["origin"] = cfg.Site.Origin
	fields["shell_cache"] = site.ShellCache
	fields["general_cache"] = site.GeneralCache
	fields["shell_urls"] = len(site.ShellURLs)
	fields["external_resources"] = len(site.ExternalResources)
	fields["result"] = "ok"
	logger.WithFields(fields).Info("config_ok")
	return nil
}
