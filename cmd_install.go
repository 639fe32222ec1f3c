package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/any-hub/shellcache/internal/worker"
)

func newInstallCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Precache the App Shell and activate the current cache version",
		Long: `
The "install" command runs the install and activate phases once, prints a
summary and exits. Stale cache versions are deleted during activation.
`,
		DisableAutoGenTag: true,
		Args:              cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(opts.configPath())
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			report, err := rt.worker.Install(ctx)
			if err != nil {
				return fmt.Errorf("安装 App Shell 失败: %w", err)
			}
			var deleted []string
			if rt.worker.State() == worker.StateInstalled {
				if deleted, err = rt.worker.Activate(ctx); err != nil {
					return fmt.Errorf("激活缓存失败: %w", err)
				}
			}

			fmt.Fprintf(stdOut, "shell: %d/%d stored\n", report.ShellStored, report.ShellAttempted)
			fmt.Fprintf(stdOut, "external: %d/%d stored\n", report.ExternalStored, report.ExternalAttempted)
			for _, name := range deleted {
				fmt.Fprintf(stdOut, "deleted: %s\n", name)
			}
			fmt.Fprintf(stdOut, "state: %s\n", rt.worker.State())
			return nil
		},
	}
}
