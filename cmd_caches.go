package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCachesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "caches",
		Short:             "Inspect or clear the cache stores",
		DisableAutoGenTag: true,
	}

	cmd.AddCommand(&cobra.Command{
		Use:               "list",
		Short:             "List cache stores in creation order",
		DisableAutoGenTag: true,
		Args:              cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			rt, err := bootstrap(opts.configPath())
			if err != nil {
				return err
			}
			defer rt.Close()

			names, err := rt.worker.CacheInfo(c.Context())
			if err != nil {
				return fmt.Errorf("读取缓存列表失败: %w", err)
			}
			for _, name := range names {
				fmt.Fprintln(stdOut, name)
			}
			return nil
		},
	})

	var all bool
	clearCmd := &cobra.Command{
		Use:               "clear",
		Short:             "Delete the current cache stores (or every store with --all)",
		DisableAutoGenTag: true,
		Args:              cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			rt, err := bootstrap(opts.configPath())
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := c.Context()
			var deleted []string
			if all {
				names, err := rt.storage.Keys(ctx)
				if err != nil {
					return fmt.Errorf("读取缓存列表失败: %w", err)
				}
				for _, name := range names {
					if _, err := rt.storage.Delete(ctx, name); err != nil {
						return fmt.Errorf("删除缓存 %s 失败: %w", name, err)
					}
					deleted = append(deleted, name)
				}
			} else if deleted, err = rt.worker.ClearCaches(ctx); err != nil {
				return fmt.Errorf("清理缓存失败: %w", err)
			}
			for _, name := range deleted {
				fmt.Fprintf(stdOut, "deleted: %s\n", name)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "删除所有缓存仓，而不仅是当前版本")
	cmd.AddCommand(clearCmd)
	return cmd
}
