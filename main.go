package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const (
	configEnv         = "SHELLCACHE_CONFIG"
	defaultConfigPath = "config.toml"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// globalOptions 汇总所有子命令共享的标志，便于在测试中注入。
type globalOptions struct {
	configFlag string
}

// configPath 依次使用 --config、SHELLCACHE_CONFIG 与 ./config.toml。
func (o *globalOptions) configPath() string {
	if path := strings.TrimSpace(o.configFlag); path != "" {
		return path
	}
	if path := strings.TrimSpace(os.Getenv(configEnv)); path != "" {
		return path
	}
	return defaultConfigPath
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 构建命令树并运行，返回退出码，方便测试。
func execute(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		var exit exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		return 1
	}
	return 0
}

// exitError 携带非 1 的退出码（参数错误返回 2）。
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "shellcache",
		Short: "Offline cache dispatcher for the portfolio site",
		Long: `
shellcache fronts the portfolio site with an offline-first cache: it precaches
the App Shell on install, evicts stale cache versions on activate and answers
every page request from cache or network according to its category.

Without a subcommand it runs "serve".
`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts.configPath())
		},
	}
	root.SetOut(stdOut)
	root.SetErr(stdErr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exitError{code: 2, err: fmt.Errorf("解析参数失败: %w", err)}
	})

	root.PersistentFlags().StringVar(&opts.configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SHELLCACHE_CONFIG 覆盖）")

	root.AddCommand(
		newServeCmd(opts),
		newCheckConfigCmd(opts),
		newInstallCmd(opts),
		newCachesCmd(opts),
		newVersionCmd(),
	)
	return root
}
