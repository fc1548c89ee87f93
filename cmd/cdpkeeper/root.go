package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cdpkeeper/internal/config"
	"cdpkeeper/internal/logger"
	"cdpkeeper/pkg/api"
)

var (
	cfgFile string
	verbose bool
)

// SetupRootCmd 组装根命令与全部子命令
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cdpkeeper",
		Short: "Keep a warmed-up Chrome tab alive for a proxy pipeline",
		Long: `cdpkeeper drives a remote Chrome over the DevTools protocol: it opens a decoy tab,
reloads it every few proxied requests so cookies stay valid, and reopens it when the
browser restarts. Connection defaults to CHROME_DEBUGGING_HOST:CHROME_DEBUGGING_PORT.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(onStartCmd())
	rootCmd.AddCommand(iterateCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(targetsCmd())
	return rootCmd
}

// withService 载入配置并创建服务，fn 返回后关闭存储
func withService(fn func(svc api.Service, l logger.Logger) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	l := logger.New(logger.Options{Level: cfg.Log.Level, Writer: cfg.Log.Writer, File: cfg.Log.File})

	svc, closeStore, err := api.NewService(cfg, l)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			l.Err(cerr, "关闭存储失败")
		}
	}()
	return fn(svc, l)
}
