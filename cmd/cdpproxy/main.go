// Package main 是 cdpproxy 命令行入口：把浏览器页面的请求经由代理重放。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cdpproxy/internal/config"
	"cdpproxy/internal/logger"
)

var (
	cfgFile     string
	devtoolsURL string
	engine      string
	logLevel    string

	cfg *config.Config
	log logger.Logger
	zl  *logger.ZeroLogger
)

var rootCmd = &cobra.Command{
	Use:           "cdpproxy",
	Short:         "Route browser page traffic through HTTP/SOCKS proxies via DevTools interception",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if devtoolsURL != "" {
			c.DevTools.URL = devtoolsURL
		}
		if engine != "" {
			c.DevTools.Engine = engine
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c
		zl = logger.New(cfg.LoggerOptions())
		log = zl
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if zl != nil {
			return zl.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&devtoolsURL, "devtools", "", "DevTools HTTP endpoint (overrides config)")
	rootCmd.PersistentFlags().StringVar(&engine, "engine", "", "browser driver: cdp or rod (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	rootCmd.AddCommand(targetsCmd, bindCmd, lookupCmd, historyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
