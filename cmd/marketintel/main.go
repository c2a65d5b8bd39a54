package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"marketintel/config"
	"marketintel/internal/intelctl"
	"marketintel/internal/intelsvc"
)

// Version is injected by build scripts via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// defaultConfigPath 未指定时优先使用 ./config.yaml
func defaultConfigPath(p string) string {
	if p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func newRootCmd() *cobra.Command {
	var configPath string

	serve := func(cmd *cobra.Command, args []string) error {
		return intelsvc.Run(defaultConfigPath(configPath))
	}

	root := &cobra.Command{
		Use:           "marketintel",
		Short:         "Market data aggregation and quant analytics service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          serve,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径(YAML格式)，默认优先使用 ./config.yaml")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (default)",
		RunE:  serve,
	})
	root.AddCommand(backtestCmd(&configPath))
	root.AddCommand(quoteCmd(&configPath))
	return root
}

// cliSetup 子命令共用：加载配置、日志，返回随信号取消的 ctx
func cliSetup(configPath string) (*config.Config, context.Context, context.CancelFunc) {
	cfg := config.GetConfig(defaultConfigPath(configPath))
	intelsvc.SetupLogging(cfg.LogLevel, true)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return cfg, ctx, cancel
}

func backtestCmd(configPath *string) *cobra.Command {
	var opts intelctl.BacktestOptions
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a daily backtest from a YAML file and exit",
		Long: `Run a daily backtest from a YAML run file.

Examples:
  marketintel backtest --bt-config backtest.yaml
  marketintel backtest --bt-config backtest.yaml --days 365 --json --out runtime/bt.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, cancel := cliSetup(*configPath)
			defer cancel()
			_, scan := intelsvc.NewSource(cfg)
			if err := intelctl.RunBacktest(ctx, scan, opts, cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("backtest: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ConfigPath, "bt-config", "backtest.yaml", "回测配置文件路径(YAML格式)")
	cmd.Flags().IntVar(&opts.Days, "days", 0, "覆盖日期窗口：最近 N 个自然日(结束日期为今天)")
	cmd.Flags().StringVar(&opts.Out, "out", "", "输出文件路径(默认stdout)，.json 后缀输出 JSON")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "输出完整 JSON 结果")
	return cmd
}

func quoteCmd(configPath *string) *cobra.Command {
	var watch time.Duration
	cmd := &cobra.Command{
		Use:   "quote SYMBOL...",
		Short: "Print live quotes in the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, cancel := cliSetup(*configPath)
			defer cancel()
			_, scan := intelsvc.NewSource(cfg)
			log.Debug().Strs("symbols", args).Msg("[quote] start")
			return intelctl.RunQuote(ctx, scan, intelctl.QuoteOptions{Symbols: args, Watch: watch}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 0, "刷新间隔(如 5s)，0 表示只显示一次")
	return cmd
}
