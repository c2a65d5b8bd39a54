package intelctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"

	"marketintel/backtest"
	"marketintel/fetcher"
)

// BacktestOptions backtest 子命令参数
type BacktestOptions struct {
	ConfigPath string
	// Days 覆盖日期窗口为最近 N 个自然日(截至今天)
	Days int
	// Out 输出文件，为空写 stdout
	Out  string
	JSON bool
	Now  func() time.Time
}

// applyDays 用滚动窗口覆盖配置中的起止日期，返回窗口说明
func applyDays(req *backtest.Request, days int, now time.Time) string {
	if days <= 0 {
		return ""
	}
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -days)
	req.StartDate = start.Format("2006-01-02")
	req.EndDate = end.Format("2006-01-02")
	return fmt.Sprintf("[backtest] window: %s ~ %s (last %d days)", req.StartDate, req.EndDate, days)
}

func ensureParentDir(path string) error {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil
	}
	dir := filepath.Dir(p)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// RunBacktest 读取 YAML 回测配置，运行并输出结果
func RunBacktest(ctx context.Context, src fetcher.Source, opts BacktestOptions, stdout io.Writer) error {
	req, err := backtest.LoadRunConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	if note := applyDays(&req, opts.Days, now()); note != "" {
		log.Info().Msg(note)
	}

	res, err := backtest.NewEngine(src, backtest.WithNow(now)).Run(ctx, req)
	if err != nil {
		return err
	}

	w := stdout
	if opts.Out != "" {
		if err := ensureParentDir(opts.Out); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		f, err := os.Create(opts.Out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	if opts.JSON || strings.HasSuffix(strings.ToLower(opts.Out), ".json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return WriteSummary(w, res)
}

// WriteSummary 输出回测摘要表
func WriteSummary(w io.Writer, r *backtest.Result) error {
	s := r.Summary
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "策略\t%s\n", r.Strategy)
	fmt.Fprintf(tw, "标的\t%s\n", strings.Join(r.Symbols, ", "))
	if len(r.ExcludedSymbols) > 0 {
		fmt.Fprintf(tw, "剔除(数据不足)\t%s\n", strings.Join(r.ExcludedSymbols, ", "))
	}
	fmt.Fprintf(tw, "区间\t%s ~ %s (%d 个交易日)\n", r.StartDate, r.EndDate, s.TradingDays)
	fmt.Fprintf(tw, "初始资金\t%.2f\n", s.InitialCapital)
	fmt.Fprintf(tw, "期末市值\t%.2f\n", s.FinalValue)
	fmt.Fprintf(tw, "总收益\t%+.2f%%\n", s.TotalReturn)
	fmt.Fprintf(tw, "年化收益\t%+.2f%%\n", s.AnnualizedReturn)
	fmt.Fprintf(tw, "年化波动\t%.2f%%\n", s.Volatility)
	fmt.Fprintf(tw, "Sharpe / Sortino\t%.2f / %.2f\n", s.SharpeRatio, s.SortinoRatio)
	fmt.Fprintf(tw, "最大回撤\t%.2f%%\n", s.MaxDrawdown)
	fmt.Fprintf(tw, "胜率(日)\t%.2f%%\n", s.WinRate)
	fmt.Fprintf(tw, "交易次数\t%d\n", s.TotalTrades)
	if b := r.Benchmark; b != nil {
		fmt.Fprintf(tw, "基准 %s\t%+.2f%% (超额 %+.2f%%)\n", b.Symbol, b.TotalReturn, b.ExcessReturn)
	}
	for _, y := range s.YearlyReturns {
		fmt.Fprintf(tw, "  %d\t%+.2f%%\n", y.Year, y.Return)
	}
	return tw.Flush()
}
