package terminalui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"marketintel/model"
	"marketintel/trading"
)

// Snapshot 一帧终端行情
type Snapshot struct {
	Now    time.Time
	Market trading.MarketStatus
	Quotes []*model.QuoteSnapshot
	// Failed 本轮拉取失败的代码
	Failed []string
	// Refresh 刷新间隔，0 表示只显示一次
	Refresh time.Duration
}

const rule = "══════════════════════════════════════════════════════════════════════════"

// Render 清屏并输出一帧
func Render(w io.Writer, s Snapshot) {
	fmt.Fprint(w, "\033[2J\033[H")
	RenderPlain(w, s)
}

// RenderPlain 不清屏输出，便于测试与重定向
func RenderPlain(w io.Writer, s Snapshot) {
	now := s.Now
	if now.IsZero() {
		now = time.Now()
	}

	fmt.Fprintf(w, "╔%s╗\n", rule)
	fmt.Fprintf(w, "║  美股实时行情  %-58s║\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "╠%s╣\n", rule)

	status := string(s.Market.Session)
	if s.Market.IsOpen {
		status = "\033[32m" + status + "\033[0m"
	}
	if s.Market.Holiday != "" {
		status += " (" + s.Market.Holiday + ")"
	}
	fmt.Fprintf(w, "║  市场: %s  纽约时间 %s\n", status, s.Market.LocalTime)
	fmt.Fprintf(w, "╟%s╢\n", strings.Repeat("─", 74))
	fmt.Fprintln(w, "║  代码      名称                最新价     涨跌幅     涨跌额        成交量")
	fmt.Fprintf(w, "╟%s╢\n", strings.Repeat("─", 74))

	quotes := append([]*model.QuoteSnapshot(nil), s.Quotes...)
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })
	for _, q := range quotes {
		if q == nil {
			continue
		}
		change := q.Change()
		color := colorByChange(change)
		fmt.Fprintf(w, "║  %-9s %-18s %s%9.2f  %+8.2f%%  %+9.2f\033[0m  %12s\n",
			q.Symbol, truncateName(q.Name, 18), color, q.Price, q.ChangePercent(), change, formatVolume(q.Volume))
	}
	if len(s.Failed) > 0 {
		failed := append([]string(nil), s.Failed...)
		sort.Strings(failed)
		fmt.Fprintf(w, "║  \033[33m无数据: %s\033[0m\n", strings.Join(failed, ", "))
	}

	fmt.Fprintf(w, "╚%s╝\n", rule)
	if s.Refresh > 0 {
		fmt.Fprintf(w, "  按 Ctrl+C 退出 | %s刷新\n", s.Refresh)
	}
}

// 美股习惯：涨绿跌红
func colorByChange(change float64) string {
	if change > 0 {
		return "\033[32m"
	}
	if change < 0 {
		return "\033[31m"
	}
	return "\033[37m"
}

func truncateName(name string, maxLen int) string {
	runes := []rune(name)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return name
}

func formatVolume(vol int64) string {
	switch {
	case vol >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", float64(vol)/1e9)
	case vol >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(vol)/1e6)
	case vol >= 1_000:
		return fmt.Sprintf("%.1fK", float64(vol)/1e3)
	}
	return fmt.Sprintf("%d", vol)
}
