package terminalui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"marketintel/model"
	"marketintel/trading"
)

func TestFormatVolume(t *testing.T) {
	assert.Equal(t, "950", formatVolume(950))
	assert.Equal(t, "12.3K", formatVolume(12_345))
	assert.Equal(t, "4.50M", formatVolume(4_500_000))
	assert.Equal(t, "1.20B", formatVolume(1_200_000_000))
}

func TestRenderPlainSortsAndMarksFailures(t *testing.T) {
	var buf bytes.Buffer
	RenderPlain(&buf, Snapshot{
		Now:    time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC),
		Market: trading.MarketStatus{Session: trading.Regular, IsOpen: true, LocalTime: "10:00:00"},
		Quotes: []*model.QuoteSnapshot{
			{Symbol: "MSFT", Name: "Microsoft", Price: 410, PreviousClose: 400, Volume: 2_000_000},
			nil,
			{Symbol: "AAPL", Name: "Apple", Price: 190, PreviousClose: 200, Volume: 900},
		},
		Failed: []string{"ZZZZ"},
	})
	out := buf.String()

	assert.Contains(t, out, "2025-01-06 15:00:00")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("AAPL")), bytes.Index(buf.Bytes(), []byte("MSFT")))
	assert.Contains(t, out, "+2.50%")
	assert.Contains(t, out, "-5.00%")
	assert.Contains(t, out, "ZZZZ")
	assert.NotContains(t, out, "刷新")
}
