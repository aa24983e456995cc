package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/pkg/models"
)

func levels(pairs ...float64) []models.OrderBookLevel {
	out := make([]models.OrderBookLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.OrderBookLevel{Price: pairs[i], Quantity: pairs[i+1]})
	}
	return out
}

func TestDepthMetricsSingleLevelScenario(t *testing.T) {
	m, ok := DepthMetrics(levels(100, 5), levels(101, 5), 10)
	require.True(t, ok)

	assert.Equal(t, 100.0, m.BestBid)
	assert.Equal(t, 101.0, m.BestAsk)
	assert.Equal(t, 100.5, m.MidPrice)
	assert.Equal(t, 1.0, m.SpreadAbsolute)
	assert.InDelta(t, 0.995, m.SpreadPercent, 0.001)
	assert.Equal(t, 0.0, m.DepthImbalance)
	assert.Equal(t, 0.0, m.DepthImbalancePercent)
}

func TestDepthMetricsEmptySide(t *testing.T) {
	_, ok := DepthMetrics(nil, levels(101, 5), 10)
	assert.False(t, ok)
	_, ok = DepthMetrics(levels(100, 5), nil, 10)
	assert.False(t, ok)
}

func TestDepthMetricsDisplayLimit(t *testing.T) {
	bids := levels(100, 1, 99, 1, 98, 100)
	asks := levels(101, 1, 102, 1, 103, 1)

	m, ok := DepthMetrics(bids, asks, 2)
	require.True(t, ok)
	assert.Equal(t, 2.0, m.BidDepthTotal)
	assert.Equal(t, 2.0, m.AskDepthTotal)
	assert.Equal(t, 0.0, m.DepthImbalancePercent)

	all, ok := DepthMetrics(bids, asks, 0)
	require.True(t, ok)
	assert.Equal(t, 102.0, all.BidDepthTotal)
}

func TestDepthMetricsBounds(t *testing.T) {
	tests := []struct {
		name string
		bids []models.OrderBookLevel
		asks []models.OrderBookLevel
		want float64
	}{
		{name: "bids only quantity", bids: levels(100, 7), asks: levels(100.5, 0), want: 100},
		{name: "asks only quantity", bids: levels(100, 0), asks: levels(100.5, 3), want: -100},
		{name: "all zero", bids: levels(100, 0), asks: levels(101, 0), want: 0},
		{name: "skewed", bids: levels(100, 3, 99, 3), asks: levels(101, 2), want: 50},
		{name: "zero spread", bids: levels(100, 1), asks: levels(100, 1), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := DepthMetrics(tt.bids, tt.asks, 10)
			require.True(t, ok)
			assert.InDelta(t, tt.want, m.DepthImbalancePercent, 1e-9)
			assert.GreaterOrEqual(t, m.DepthImbalancePercent, -100.0)
			assert.LessOrEqual(t, m.DepthImbalancePercent, 100.0)
			assert.GreaterOrEqual(t, m.MidPrice, m.BestBid)
			assert.LessOrEqual(t, m.MidPrice, m.BestAsk)
		})
	}
}

func TestCumulativeDepth(t *testing.T) {
	in := levels(100, 1.5, 99, 2, 98, 0.5)
	out := CumulativeDepth(in)

	require.Len(t, out, len(in))
	assert.Equal(t, []float64{1.5, 3.5, 4}, []float64{out[0].Cumulative, out[1].Cumulative, out[2].Cumulative})
	assert.Equal(t, 99.0, out[1].Price)
	assert.Equal(t, 2.0, out[1].Quantity)

	assert.Empty(t, CumulativeDepth(nil))
}

func TestDetectWalls(t *testing.T) {
	bids := levels(100, 10, 99, 2)
	asks := levels(101, 8, 102, 1)

	walls := DetectWalls(bids, asks, 80)
	require.Len(t, walls, 4)

	assert.True(t, walls[0].IsBid)
	assert.True(t, walls[0].IsWall)
	assert.False(t, walls[1].IsWall)
	assert.False(t, walls[2].IsBid)
	assert.True(t, walls[2].IsWall)
	assert.False(t, walls[3].IsWall)

	only := OnlyWalls(walls)
	require.Len(t, only, 2)
	assert.Equal(t, 100.0, only[0].Price)
	assert.Equal(t, 101.0, only[1].Price)
}

func TestDetectWallsEdgeCases(t *testing.T) {
	empty := DetectWalls(nil, nil, 80)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	zero := DetectWalls(levels(100, 0), levels(101, 0), 80)
	require.Len(t, zero, 2)
	assert.Empty(t, OnlyWalls(zero))

	all := DetectWalls(levels(100, 1), levels(101, 1), 100)
	assert.Len(t, OnlyWalls(all), 2)
}

func TestNormalizationMax(t *testing.T) {
	assert.Equal(t, 0.0, NormalizationMax(nil, nil))
	assert.Equal(t, 4.0, NormalizationMax(CumulativeDepth(levels(100, 1, 99, 3)), CumulativeDepth(levels(101, 2))))
	assert.Equal(t, 6.0, NormalizationMax(nil, CumulativeDepth(levels(101, 2, 102, 4))))
}

func TestAnalyzeBuildsReport(t *testing.T) {
	a := NewAnalyzer(config.OrderBookConfig{Depth: 50, DisplayLimit: 2, WallThresholdPercent: 80})
	ts := time.Unix(1700000000, 0)
	book := &models.OrderBook{
		Symbol:    "BTCUSDT",
		Timestamp: ts,
		Bids:      levels(100, 1, 99, 2, 98, 50),
		Asks:      levels(101, 3, 102, 1),
	}

	report := a.Analyze(book)
	require.NotNil(t, report.Metrics)
	assert.Equal(t, "BTCUSDT", report.Symbol)
	assert.Equal(t, ts, report.Timestamp)
	assert.Len(t, report.CumulativeBids, 2)
	assert.Len(t, report.CumulativeAsks, 2)
	assert.Len(t, report.Walls, 4)
	assert.Equal(t, 4.0, report.NormalizationMax)
	assert.Equal(t, 101.0, OnlyWalls(report.Walls)[0].Price)
}

func TestAnalyzeEmptyBook(t *testing.T) {
	a := NewAnalyzer(config.Default().Analysis.OrderBook)
	report := a.Analyze(&models.OrderBook{Symbol: "BTCUSDT"})
	assert.Nil(t, report.Metrics)
	assert.Empty(t, report.Walls)
	assert.Equal(t, 0.0, report.NormalizationMax)
}
