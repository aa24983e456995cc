package orderbook

import (
	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/pkg/models"
)

// Analyzer реализует анализатор стакана заявок
type Analyzer struct {
	config config.OrderBookConfig
}

// NewAnalyzer создает новый анализатор стакана заявок
func NewAnalyzer(cfg config.OrderBookConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Depth число уровней, запрашиваемых у биржи
func (a *Analyzer) Depth() int {
	return a.config.Depth
}

// Analyze собирает метрики, накопленную глубину и стены для снимка стакана.
// Накопленная глубина и стены строятся по тем же DisplayLimit уровням, что и метрики.
func (a *Analyzer) Analyze(book *models.OrderBook) *models.DepthReport {
	report := &models.DepthReport{
		Symbol:    book.Symbol,
		Timestamp: book.Timestamp,
	}

	if metrics, ok := DepthMetrics(book.Bids, book.Asks, a.config.DisplayLimit); ok {
		report.Metrics = &metrics
	}

	bids := topLevels(book.Bids, a.config.DisplayLimit)
	asks := topLevels(book.Asks, a.config.DisplayLimit)

	report.CumulativeBids = CumulativeDepth(bids)
	report.CumulativeAsks = CumulativeDepth(asks)
	report.Walls = DetectWalls(bids, asks, a.config.WallThresholdPercent)
	report.NormalizationMax = NormalizationMax(report.CumulativeBids, report.CumulativeAsks)
	return report
}

// DepthMetrics рассчитывает спред и дисбаланс по верхним displayLimit уровням
// каждой стороны (displayLimit <= 0 означает все уровни). Если одна из сторон
// пуста, спред не определен и возвращается false.
func DepthMetrics(bids, asks []models.OrderBookLevel, displayLimit int) (models.DepthMetrics, bool) {
	bids = topLevels(bids, displayLimit)
	asks = topLevels(asks, displayLimit)
	if len(bids) == 0 || len(asks) == 0 {
		return models.DepthMetrics{}, false
	}

	m := models.DepthMetrics{
		BestBid: bids[0].Price,
		BestAsk: asks[0].Price,
	}
	m.MidPrice = (m.BestBid + m.BestAsk) / 2
	m.SpreadAbsolute = m.BestAsk - m.BestBid
	if m.MidPrice > 0 {
		m.SpreadPercent = m.SpreadAbsolute / m.MidPrice * 100
	}

	m.BidDepthTotal = totalQuantity(bids)
	m.AskDepthTotal = totalQuantity(asks)
	m.DepthImbalance = m.BidDepthTotal - m.AskDepthTotal
	if total := m.BidDepthTotal + m.AskDepthTotal; total > 0 {
		m.DepthImbalancePercent = m.DepthImbalance / total * 100
	}
	return m, true
}

// CumulativeDepth считает нарастающий итог объема, сохраняя порядок уровней
func CumulativeDepth(levels []models.OrderBookLevel) []models.CumulativeLevel {
	out := make([]models.CumulativeLevel, len(levels))
	var running float64
	for i, level := range levels {
		running += level.Quantity
		out[i] = models.CumulativeLevel{
			Price:      level.Price,
			Quantity:   level.Quantity,
			Cumulative: running,
		}
	}
	return out
}

// DetectWalls помечает каждый уровень (сначала биды, затем аски). Стена это
// уровень с объемом не меньше thresholdPercent процентов от максимального
// объема по обеим сторонам. Для стакана с нулевыми объемами стен нет.
func DetectWalls(bids, asks []models.OrderBookLevel, thresholdPercent float64) []models.LiquidityWall {
	walls := make([]models.LiquidityWall, 0, len(bids)+len(asks))
	if len(bids)+len(asks) == 0 {
		return walls
	}

	maxQuantity := max(maxLevelQuantity(bids), maxLevelQuantity(asks))
	threshold := maxQuantity * thresholdPercent / 100

	annotate := func(levels []models.OrderBookLevel, isBid bool) {
		for _, level := range levels {
			walls = append(walls, models.LiquidityWall{
				Price:    level.Price,
				Quantity: level.Quantity,
				IsBid:    isBid,
				IsWall:   maxQuantity > 0 && level.Quantity >= threshold,
			})
		}
	}
	annotate(bids, true)
	annotate(asks, false)
	return walls
}

// OnlyWalls оставляет уровни, отмеченные как стены
func OnlyWalls(levels []models.LiquidityWall) []models.LiquidityWall {
	var out []models.LiquidityWall
	for _, level := range levels {
		if level.IsWall {
			out = append(out, level)
		}
	}
	return out
}

// NormalizationMax большее из итоговых значений накопленной глубины сторон,
// 0 для пустых сторон. Используется для масштабирования графика глубины.
func NormalizationMax(cumulativeBids, cumulativeAsks []models.CumulativeLevel) float64 {
	return max(lastCumulative(cumulativeBids), lastCumulative(cumulativeAsks))
}

func topLevels(levels []models.OrderBookLevel, limit int) []models.OrderBookLevel {
	if limit <= 0 || len(levels) <= limit {
		return levels
	}
	return levels[:limit]
}

func totalQuantity(levels []models.OrderBookLevel) float64 {
	var total float64
	for _, level := range levels {
		total += level.Quantity
	}
	return total
}

func maxLevelQuantity(levels []models.OrderBookLevel) float64 {
	var m float64
	for _, level := range levels {
		m = max(m, level.Quantity)
	}
	return m
}

func lastCumulative(levels []models.CumulativeLevel) float64 {
	if len(levels) == 0 {
		return 0
	}
	return levels[len(levels)-1].Cumulative
}
