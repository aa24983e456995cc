package volumedelta

import (
	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/pkg/models"
)

// Result кумулятивная дельта объемов за последние Lookback свечей
type Result struct {
	Cumulative  float64 // взвешенная сумма объемов со знаком направления свечи
	TotalVolume float64 // взвешенная сумма объемов без знака
	Normalized  float64 // Cumulative/TotalVolume в диапазоне -100..100
	Candles     int
}

// Bias направление давления объема
func (r Result) Bias() models.TrendDirection {
	switch {
	case r.Normalized > 0:
		return models.TrendBullish
	case r.Normalized < 0:
		return models.TrendBearish
	default:
		return models.TrendNeutral
	}
}

// Analyzer реализует анализатор дельты объемов
type Analyzer struct {
	config config.VolumeDeltaConfig
}

// NewAnalyzer создает новый анализатор дельты объемов
func NewAnalyzer(cfg config.VolumeDeltaConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Lookback число свечей, нужное для расчета
func (a *Analyzer) Lookback() int {
	return a.config.Lookback
}

// Analyze считает дельту по последним Lookback свечам. Объем бычьей свечи
// (close > open) берется со знаком плюс, медвежьей со знаком минус, доджи
// не учитывается. Более старые свечи весят меньше: вес свечи с возрастом k
// равен Decay^k. Если свечей меньше Lookback, возвращает false.
func (a *Analyzer) Analyze(series models.CandleSeries) (Result, bool) {
	lookback := a.config.Lookback
	if lookback <= 0 || len(series) < lookback {
		return Result{}, false
	}

	decay := a.config.Decay
	if decay <= 0 || decay > 1 {
		decay = 1
	}

	var res Result
	weight := 1.0
	for i := len(series) - 1; i >= len(series)-lookback; i-- {
		c := series[i]

		var delta float64
		switch {
		case c.Close > c.Open:
			delta = c.Volume
		case c.Close < c.Open:
			delta = -c.Volume
		}

		res.Cumulative += delta * weight
		res.TotalVolume += c.Volume * weight
		res.Candles++
		weight *= decay
	}

	if res.TotalVolume > 0 {
		res.Normalized = res.Cumulative / res.TotalVolume * 100
	}
	return res, true
}
