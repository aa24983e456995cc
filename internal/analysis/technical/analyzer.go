package technical

import (
	"github.com/markcheno/go-talib"

	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/pkg/models"
)

// Value значение индикатора на свече. Ready=false, пока не накоплено
// достаточно истории для окна индикатора.
type Value struct {
	Value float64
	Ready bool
}

// IndicatorSet индикаторы, выровненные по свечам серии
type IndicatorSet struct {
	EMAFast    []Value
	EMASlow    []Value
	RSI        []Value
	MACD       []Value
	MACDSignal []Value
	MACDHist   []Value
	ATR        []Value
	VolumeSMA  []Value

	Trend      models.TrendDirection
	TrendKnown bool // false, если EMA или окно наклона еще не готовы
}

// Last возвращает последнее значение ряда
func Last(values []Value) Value {
	if len(values) == 0 {
		return Value{}
	}
	return values[len(values)-1]
}

// Analyzer реализует анализатор технических индикаторов
type Analyzer struct {
	config config.TechnicalConfig
}

// NewAnalyzer создает новый анализатор технических индикаторов
func NewAnalyzer(cfg config.TechnicalConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Config возвращает настройки анализатора
func (a *Analyzer) Config() config.TechnicalConfig {
	return a.config
}

// Compute рассчитывает индикаторы для серии.
// talib паникует на коротких входных данных, поэтому каждый индикатор
// считается только когда длины серии хватает на его окно.
func (a *Analyzer) Compute(series models.CandleSeries) *IndicatorSet {
	n := len(series)
	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()
	volumes := series.Volumes()

	set := &IndicatorSet{
		EMAFast:    a.calculateEMA(closes, a.config.EMAFast),
		EMASlow:    a.calculateEMA(closes, a.config.EMASlow),
		RSI:        a.calculateRSI(closes),
		ATR:        a.calculateATR(highs, lows, closes),
		VolumeSMA:  a.calculateSMA(volumes, a.config.VolumePeriod),
		MACD:       make([]Value, n),
		MACDSignal: make([]Value, n),
		MACDHist:   make([]Value, n),
	}
	a.calculateMACD(closes, set)

	set.Trend, set.TrendKnown = a.classifyTrend(closes, set.EMAFast, set.EMASlow)
	return set
}

// calculateEMA готов с индекса period-1
func (a *Analyzer) calculateEMA(values []float64, period int) []Value {
	out := make([]Value, len(values))
	if period < 2 || len(values) < period {
		return out
	}
	return wrap(talib.Ema(values, period), period-1, out)
}

// calculateSMA готов с индекса period-1
func (a *Analyzer) calculateSMA(values []float64, period int) []Value {
	out := make([]Value, len(values))
	if period < 2 || len(values) < period {
		return out
	}
	return wrap(talib.Sma(values, period), period-1, out)
}

// calculateRSI готов с индекса period: первой точке нужно period изменений цены
func (a *Analyzer) calculateRSI(closes []float64) []Value {
	period := a.config.RSIPeriod
	out := make([]Value, len(closes))
	if period < 2 || len(closes) <= period {
		return out
	}
	return wrap(talib.Rsi(closes, period), period, out)
}

// calculateATR готов с индекса period
func (a *Analyzer) calculateATR(highs, lows, closes []float64) []Value {
	period := a.config.ATRPeriod
	out := make([]Value, len(closes))
	if period < 1 || len(closes) <= period {
		return out
	}
	return wrap(talib.Atr(highs, lows, closes, period), period, out)
}

// calculateMACD заполняет линии MACD. Линия и гистограмма готовы
// с индекса (slow-1)+(signal-1).
func (a *Analyzer) calculateMACD(closes []float64, set *IndicatorSet) {
	fast, slow, signal := a.config.MACDFast, a.config.MACDSlow, a.config.MACDSignal
	if fast < 2 || slow <= fast || signal < 1 || len(closes) < slow+signal-1 {
		return
	}

	macd, macdSignal, hist := talib.Macd(closes, fast, slow, signal)
	start := (slow - 1) + (signal - 1)
	wrap(macd, start, set.MACD)
	wrap(macdSignal, start, set.MACDSignal)
	wrap(hist, start, set.MACDHist)
}

// classifyTrend определяет тренд по расположению EMA и наклону быстрой EMA.
// Расстояние между EMA должно быть не меньше порога в процентах от цены,
// а наклон за SlopeLookback свечей должен совпадать по знаку.
// Второе значение false, если истории недостаточно.
func (a *Analyzer) classifyTrend(closes []float64, emaFast, emaSlow []Value) (models.TrendDirection, bool) {
	n := len(closes)
	lookback := a.config.SlopeLookback
	if n == 0 || lookback < 1 || n <= lookback {
		return models.TrendNeutral, false
	}

	fast, slow := emaFast[n-1], emaSlow[n-1]
	prev := emaFast[n-1-lookback]
	if !fast.Ready || !slow.Ready || !prev.Ready {
		return models.TrendNeutral, false
	}

	spread := fast.Value - slow.Value
	threshold := closes[n-1] * a.config.TrendThresholdPercent / 100
	slope := fast.Value - prev.Value

	switch {
	case spread > 0 && spread >= threshold && slope > 0:
		return models.TrendBullish, true
	case spread < 0 && -spread >= threshold && slope < 0:
		return models.TrendBearish, true
	default:
		return models.TrendNeutral, true
	}
}

func wrap(raw []float64, start int, out []Value) []Value {
	for i := start; i < len(raw) && i < len(out); i++ {
		out[i] = Value{Value: raw[i], Ready: true}
	}
	return out
}
