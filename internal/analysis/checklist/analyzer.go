// Package checklist оценивает серию свечей по фиксированному чек-листу
// входа в сделку и строит торговый сетап.
package checklist

import (
	"errors"
	"fmt"

	"github.com/skalibog/signalcheck/internal/analysis/technical"
	"github.com/skalibog/signalcheck/internal/analysis/volumedelta"
	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/pkg/models"
)

// ErrEmptySeries серия без свечей не может быть оценена
var ErrEmptySeries = errors.New("пустая серия свечей")

// Шаги чек-листа в порядке оценки
const (
	StepTrend = iota + 1
	StepMomentum
	StepVolume
	StepStructure
	StepRiskReward
	StepTiming

	StepCount = StepTiming
)

var stepLabels = map[int]string{
	StepTrend:      "Тренд",
	StepMomentum:   "Импульс",
	StepVolume:     "Объем",
	StepStructure:  "Структура",
	StepRiskReward: "Риск/прибыль",
	StepTiming:     "Тайминг",
}

// Analyzer реализует чек-лист сигналов
type Analyzer struct {
	config    config.ChecklistConfig
	technical *technical.Analyzer
	volume    *volumedelta.Analyzer
}

// NewAnalyzer создает анализатор чек-листа
func NewAnalyzer(cfg config.ChecklistConfig, tech *technical.Analyzer, volume *volumedelta.Analyzer) *Analyzer {
	return &Analyzer{
		config:    cfg,
		technical: tech,
		volume:    volume,
	}
}

// Evaluate проходит все шаги чек-листа. Результат зависит только от серии.
func (a *Analyzer) Evaluate(series models.CandleSeries) (*models.ChecklistResult, error) {
	if len(series) == 0 {
		return nil, ErrEmptySeries
	}

	ind := a.technical.Compute(series)

	signals := []models.ChecklistSignal{
		a.trendStep(ind),
		a.momentumStep(ind),
		a.volumeStep(series, ind),
		a.structureStep(series),
		a.riskRewardStep(series, ind),
		a.timingStep(ind),
	}

	result := &models.ChecklistResult{
		Signals:        signals,
		TrendDirection: direction(signals),
	}
	for _, s := range signals {
		if s.Status == models.StatusMet {
			result.MetCount++
		}
	}

	if result.TrendDirection != models.TrendNeutral && result.MetCount >= a.config.MinMetSteps {
		result.Setup = a.buildSetup(series, result.TrendDirection)
	}
	return result, nil
}

// direction бычье, если шаги тренда и импульса выполнены с бычьим уклоном
// и ни один выполненный шаг не указывает вниз. Медвежье симметрично.
func direction(signals []models.ChecklistSignal) models.TrendDirection {
	trend, momentum := signals[StepTrend-1], signals[StepMomentum-1]
	if trend.Status != models.StatusMet || momentum.Status != models.StatusMet || trend.Bias != momentum.Bias {
		return models.TrendNeutral
	}

	dir := trend.Bias
	if dir == models.TrendNeutral {
		return models.TrendNeutral
	}
	for _, s := range signals {
		if s.Status == models.StatusMet && s.Bias == dir.Opposite() {
			return models.TrendNeutral
		}
	}
	return dir
}

func (a *Analyzer) buildSetup(series models.CandleSeries, dir models.TrendDirection) *models.TradeSetup {
	last, _ := series.Last()
	entry := last.Close

	stop, ok := swingStop(series, dir, a.config.StructureLookback)
	if !ok {
		return nil
	}

	switch dir {
	case models.TrendBullish:
		if stop >= entry {
			return nil
		}
		return &models.TradeSetup{Entry: entry, StopLoss: stop, Target: entry + a.config.RewardRatio*(entry-stop)}
	case models.TrendBearish:
		target := entry - a.config.RewardRatio*(stop-entry)
		if stop <= entry || target <= 0 {
			return nil
		}
		return &models.TradeSetup{Entry: entry, StopLoss: stop, Target: target}
	default:
		return nil
	}
}

// swingStop минимум последних lookback свечей для лонга, максимум для шорта
func swingStop(series models.CandleSeries, dir models.TrendDirection, lookback int) (float64, bool) {
	if lookback <= 0 || len(series) < lookback {
		return 0, false
	}
	window := series[len(series)-lookback:]

	switch dir {
	case models.TrendBullish:
		low := window[0].Low
		for _, c := range window[1:] {
			low = min(low, c.Low)
		}
		return low, true
	case models.TrendBearish:
		high := window[0].High
		for _, c := range window[1:] {
			high = max(high, c.High)
		}
		return high, true
	default:
		return 0, false
	}
}

func signal(step int, status models.SignalStatus, bias models.TrendDirection, details string) models.ChecklistSignal {
	return models.ChecklistSignal{
		Step:    step,
		Label:   stepLabels[step],
		Status:  status,
		Bias:    bias,
		Details: details,
	}
}

func unknown(step int, details string) models.ChecklistSignal {
	return signal(step, models.StatusUnknown, models.TrendNeutral, details)
}

func (a *Analyzer) trendStep(ind *technical.IndicatorSet) models.ChecklistSignal {
	if !ind.TrendKnown {
		return unknown(StepTrend, "недостаточно истории для EMA")
	}

	fast, slow := technical.Last(ind.EMAFast), technical.Last(ind.EMASlow)
	details := fmt.Sprintf("EMA быстрая %.4f, медленная %.4f", fast.Value, slow.Value)
	if ind.Trend == models.TrendNeutral {
		return signal(StepTrend, models.StatusNotMet, models.TrendNeutral, details+", тренд не выражен")
	}
	return signal(StepTrend, models.StatusMet, ind.Trend, details)
}

func (a *Analyzer) momentumStep(ind *technical.IndicatorSet) models.ChecklistSignal {
	hist, rsi := technical.Last(ind.MACDHist), technical.Last(ind.RSI)
	if !hist.Ready || !rsi.Ready {
		return unknown(StepMomentum, "недостаточно истории для MACD/RSI")
	}

	details := fmt.Sprintf("гистограмма MACD %.4f, RSI %.1f", hist.Value, rsi.Value)
	switch {
	case hist.Value > 0 && rsi.Value > 50:
		return signal(StepMomentum, models.StatusMet, models.TrendBullish, details)
	case hist.Value < 0 && rsi.Value < 50:
		return signal(StepMomentum, models.StatusMet, models.TrendBearish, details)
	default:
		return signal(StepMomentum, models.StatusNotMet, models.TrendNeutral, details+", импульс не согласован")
	}
}

func (a *Analyzer) volumeStep(series models.CandleSeries, ind *technical.IndicatorSet) models.ChecklistSignal {
	sma := technical.Last(ind.VolumeSMA)
	if !sma.Ready {
		return unknown(StepVolume, "недостаточно истории для среднего объема")
	}

	last, _ := series.Last()
	bias := models.TrendNeutral
	details := fmt.Sprintf("объем %.2f, средний %.2f", last.Volume, sma.Value)
	if delta, ok := a.volume.Analyze(series); ok {
		bias = delta.Bias()
		details += fmt.Sprintf(", дельта %.1f%%", delta.Normalized)
	}

	if last.Volume >= a.config.VolumeFactor*sma.Value && sma.Value > 0 {
		return signal(StepVolume, models.StatusMet, bias, details)
	}
	return signal(StepVolume, models.StatusNotMet, bias, details)
}

// structureStep сравнивает экстремумы двух соседних окон StructureLookback
func (a *Analyzer) structureStep(series models.CandleSeries) models.ChecklistSignal {
	lookback := a.config.StructureLookback
	if lookback <= 0 || len(series) < 2*lookback {
		return unknown(StepStructure, fmt.Sprintf("нужно минимум %d свечей", 2*lookback))
	}

	n := len(series)
	prevHigh, prevLow := extremes(series[n-2*lookback : n-lookback])
	lastHigh, lastLow := extremes(series[n-lookback:])
	details := fmt.Sprintf("максимумы %.4f→%.4f, минимумы %.4f→%.4f", prevHigh, lastHigh, prevLow, lastLow)

	switch {
	case lastHigh > prevHigh && lastLow > prevLow:
		return signal(StepStructure, models.StatusMet, models.TrendBullish, details)
	case lastHigh < prevHigh && lastLow < prevLow:
		return signal(StepStructure, models.StatusMet, models.TrendBearish, details)
	default:
		return signal(StepStructure, models.StatusNotMet, models.TrendNeutral, details)
	}
}

// riskRewardStep проверяет, что стоп за ближайшим экстремумом лежит
// в пределах MinRiskATR..MaxRiskATR ATR от цены входа
func (a *Analyzer) riskRewardStep(series models.CandleSeries, ind *technical.IndicatorSet) models.ChecklistSignal {
	atr := technical.Last(ind.ATR)
	if !atr.Ready || len(series) < a.config.StructureLookback {
		return unknown(StepRiskReward, "недостаточно истории для ATR")
	}
	if !ind.TrendKnown {
		return unknown(StepRiskReward, "недостаточно истории для направления тренда")
	}
	if ind.Trend == models.TrendNeutral {
		return signal(StepRiskReward, models.StatusNotMet, models.TrendNeutral, "нет направления для стопа")
	}
	if atr.Value <= 0 {
		return signal(StepRiskReward, models.StatusNotMet, models.TrendNeutral, "нулевой ATR")
	}

	last, _ := series.Last()
	stop, _ := swingStop(series, ind.Trend, a.config.StructureLookback)
	risk := last.Close - stop
	if ind.Trend == models.TrendBearish {
		risk = stop - last.Close
	}

	ratio := risk / atr.Value
	details := fmt.Sprintf("стоп %.4f, риск %.2f ATR", stop, ratio)
	if risk > 0 && ratio >= a.config.MinRiskATR && ratio <= a.config.MaxRiskATR {
		return signal(StepRiskReward, models.StatusMet, ind.Trend, details)
	}
	return signal(StepRiskReward, models.StatusNotMet, models.TrendNeutral, details)
}

func (a *Analyzer) timingStep(ind *technical.IndicatorSet) models.ChecklistSignal {
	rsi := technical.Last(ind.RSI)
	if !rsi.Ready {
		return unknown(StepTiming, "недостаточно истории для RSI")
	}
	if !ind.TrendKnown {
		return unknown(StepTiming, "недостаточно истории для направления тренда")
	}

	details := fmt.Sprintf("RSI %.1f", rsi.Value)
	switch ind.Trend {
	case models.TrendBullish:
		if rsi.Value < a.config.RSIOverbought {
			return signal(StepTiming, models.StatusMet, models.TrendBullish, details)
		}
		return signal(StepTiming, models.StatusNotMet, models.TrendNeutral, details+", перекупленность")
	case models.TrendBearish:
		if rsi.Value > a.config.RSIOversold {
			return signal(StepTiming, models.StatusMet, models.TrendBearish, details)
		}
		return signal(StepTiming, models.StatusNotMet, models.TrendNeutral, details+", перепроданность")
	default:
		return signal(StepTiming, models.StatusNotMet, models.TrendNeutral, details+", нет направления")
	}
}

func extremes(window models.CandleSeries) (high, low float64) {
	high, low = window[0].High, window[0].Low
	for _, c := range window[1:] {
		high = max(high, c.High)
		low = min(low, c.Low)
	}
	return high, low
}
