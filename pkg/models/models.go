package models

import (
	"fmt"
	"math"
	"time"
)

// Candle представляет свечу (OHLCV)
type Candle struct {
	OpenTime int64 // время открытия, мс с начала эпохи
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Time возвращает время открытия свечи
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime)
}

// Validate проверяет инварианты свечи
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("нечисловое значение в свече %d", c.OpenTime)
		}
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("неположительная цена в свече %d", c.OpenTime)
	}
	if c.Volume < 0 {
		return fmt.Errorf("отрицательный объем в свече %d", c.OpenTime)
	}
	if c.Low > min(c.Open, c.Close) || max(c.Open, c.Close) > c.High {
		return fmt.Errorf("нарушен диапазон low/high в свече %d", c.OpenTime)
	}
	return nil
}

// CandleSeries упорядоченная по времени последовательность свечей.
// После возврата из источника серия не изменяется.
type CandleSeries []Candle

// Validate проверяет каждую свечу и строгое возрастание времени
func (s CandleSeries) Validate() error {
	for i, c := range s {
		if err := c.Validate(); err != nil {
			return err
		}
		if i > 0 && c.OpenTime <= s[i-1].OpenTime {
			return fmt.Errorf("время свечей не возрастает: %d после %d", c.OpenTime, s[i-1].OpenTime)
		}
	}
	return nil
}

// Last возвращает последнюю свечу
func (s CandleSeries) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

func (s CandleSeries) Opens() []float64   { return s.column(func(c Candle) float64 { return c.Open }) }
func (s CandleSeries) Highs() []float64   { return s.column(func(c Candle) float64 { return c.High }) }
func (s CandleSeries) Lows() []float64    { return s.column(func(c Candle) float64 { return c.Low }) }
func (s CandleSeries) Closes() []float64  { return s.column(func(c Candle) float64 { return c.Close }) }
func (s CandleSeries) Volumes() []float64 { return s.column(func(c Candle) float64 { return c.Volume }) }

func (s CandleSeries) column(get func(Candle) float64) []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = get(c)
	}
	return out
}

// OrderBookLevel представляет уровень стакана
type OrderBookLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook представляет стакан заявок: биды по убыванию цены, аски по возрастанию
type OrderBook struct {
	Symbol    string
	Timestamp time.Time
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
}

// SignalStatus статус шага чек-листа
type SignalStatus string

const (
	StatusMet     SignalStatus = "met"
	StatusNotMet  SignalStatus = "not-met"
	StatusUnknown SignalStatus = "unknown"
)

// TrendDirection направление тренда
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendNeutral TrendDirection = "neutral"
)

// Opposite возвращает противоположное направление; нейтральное остается нейтральным
func (d TrendDirection) Opposite() TrendDirection {
	switch d {
	case TrendBullish:
		return TrendBearish
	case TrendBearish:
		return TrendBullish
	default:
		return TrendNeutral
	}
}

// ChecklistSignal один шаг чек-листа
type ChecklistSignal struct {
	Step    int
	Label   string
	Status  SignalStatus
	Bias    TrendDirection
	Details string
}

// TradeSetup торговый сетап
type TradeSetup struct {
	Entry    float64
	StopLoss float64
	Target   float64
}

// ChecklistResult результат оценки чек-листа.
// Setup равен nil, если сетап неприменим.
type ChecklistResult struct {
	Signals        []ChecklistSignal
	TrendDirection TrendDirection
	MetCount       int
	Setup          *TradeSetup
}

// EntryPrice возвращает цену входа, если сетап есть
func (r *ChecklistResult) EntryPrice() (float64, bool) {
	if r.Setup == nil {
		return 0, false
	}
	return r.Setup.Entry, true
}

// StopLoss возвращает стоп, если сетап есть
func (r *ChecklistResult) StopLoss() (float64, bool) {
	if r.Setup == nil {
		return 0, false
	}
	return r.Setup.StopLoss, true
}

// Target возвращает цель, если сетап есть
func (r *ChecklistResult) Target() (float64, bool) {
	if r.Setup == nil {
		return 0, false
	}
	return r.Setup.Target, true
}

// DepthMetrics метрики глубины стакана
type DepthMetrics struct {
	BestBid               float64
	BestAsk               float64
	MidPrice              float64
	SpreadAbsolute        float64
	SpreadPercent         float64
	BidDepthTotal         float64
	AskDepthTotal         float64
	DepthImbalance        float64
	DepthImbalancePercent float64
}

// CumulativeLevel уровень с накопленным объемом
type CumulativeLevel struct {
	Price      float64
	Quantity   float64
	Cumulative float64
}

// LiquidityWall уровень стакана с признаком стены ликвидности
type LiquidityWall struct {
	Price    float64
	Quantity float64
	IsBid    bool
	IsWall   bool
}

// DepthReport полный анализ стакана
type DepthReport struct {
	Symbol           string
	Timestamp        time.Time
	Metrics          *DepthMetrics
	CumulativeBids   []CumulativeLevel
	CumulativeAsks   []CumulativeLevel
	Walls            []LiquidityWall
	NormalizationMax float64
}

// IntervalPhase состояние загрузки интервала
type IntervalPhase string

const (
	PhaseIdle    IntervalPhase = "idle"
	PhaseLoading IntervalPhase = "loading"
	PhaseReady   IntervalPhase = "ready"
	PhaseFailed  IntervalPhase = "failed"
)

// IntervalState снимок состояния одного интервала
type IntervalState struct {
	Interval  string
	Phase     IntervalPhase
	Candles   CandleSeries
	IsLoading bool
	Err       error
	UpdatedAt time.Time
}

// AggregateView сводное состояние по всем интервалам
type AggregateView struct {
	HasAnyData bool
	AllLoading bool
	HasErrors  bool
}

// IntervalReport результат по одному интервалу
type IntervalReport struct {
	Interval  string
	State     IntervalState
	Checklist *ChecklistResult
}

// MarketReport результат одного цикла анализа по символу
type MarketReport struct {
	Symbol    string
	CycleID   string
	Timestamp time.Time
	Intervals []IntervalReport
	View      AggregateView
	OrderBook *DepthReport
}

// ErrorText возвращает текст ошибки состояния или пустую строку
func (s IntervalState) ErrorText() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}
