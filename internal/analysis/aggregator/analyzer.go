package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skalibog/signalcheck/internal/analysis/checklist"
	"github.com/skalibog/signalcheck/internal/analysis/orderbook"
	"github.com/skalibog/signalcheck/internal/analysis/technical"
	"github.com/skalibog/signalcheck/internal/analysis/volumedelta"
	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/internal/metrics"
	"github.com/skalibog/signalcheck/internal/storage"
	"github.com/skalibog/signalcheck/pkg/logger"
	"github.com/skalibog/signalcheck/pkg/models"
)

// OrderBookFetcher источник снимков стакана
type OrderBookFetcher interface {
	GetOrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error)
}

// Analyzer объединяет все аналитические компоненты
type Analyzer struct {
	config        config.AnalysisConfig
	storage       storage.Storage
	books         OrderBookFetcher
	metrics       *metrics.Metrics
	checklistAnal *checklist.Analyzer
	orderbookAnal *orderbook.Analyzer
	symbols       []string
	orchestrators map[string]*Orchestrator
	now           func() time.Time
}

// NewAnalyzer создает новый анализатор. Для каждого символа заводится
// свой оркестратор интервалов.
func NewAnalyzer(
	cfg config.AnalysisConfig,
	trading config.TradingConfig,
	source CandleFetcher,
	books OrderBookFetcher,
	store storage.Storage,
	m *metrics.Metrics,
) *Analyzer {
	orchestrators := make(map[string]*Orchestrator, len(trading.Symbols))
	for _, symbol := range trading.Symbols {
		orchestrators[symbol] = NewOrchestrator(symbol, trading.Intervals, trading.CandleLimit, source)
	}

	return &Analyzer{
		config:  cfg,
		storage: store,
		books:   books,
		metrics: m,
		checklistAnal: checklist.NewAnalyzer(
			cfg.Checklist,
			technical.NewAnalyzer(cfg.Technical),
			volumedelta.NewAnalyzer(cfg.VolumeDelta),
		),
		orderbookAnal: orderbook.NewAnalyzer(cfg.OrderBook),
		symbols:       trading.Symbols,
		orchestrators: orchestrators,
		now:           time.Now,
	}
}

// GenerateReports выполняет один цикл анализа для всех символов
func (a *Analyzer) GenerateReports(ctx context.Context) (map[string]*models.MarketReport, error) {
	results := make(map[string]*models.MarketReport, len(a.symbols))
	var wg sync.WaitGroup
	var mutex sync.Mutex

	for _, symbol := range a.symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()

			report := a.generateReportForSymbol(ctx, sym)

			mutex.Lock()
			results[sym] = report
			mutex.Unlock()
		}(symbol)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// generateReportForSymbol загружает интервалы и стакан параллельно и
// оценивает чек-лист для каждого интервала с данными
func (a *Analyzer) generateReportForSymbol(ctx context.Context, symbol string) *models.MarketReport {
	report := &models.MarketReport{
		Symbol:    symbol,
		CycleID:   uuid.NewString(),
		Timestamp: a.now(),
	}
	log := logger.GetLogger().With(zap.String("symbol", symbol), zap.String("cycle_id", report.CycleID))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		report.OrderBook = a.analyzeOrderBook(ctx, symbol, report.CycleID, log)
	}()

	states := a.orchestrators[symbol].Refresh(ctx)
	wg.Wait()

	report.View = View(states)
	report.Intervals = make([]models.IntervalReport, 0, len(states))
	for _, state := range states {
		report.Intervals = append(report.Intervals, a.evaluateInterval(ctx, symbol, report, state, log))
	}

	log.Debug("Цикл анализа завершен",
		zap.Bool("has_data", report.View.HasAnyData),
		zap.Bool("has_errors", report.View.HasErrors))
	return report
}

func (a *Analyzer) evaluateInterval(ctx context.Context, symbol string, report *models.MarketReport, state models.IntervalState, log *zap.Logger) models.IntervalReport {
	ir := models.IntervalReport{Interval: state.Interval, State: state}
	if state.Phase != models.PhaseReady || len(state.Candles) == 0 {
		return ir
	}

	result, err := a.checklistAnal.Evaluate(state.Candles)
	if err != nil {
		log.Warn("Чек-лист не рассчитан", zap.String("interval", state.Interval), zap.Error(err))
		return ir
	}
	ir.Checklist = result
	a.metrics.ChecklistEvaluation.WithLabelValues(state.Interval, string(result.TrendDirection)).Inc()

	log.Debug("Чек-лист рассчитан",
		zap.String("interval", state.Interval),
		zap.String("direction", string(result.TrendDirection)),
		zap.Int("met", result.MetCount))

	if err := a.storage.SaveCandles(ctx, symbol, state.Interval, state.Candles); err != nil {
		log.Warn("Не удалось сохранить свечи", zap.String("interval", state.Interval), zap.Error(err))
	}
	if err := a.storage.SaveChecklist(ctx, symbol, state.Interval, report.CycleID, report.Timestamp, result); err != nil {
		log.Warn("Не удалось сохранить чек-лист", zap.String("interval", state.Interval), zap.Error(err))
	}
	return ir
}

func (a *Analyzer) analyzeOrderBook(ctx context.Context, symbol, cycleID string, log *zap.Logger) *models.DepthReport {
	if a.books == nil {
		return nil
	}

	book, err := a.books.GetOrderBook(ctx, symbol, a.orderbookAnal.Depth())
	if err != nil {
		a.metrics.OrderBookFetches.WithLabelValues("error").Inc()
		log.Warn("Предупреждение: стакан недоступен", zap.Error(err))
		return nil
	}
	a.metrics.OrderBookFetches.WithLabelValues("ok").Inc()

	depth := a.orderbookAnal.Analyze(book)
	if err := a.storage.SaveDepthReport(ctx, cycleID, depth); err != nil {
		log.Warn("Не удалось сохранить метрики стакана", zap.Error(err))
	}
	return depth
}
