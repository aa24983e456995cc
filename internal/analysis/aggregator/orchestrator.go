package aggregator

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/signalcheck/pkg/logger"
	"github.com/skalibog/signalcheck/pkg/models"
)

// CandleFetcher источник свечей
type CandleFetcher interface {
	Fetch(ctx context.Context, symbol, interval string, limit int) (models.CandleSeries, error)
}

// slot состояние одного интервала; пишет в него только задача загрузки этого интервала
type slot struct {
	interval string

	mu    sync.RWMutex
	state models.IntervalState
}

func (s *slot) snapshot() models.IntervalState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := s.state
	state.Candles = slices.Clone(s.state.Candles)
	return state
}

// begin переводит интервал в loading; false, если загрузка уже идет
func (s *slot) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == models.PhaseLoading {
		return false
	}
	s.state.Phase = models.PhaseLoading
	s.state.IsLoading = true
	return true
}

func (s *slot) finish(series models.CandleSeries, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsLoading = false
	s.state.UpdatedAt = at
	if err != nil {
		s.state.Phase = models.PhaseFailed
		s.state.Candles = nil
		s.state.Err = err
		return
	}
	s.state.Phase = models.PhaseReady
	s.state.Candles = series
	s.state.Err = nil
}

// Orchestrator загружает свечи символа по нескольким интервалам независимо.
// Состояние каждого интервала: idle → loading → ready | failed → loading.
type Orchestrator struct {
	symbol string
	limit  int
	source CandleFetcher
	slots  []*slot
	now    func() time.Time
}

// NewOrchestrator создает оркестратор для символа
func NewOrchestrator(symbol string, intervals []string, limit int, source CandleFetcher) *Orchestrator {
	slots := make([]*slot, len(intervals))
	for i, interval := range intervals {
		slots[i] = &slot{
			interval: interval,
			state:    models.IntervalState{Interval: interval, Phase: models.PhaseIdle},
		}
	}
	return &Orchestrator{
		symbol: symbol,
		limit:  limit,
		source: source,
		slots:  slots,
		now:    time.Now,
	}
}

// Refresh запускает загрузку всех интервалов, которые сейчас не загружаются,
// и ждет их завершения. Ошибка одного интервала не влияет на остальные.
func (o *Orchestrator) Refresh(ctx context.Context) []models.IntervalState {
	var wg sync.WaitGroup
	for _, s := range o.slots {
		if !s.begin() {
			continue
		}
		wg.Add(1)
		go func(s *slot) {
			defer wg.Done()
			o.load(ctx, s)
		}(s)
	}
	wg.Wait()
	return o.Snapshot()
}

func (o *Orchestrator) load(ctx context.Context, s *slot) {
	interval := s.interval
	series, err := o.source.Fetch(ctx, o.symbol, interval, o.limit)
	if err != nil {
		logger.Warn("Интервал недоступен",
			zap.String("symbol", o.symbol),
			zap.String("interval", interval),
			zap.Error(err))
	}
	s.finish(series, err, o.now())
}

// Snapshot копия состояний в порядке интервалов
func (o *Orchestrator) Snapshot() []models.IntervalState {
	states := make([]models.IntervalState, len(o.slots))
	for i, s := range o.slots {
		states[i] = s.snapshot()
	}
	return states
}

// View сводное состояние текущего снимка
func (o *Orchestrator) View() models.AggregateView {
	return View(o.Snapshot())
}

// View пересчитывает сводное состояние по снимку интервалов
func View(states []models.IntervalState) models.AggregateView {
	view := models.AggregateView{AllLoading: len(states) > 0}
	for _, s := range states {
		if s.Phase == models.PhaseReady && len(s.Candles) > 0 {
			view.HasAnyData = true
		}
		if s.Phase == models.PhaseFailed {
			view.HasErrors = true
		}
		if s.Phase != models.PhaseLoading {
			view.AllLoading = false
		}
	}
	return view
}
