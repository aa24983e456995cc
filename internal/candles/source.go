// Package candles кэширует свечи по ключу (символ, интервал, лимит).
//
// Запись считается свежей в течение длительности своего интервала. Устаревшая
// запись отдается сразу, а обновление идет в фоне. Одновременные обновления
// одного ключа объединяются в один запрос к бирже.
package candles

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/internal/exchange"
	"github.com/skalibog/signalcheck/internal/metrics"
	"github.com/skalibog/signalcheck/pkg/logger"
	"github.com/skalibog/signalcheck/pkg/models"
)

// MaxLimit максимальное число свечей в одном запросе Binance
const MaxLimit = 1500

// Fetcher получает свечи с биржи
type Fetcher interface {
	FetchKlines(ctx context.Context, symbol, interval string, limit int) (models.CandleSeries, error)
}

type entry struct {
	series    models.CandleSeries
	fetchedAt time.Time
}

// Source источник свечей с кэшем, повторами и объединением запросов
type Source struct {
	fetcher      Fetcher
	metrics      *metrics.Metrics
	maxRetries   int
	backoff      *backoff.Backoff
	fetchTimeout time.Duration

	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group

	now func() time.Time
}

// NewSource создает источник свечей
func NewSource(fetcher Fetcher, cfg config.SourceConfig, m *metrics.Metrics) *Source {
	fetchTimeout := time.Duration(cfg.FetchTimeoutMs) * time.Millisecond
	if fetchTimeout <= 0 {
		fetchTimeout = 15 * time.Second
	}

	return &Source{
		fetcher:    fetcher,
		metrics:    m,
		maxRetries: cfg.MaxRetries,
		backoff: &backoff.Backoff{
			Min:    time.Duration(cfg.RetryMinDelayMs) * time.Millisecond,
			Max:    time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
			Factor: 2,
			Jitter: true,
		},
		fetchTimeout: fetchTimeout,
		entries:      make(map[string]entry),
		now:          time.Now,
	}
}

// Fetch возвращает свечи для символа и интервала.
//
// Свежая запись отдается из кэша. Устаревшая тоже отдается сразу, а в фоне
// запускается одно обновление. Без записи вызывающий ждет общий запрос; если
// его ctx отменен раньше, запрос все равно завершится и заполнит кэш.
// Возвращаемая серия принадлежит вызывающему.
func (s *Source) Fetch(ctx context.Context, symbol, interval string, limit int) (models.CandleSeries, error) {
	ttl, err := validateRequest(symbol, interval, limit)
	if err != nil {
		return nil, err
	}

	key := cacheKey(symbol, interval, limit)

	if e, ok := s.lookup(key); ok {
		if s.now().Sub(e.fetchedAt) < ttl {
			s.metrics.CacheLookups.WithLabelValues(metrics.CacheFresh).Inc()
			return slices.Clone(e.series), nil
		}

		s.metrics.CacheLookups.WithLabelValues(metrics.CacheStale).Inc()
		logger.Debug("Свечи устарели, обновление в фоне",
			zap.String("symbol", symbol),
			zap.String("interval", interval),
			zap.Time("fetched_at", e.fetchedAt))
		s.startRefresh(ctx, key, symbol, interval, limit, ttl)
		return slices.Clone(e.series), nil
	}

	s.metrics.CacheLookups.WithLabelValues(metrics.CacheMiss).Inc()
	ch := s.startRefresh(ctx, key, symbol, interval, limit, ttl)

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.(models.CandleSeries)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate удаляет запись из кэша
func (s *Source) Invalidate(symbol, interval string, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, cacheKey(symbol, interval, limit))
}

func (s *Source) lookup(key string) (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok
}

func (s *Source) store(key string, series models.CandleSeries) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{series: series, fetchedAt: s.now()}
}

// startRefresh присоединяется к обновлению ключа или запускает новое.
// Обновление живет на контексте, отвязанном от отмены вызывающего.
func (s *Source) startRefresh(ctx context.Context, key, symbol, interval string, limit int, ttl time.Duration) <-chan singleflight.Result {
	detached := context.WithoutCancel(ctx)
	return s.group.DoChan(key, func() (interface{}, error) {
		// Пока ждали своей очереди, запись могла обновиться
		if e, ok := s.lookup(key); ok && s.now().Sub(e.fetchedAt) < ttl {
			return e.series, nil
		}
		return s.refresh(detached, key, symbol, interval, limit)
	})
}

func (s *Source) refresh(ctx context.Context, key, symbol, interval string, limit int) (models.CandleSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	started := time.Now()
	series, err := s.fetchWithRetry(ctx, symbol, interval, limit)
	s.metrics.FetchDuration.WithLabelValues(interval).Observe(time.Since(started).Seconds())
	s.metrics.FetchTotal.WithLabelValues(interval, outcome(err)).Inc()

	if err != nil {
		logger.Warn("Не удалось обновить свечи",
			zap.String("symbol", symbol),
			zap.String("interval", interval),
			zap.Error(err))
		return nil, err
	}

	s.store(key, series)
	logger.Debug("Свечи обновлены",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("count", len(series)))
	return series, nil
}

func (s *Source) fetchWithRetry(ctx context.Context, symbol, interval string, limit int) (models.CandleSeries, error) {
	for attempt := 0; ; attempt++ {
		series, err := s.fetcher.FetchKlines(ctx, symbol, interval, limit)
		if err == nil {
			if verr := series.Validate(); verr != nil {
				return nil, fmt.Errorf("%w: %v", exchange.ErrInvalidRequest, verr)
			}
			return series, nil
		}

		if !exchange.IsTransient(err) || attempt >= s.maxRetries {
			return nil, err
		}

		delay := s.backoff.ForAttempt(float64(attempt))
		s.metrics.FetchRetries.WithLabelValues(interval).Inc()
		logger.Warn("Временная ошибка получения свечей, повтор",
			zap.String("symbol", symbol),
			zap.String("interval", interval),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}

func validateRequest(symbol, interval string, limit int) (time.Duration, error) {
	if symbol == "" {
		return 0, fmt.Errorf("%w: пустой символ", exchange.ErrInvalidRequest)
	}
	ttl, err := models.IntervalDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", exchange.ErrInvalidRequest, err)
	}
	if limit <= 0 || limit > MaxLimit {
		return 0, fmt.Errorf("%w: лимит %d вне диапазона 1..%d", exchange.ErrInvalidRequest, limit, MaxLimit)
	}
	return ttl, nil
}

func cacheKey(symbol, interval string, limit int) string {
	return symbol + "|" + interval + "|" + strconv.Itoa(limit)
}

// outcome метка результата запроса для метрик
func outcome(err error) string {
	var upstream *exchange.UpstreamError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, exchange.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, exchange.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, exchange.ErrNetwork):
		return "network"
	case errors.As(err, &upstream):
		return "upstream"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}
