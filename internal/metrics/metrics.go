// Package metrics содержит prometheus метрики получения и анализа данных.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/skalibog/signalcheck/pkg/logger"
)

// Состояния записи кэша свечей
const (
	CacheFresh = "fresh"
	CacheStale = "stale"
	CacheMiss  = "miss"
)

// Metrics набор метрик приложения
type Metrics struct {
	FetchTotal          *prometheus.CounterVec   // labels: interval, outcome
	FetchRetries        *prometheus.CounterVec   // labels: interval
	FetchDuration       *prometheus.HistogramVec // labels: interval
	CacheLookups        *prometheus.CounterVec   // labels: state
	ChecklistEvaluation *prometheus.CounterVec   // labels: interval, direction
	OrderBookFetches    *prometheus.CounterVec   // labels: outcome
}

// New создает метрики и регистрирует их в reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcheck_candle_fetch_total",
			Help: "Запросы свечей к бирже по результату",
		}, []string{"interval", "outcome"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcheck_candle_fetch_retries_total",
			Help: "Повторные запросы свечей после временных ошибок",
		}, []string{"interval"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalcheck_candle_fetch_duration_seconds",
			Help:    "Длительность обновления свечей, включая повторы",
			Buckets: prometheus.DefBuckets,
		}, []string{"interval"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcheck_candle_cache_lookups_total",
			Help: "Обращения к кэшу свечей по состоянию записи",
		}, []string{"state"}),
		ChecklistEvaluation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcheck_checklist_evaluations_total",
			Help: "Оценки чек-листа по итоговому направлению",
		}, []string{"interval", "direction"}),
		OrderBookFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcheck_orderbook_fetch_total",
			Help: "Запросы стакана по результату",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.FetchTotal,
		m.FetchRetries,
		m.FetchDuration,
		m.CacheLookups,
		m.ChecklistEvaluation,
		m.OrderBookFetches,
	)
	return m
}

// Serve поднимает /metrics и останавливает сервер при отмене ctx
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("Метрики доступны", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Ошибка сервера метрик", zap.Error(err))
		}
	}()
}
