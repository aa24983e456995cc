package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/skalibog/signalcheck/internal/analysis/aggregator"
	"github.com/skalibog/signalcheck/internal/candles"
	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/internal/exchange"
	"github.com/skalibog/signalcheck/internal/metrics"
	"github.com/skalibog/signalcheck/internal/storage"
	"github.com/skalibog/signalcheck/internal/timeframe"
	"github.com/skalibog/signalcheck/internal/ui"
	"github.com/skalibog/signalcheck/pkg/logger"
)

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	once := flag.Bool("once", false, "выполнить один цикл анализа и выйти")
	flag.Parse()

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Options{
		Level:    cfg.Log.Level,
		File:     cfg.Log.File,
		JSONFile: cfg.Log.JSONFile,
		Console:  cfg.Log.Console,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.GetLogger().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.Trading.Intervals) == 0 {
		cfg.Trading.Intervals = []string{resolveTimeframe(ctx, cfg.Timeframe)}
	}
	logger.Info("Запуск анализа",
		zap.Strings("symbols", cfg.Trading.Symbols),
		zap.Strings("intervals", cfg.Trading.Intervals))

	// Метрики
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	if cfg.Metrics.Enabled {
		metrics.Serve(ctx, cfg.Metrics.Addr, registry)
	}

	// Инициализируем клиенты биржи
	klines := exchange.NewKlinesClient(cfg.Binance)
	books, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}

	// Инициализируем хранилище
	var store storage.Storage = storage.NopStorage{}
	if cfg.Storage.Enabled {
		influx, err := storage.NewInfluxDBStorage(ctx, cfg.Storage)
		if err != nil {
			logger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
		}
		store = influx
	}
	defer store.Close()

	source := candles.NewSource(klines, cfg.Source, m)
	analyzer := aggregator.NewAnalyzer(cfg.Analysis, cfg.Trading, source, books, store, m)

	runCycle(ctx, analyzer, cfg.UI)
	if *once {
		return
	}

	ticker := time.NewTicker(time.Duration(cfg.Analysis.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCycle(ctx, analyzer, cfg.UI)
		case <-ctx.Done():
			fmt.Println("\nЗавершение работы...")
			return
		}
	}
}

func runCycle(ctx context.Context, analyzer *aggregator.Analyzer, uiCfg config.UIConfig) {
	reports, err := analyzer.GenerateReports(ctx)
	if err != nil {
		logger.Warn("Предупреждение: цикл анализа прерван", zap.Error(err))
		return
	}
	fmt.Println(ui.RenderReports(reports, uiCfg))
}

// resolveTimeframe читает основной таймфрейм бэкенда, если источник включен
func resolveTimeframe(ctx context.Context, cfg config.TimeframeConfig) string {
	if !cfg.Enabled {
		return timeframe.Resolve(ctx, nil)
	}

	provider := timeframe.NewRedisProvider(cfg)
	defer provider.Close()

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return timeframe.Resolve(ctx, provider)
}
