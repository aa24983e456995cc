// internal/storage/influxdb.go
package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/pkg/logger"
	"github.com/skalibog/signalcheck/pkg/models"
)

// Storage сохраняет результаты цикла анализа
type Storage interface {
	SaveCandles(ctx context.Context, symbol, interval string, series models.CandleSeries) error
	SaveChecklist(ctx context.Context, symbol, interval, cycleID string, ts time.Time, result *models.ChecklistResult) error
	SaveDepthReport(ctx context.Context, cycleID string, report *models.DepthReport) error
	Close()
}

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	done     chan struct{}
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(ctx context.Context, cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	s := &InfluxDBStorage{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Organization, cfg.Bucket),
		done:     make(chan struct{}),
	}

	// Асинхронная запись сообщает об ошибках только через канал
	go func() {
		defer close(s.done)
		for err := range s.writeAPI.Errors() {
			logger.Error("Ошибка записи в InfluxDB", zap.Error(err))
		}
	}()

	logger.Info("Подключено к InfluxDB",
		zap.String("url", cfg.URL),
		zap.String("bucket", cfg.Bucket))
	return s, nil
}

// Close сбрасывает буфер и закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
	<-s.done
}

// SaveCandles сохраняет свечи серии
func (s *InfluxDBStorage) SaveCandles(ctx context.Context, symbol, interval string, series models.CandleSeries) error {
	for _, point := range CandlePoints(symbol, interval, series) {
		s.writeAPI.WritePoint(point)
	}
	s.writeAPI.Flush()
	return nil
}

// SaveChecklist сохраняет итог чек-листа и статусы шагов
func (s *InfluxDBStorage) SaveChecklist(ctx context.Context, symbol, interval, cycleID string, ts time.Time, result *models.ChecklistResult) error {
	s.writeAPI.WritePoint(ChecklistPoint(symbol, interval, cycleID, ts, result))
	s.writeAPI.Flush()
	return nil
}

// SaveDepthReport сохраняет метрики стакана; отчет без метрик пропускается
func (s *InfluxDBStorage) SaveDepthReport(ctx context.Context, cycleID string, report *models.DepthReport) error {
	point, ok := DepthPoint(cycleID, report)
	if !ok {
		return nil
	}
	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()
	return nil
}

// CandlePoints строит точки measurement "candles"
func CandlePoints(symbol, interval string, series models.CandleSeries) []*write.Point {
	points := make([]*write.Point, 0, len(series))
	for _, candle := range series {
		points = append(points, influxdb2.NewPoint(
			"candles",
			map[string]string{
				"symbol":   symbol,
				"interval": interval,
			},
			map[string]interface{}{
				"open":   candle.Open,
				"high":   candle.High,
				"low":    candle.Low,
				"close":  candle.Close,
				"volume": candle.Volume,
			},
			candle.Time(),
		))
	}
	return points
}

// ChecklistPoint строит точку measurement "checklist".
// Поля сетапа пишутся только когда сетап есть.
func ChecklistPoint(symbol, interval, cycleID string, ts time.Time, result *models.ChecklistResult) *write.Point {
	fields := map[string]interface{}{
		"direction": string(result.TrendDirection),
		"met_count": result.MetCount,
		"cycle_id":  cycleID,
	}
	for _, signal := range result.Signals {
		fields[fmt.Sprintf("step_%d", signal.Step)] = string(signal.Status)
	}
	if result.Setup != nil {
		fields["entry"] = result.Setup.Entry
		fields["stop_loss"] = result.Setup.StopLoss
		fields["target"] = result.Setup.Target
	}

	return influxdb2.NewPoint(
		"checklist",
		map[string]string{
			"symbol":   symbol,
			"interval": interval,
		},
		fields,
		ts,
	)
}

// DepthPoint строит точку measurement "orderbook_depth"
func DepthPoint(cycleID string, report *models.DepthReport) (*write.Point, bool) {
	if report == nil || report.Metrics == nil {
		return nil, false
	}
	m := report.Metrics

	walls := 0
	for _, w := range report.Walls {
		if w.IsWall {
			walls++
		}
	}

	return influxdb2.NewPoint(
		"orderbook_depth",
		map[string]string{
			"symbol": report.Symbol,
		},
		map[string]interface{}{
			"best_bid":                m.BestBid,
			"best_ask":                m.BestAsk,
			"mid_price":               m.MidPrice,
			"spread":                  m.SpreadAbsolute,
			"spread_percent":          m.SpreadPercent,
			"bid_depth":               m.BidDepthTotal,
			"ask_depth":               m.AskDepthTotal,
			"depth_imbalance":         m.DepthImbalance,
			"depth_imbalance_percent": m.DepthImbalancePercent,
			"walls":                   walls,
			"cycle_id":                cycleID,
		},
		report.Timestamp,
	), true
}

// NopStorage ничего не сохраняет, используется при storage.enabled=false
type NopStorage struct{}

func (NopStorage) SaveCandles(context.Context, string, string, models.CandleSeries) error {
	return nil
}

func (NopStorage) SaveChecklist(context.Context, string, string, string, time.Time, *models.ChecklistResult) error {
	return nil
}

func (NopStorage) SaveDepthReport(context.Context, string, *models.DepthReport) error {
	return nil
}

func (NopStorage) Close() {}
