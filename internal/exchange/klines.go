package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/pkg/logger"
	"github.com/skalibog/signalcheck/pkg/models"
)

const (
	futuresBaseURL        = "https://fapi.binance.com"
	futuresTestnetBaseURL = "https://testnet.binancefuture.com"
	klinesPath            = "/fapi/v1/klines"

	// максимальный размер тела ошибки, который попадает в сообщение
	errorBodyLimit = 512
)

// KlinesClient получает свечи с REST API фьючерсов Binance.
// HTTP статус ответа переводится в ошибки из errors.go.
type KlinesClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewKlinesClient создает клиент свечей
func NewKlinesClient(cfg config.BinanceConfig) *KlinesClient {
	baseURL := cfg.BaseURL
	if cfg.Testnet {
		baseURL = futuresTestnetBaseURL
	}
	if baseURL == "" {
		baseURL = futuresBaseURL
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	return &KlinesClient{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout()},
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// FetchKlines выполняет GET /fapi/v1/klines и разбирает ответ
func (c *KlinesClient) FetchKlines(ctx context.Context, symbol, interval string, limit int) (models.CandleSeries, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+klinesPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	logger.Debug("Ответ klines",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение ответа: %v", ErrNetwork, err)
	}

	return ParseKlines(body)
}

// ParseKlines разбирает массив записей [openTime, open, high, low, close, volume, ...].
// Числа могут приходить строками или числами. Любое некорректное поле
// делает весь ответ невалидным.
func ParseKlines(body []byte) (models.CandleSeries, error) {
	var records [][]json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: ошибка разбора свечей: %v", ErrInvalidRequest, err)
	}

	series := make(models.CandleSeries, len(records))
	for i, record := range records {
		candle, err := parseKline(record)
		if err != nil {
			return nil, fmt.Errorf("%w: запись %d: %v", ErrInvalidRequest, i, err)
		}
		series[i] = candle
	}

	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return series, nil
}

func parseKline(record []json.RawMessage) (models.Candle, error) {
	if len(record) < 6 {
		return models.Candle{}, fmt.Errorf("ожидалось минимум 6 полей, получено %d", len(record))
	}

	var openTime int64
	if err := json.Unmarshal(record[0], &openTime); err != nil {
		return models.Candle{}, fmt.Errorf("время открытия: %v", err)
	}

	var values [5]float64
	names := [5]string{"open", "high", "low", "close", "volume"}
	for j := range values {
		v, err := parseNumber(record[j+1])
		if err != nil {
			return models.Candle{}, fmt.Errorf("поле %s: %v", names[j], err)
		}
		values[j] = v
	}

	return models.Candle{
		OpenTime: openTime,
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}, nil
}

// parseNumber принимает "123.45" и 123.45
func parseNumber(raw json.RawMessage) (float64, error) {
	if strings.TrimSpace(string(raw)) == "null" {
		return 0, fmt.Errorf("пустое значение")
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}
