package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/pkg/models"
)

// Коды ошибок Binance, которые переводятся в собственные ошибки
const (
	codeTooManyRequests = -1003
	codeBadParamsFirst  = -1199
	codeBadParamsLast   = -1100
)

// BinanceClient клиент для снимков стакана фьючерсов Binance
type BinanceClient struct {
	futures *futures.Client
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) (*BinanceClient, error) {
	// Для фьючерсов testnet включается глобальным флагом пакета до создания клиента
	futures.UseTestnet = cfg.Testnet
	futuresClient := futures.NewClient(cfg.APIKey, cfg.APISecret)

	if !cfg.Testnet && cfg.BaseURL != "" {
		futuresClient.BaseURL = cfg.BaseURL
	}
	if cfg.RequestTimeoutMs > 0 {
		futuresClient.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout()}
	}

	return &BinanceClient{
		futures: futuresClient,
	}, nil
}

// GetOrderBook получает стакан заявок
func (c *BinanceClient) GetOrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: пустой символ", ErrInvalidRequest)
	}

	ob, err := c.futures.NewDepthService().
		Symbol(symbol).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classifyAPIError(err)
	}

	bids := make([]PriceLevel, len(ob.Bids))
	for i, bid := range ob.Bids {
		bids[i] = PriceLevel{Price: bid.Price, Quantity: bid.Quantity}
	}
	asks := make([]PriceLevel, len(ob.Asks))
	for i, ask := range ob.Asks {
		asks[i] = PriceLevel{Price: ask.Price, Quantity: ask.Quantity}
	}

	return BuildOrderBook(symbol, time.Now(), bids, asks)
}

// PriceLevel уровень стакана в строковом виде, как его отдает биржа
type PriceLevel struct {
	Price    string
	Quantity string
}

// BuildOrderBook конвертирует строковые уровни в числа, проверяет их и сортирует:
// биды по убыванию цены, аски по возрастанию
func BuildOrderBook(symbol string, ts time.Time, bids, asks []PriceLevel) (*models.OrderBook, error) {
	bidLevels, err := convertLevels(bids)
	if err != nil {
		return nil, fmt.Errorf("%w: биды: %v", ErrInvalidRequest, err)
	}
	askLevels, err := convertLevels(asks)
	if err != nil {
		return nil, fmt.Errorf("%w: аски: %v", ErrInvalidRequest, err)
	}

	sort.Slice(bidLevels, func(i, j int) bool {
		return bidLevels[i].Price > bidLevels[j].Price
	})
	sort.Slice(askLevels, func(i, j int) bool {
		return askLevels[i].Price < askLevels[j].Price
	})

	return &models.OrderBook{
		Symbol:    symbol,
		Timestamp: ts,
		Bids:      bidLevels,
		Asks:      askLevels,
	}, nil
}

func convertLevels(levels []PriceLevel) ([]models.OrderBookLevel, error) {
	out := make([]models.OrderBookLevel, 0, len(levels))
	seen := make(map[string]struct{}, len(levels))
	for _, level := range levels {
		price, err := decimal.NewFromString(level.Price)
		if err != nil {
			return nil, fmt.Errorf("цена %q: %v", level.Price, err)
		}
		qty, err := decimal.NewFromString(level.Quantity)
		if err != nil {
			return nil, fmt.Errorf("объем %q: %v", level.Quantity, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("неположительная цена %s", price)
		}
		if qty.IsNegative() {
			return nil, fmt.Errorf("отрицательный объем %s", qty)
		}
		key := price.String()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("повтор цены %s", key)
		}
		seen[key] = struct{}{}

		out = append(out, models.OrderBookLevel{
			Price:    price.InexactFloat64(),
			Quantity: qty.InexactFloat64(),
		})
	}
	return out, nil
}

// classifyAPIError переводит ошибки go-binance в ошибки пакета
func classifyAPIError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == codeTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
		case apiErr.Code >= codeBadParamsFirst && apiErr.Code <= codeBadParamsLast:
			return fmt.Errorf("%w: %s", ErrInvalidRequest, apiErr.Message)
		default:
			return &UpstreamError{Message: apiErr.Error()}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: ошибка получения стакана: %v", ErrNetwork, err)
}
