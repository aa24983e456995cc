// Package timeframe получает основной таймфрейм от бэкенда.
// При недоступности бэкенда используется DefaultInterval.
package timeframe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/pkg/logger"
	"github.com/skalibog/signalcheck/pkg/models"
)

// DefaultInterval таймфрейм по умолчанию
const DefaultInterval = "3m"

// ErrNotSet ключ таймфрейма отсутствует в хранилище бэкенда
var ErrNotSet = errors.New("таймфрейм не задан")

// Provider источник основного таймфрейма
type Provider interface {
	Timeframe(ctx context.Context) (string, error)
}

// RedisProvider читает таймфрейм из ключа Redis, который публикует бэкенд
type RedisProvider struct {
	client *redis.Client
	key    string
}

// NewRedisProvider создает провайдер таймфрейма
func NewRedisProvider(cfg config.TimeframeConfig) *RedisProvider {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
		MaxRetries:  1,
	})
	return &RedisProvider{client: client, key: cfg.Key}
}

// Timeframe возвращает значение ключа
func (p *RedisProvider) Timeframe(ctx context.Context) (string, error) {
	value, err := p.client.Get(ctx, p.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: ключ %s", ErrNotSet, p.key)
	}
	if err != nil {
		return "", fmt.Errorf("ошибка чтения таймфрейма из Redis: %w", err)
	}
	return strings.TrimSpace(value), nil
}

// Close закрывает соединение с Redis
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// Resolve возвращает таймфрейм бэкенда или DefaultInterval, если провайдер
// не задан, недоступен или вернул неизвестный интервал
func Resolve(ctx context.Context, p Provider) string {
	if p == nil {
		return DefaultInterval
	}

	interval, err := p.Timeframe(ctx)
	if err != nil {
		logger.Warn("Таймфрейм бэкенда недоступен, используется значение по умолчанию",
			zap.String("default", DefaultInterval),
			zap.Error(err))
		return DefaultInterval
	}
	if !models.IsValidInterval(interval) {
		logger.Warn("Бэкенд вернул неизвестный таймфрейм",
			zap.String("interval", interval),
			zap.String("default", DefaultInterval))
		return DefaultInterval
	}
	return interval
}
