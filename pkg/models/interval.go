package models

import (
	"fmt"
	"time"
)

// intervalDurations интервалы свечей Binance и их длительность
var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// IntervalDuration конвертирует строковый интервал в duration
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervalDurations[interval]
	if !ok {
		return 0, fmt.Errorf("неизвестный интервал %q", interval)
	}
	return d, nil
}

// IsValidInterval проверяет, поддерживается ли интервал
func IsValidInterval(interval string) bool {
	_, ok := intervalDurations[interval]
	return ok
}
