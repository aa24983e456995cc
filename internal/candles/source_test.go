package candles

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/internal/exchange"
	"github.com/skalibog/signalcheck/internal/metrics"
	"github.com/skalibog/signalcheck/pkg/models"
)

type fakeFetcher struct {
	calls   atomic.Int32
	release chan struct{}

	mu        sync.Mutex
	responses []fetchResponse
}

type fetchResponse struct {
	series models.CandleSeries
	err    error
}

func (f *fakeFetcher) push(series models.CandleSeries, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fetchResponse{series: series, err: err})
}

func (f *fakeFetcher) FetchKlines(ctx context.Context, symbol, interval string, limit int) (models.CandleSeries, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		return nil, &exchange.UpstreamError{Status: http.StatusInternalServerError, Message: "no response"}
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp.series, resp.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func makeSeries(n int, base float64) models.CandleSeries {
	series := make(models.CandleSeries, n)
	for i := range series {
		price := base + float64(i)
		series[i] = models.Candle{
			OpenTime: int64(i) * 180000,
			Open:     price,
			High:     price + 2,
			Low:      price - 1,
			Close:    price + 1,
			Volume:   10,
		}
	}
	return series
}

func newTestSource(t *testing.T, fetcher Fetcher) (*Source, *metrics.Metrics, *fakeClock) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	src := NewSource(fetcher, config.SourceConfig{
		MaxRetries:      2,
		RetryMinDelayMs: 1,
		RetryMaxDelayMs: 2,
		FetchTimeoutMs:  2000,
	}, m)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	src.now = clock.Now
	return src, m, clock
}

func TestFetchCachesFreshSeries(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.push(makeSeries(5, 100), nil)
	src, m, _ := newTestSource(t, fetcher)

	first, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.NoError(t, err)
	second, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(metrics.CacheMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(metrics.CacheFresh)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("3m", "ok")))
}

func TestFetchReturnsCopy(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.push(makeSeries(3, 100), nil)
	src, _, _ := newTestSource(t, fetcher)

	first, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 3)
	require.NoError(t, err)
	first[0].Close = -1

	second, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 3)
	require.NoError(t, err)
	assert.Equal(t, 101.0, second[0].Close)
}

func TestFetchCoalescesConcurrentRequests(t *testing.T) {
	fetcher := &fakeFetcher{release: make(chan struct{})}
	fetcher.push(makeSeries(5, 100), nil)
	src, _, _ := newTestSource(t, fetcher)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]models.CandleSeries, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
		}(i)
	}

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, results[i], 5)
	}
}

func TestFetchDistinctKeysFetchSeparately(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.push(makeSeries(5, 100), nil)
	src, _, _ := newTestSource(t, fetcher)

	_, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.NoError(t, err)
	_, err = src.Fetch(context.Background(), "BTCUSDT", "1h", 5)
	require.NoError(t, err)
	_, err = src.Fetch(context.Background(), "BTCUSDT", "3m", 4)
	require.NoError(t, err)

	assert.Equal(t, int32(3), fetcher.calls.Load())
}

func TestFetchServesStaleAndRefreshesInBackground(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.push(makeSeries(5, 100), nil)
	fetcher.push(makeSeries(5, 200), nil)
	src, m, clock := newTestSource(t, fetcher)

	first, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)

	stale, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.NoError(t, err)
	assert.Equal(t, first, stale)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(metrics.CacheStale)))

	require.Eventually(t, func() bool {
		series, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
		return err == nil && series[0].Open == 200
	}, time.Second, 5*time.Millisecond)
}

func TestFetchFailedRefreshKeepsPreviousValue(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.push(makeSeries(5, 100), nil)
	fetcher.push(nil, exchange.ErrInvalidRequest)
	src, _, clock := newTestSource(t, fetcher)

	first, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.NoError(t, err)

	clock.Advance(time.Hour)

	stale, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.NoError(t, err)
	assert.Equal(t, first, stale)

	require.Eventually(t, func() bool { return fetcher.calls.Load() >= 2 }, time.Second, time.Millisecond)

	again, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestFetchCancelledCallerStillFillsCache(t *testing.T) {
	fetcher := &fakeFetcher{release: make(chan struct{})}
	fetcher.push(makeSeries(5, 100), nil)
	src, _, _ := newTestSource(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := src.Fetch(ctx, "BTCUSDT", "3m", 5)
		done <- err
	}()

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(fetcher.release)

	require.Eventually(t, func() bool {
		_, ok := src.lookup(cacheKey("BTCUSDT", "3m", 5))
		return ok
	}, time.Second, time.Millisecond)

	series, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.NoError(t, err)
	assert.Len(t, series, 5)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.push(nil, &exchange.UpstreamError{Status: http.StatusServiceUnavailable, Message: "busy"})
	src, m, _ := newTestSource(t, fetcher)

	_, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.Error(t, err)

	var upstream *exchange.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusServiceUnavailable, upstream.Status)
	assert.Equal(t, int32(3), fetcher.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchRetries.WithLabelValues("3m")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("3m", "upstream")))
}

func TestFetchRecoversAfterTransientError(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.push(nil, exchange.ErrNetwork)
	fetcher.push(makeSeries(5, 100), nil)
	src, _, _ := newTestSource(t, fetcher)

	series, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.NoError(t, err)
	assert.Len(t, series, 5)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestFetchDoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rate limited", exchange.ErrRateLimited},
		{"invalid request", exchange.ErrInvalidRequest},
		{"not found", &exchange.UpstreamError{Status: http.StatusNotFound, Message: "missing"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &fakeFetcher{}
			fetcher.push(nil, tt.err)
			src, _, _ := newTestSource(t, fetcher)

			_, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, int32(1), fetcher.calls.Load())
		})
	}
}

func TestFetchRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		interval string
		limit    int
	}{
		{"empty symbol", "", "3m", 10},
		{"unknown interval", "BTCUSDT", "7m", 10},
		{"zero limit", "BTCUSDT", "3m", 0},
		{"limit too large", "BTCUSDT", "3m", MaxLimit + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &fakeFetcher{}
			src, _, _ := newTestSource(t, fetcher)

			_, err := src.Fetch(context.Background(), tt.symbol, tt.interval, tt.limit)
			assert.ErrorIs(t, err, exchange.ErrInvalidRequest)
			assert.Equal(t, int32(0), fetcher.calls.Load())
		})
	}
}

func TestFetchRejectsUnorderedSeries(t *testing.T) {
	series := makeSeries(3, 100)
	series[2].OpenTime = series[0].OpenTime

	fetcher := &fakeFetcher{}
	fetcher.push(series, nil)
	src, _, _ := newTestSource(t, fetcher)

	_, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 3)
	assert.ErrorIs(t, err, exchange.ErrInvalidRequest)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.push(makeSeries(5, 100), nil)
	src, _, _ := newTestSource(t, fetcher)

	_, err := src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.NoError(t, err)
	src.Invalidate("BTCUSDT", "3m", 5)
	_, err = src.Fetch(context.Background(), "BTCUSDT", "3m", 5)
	require.NoError(t, err)

	assert.Equal(t, int32(2), fetcher.calls.Load())
}
