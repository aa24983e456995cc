package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FetchTotal.WithLabelValues("3m", "ok").Inc()
	m.CacheLookups.WithLabelValues(CacheMiss).Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("3m", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(CacheMiss)))

	count, err := testutil.GatherAndCount(reg, "signalcheck_candle_fetch_total", "signalcheck_candle_cache_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Panics(t, func() { New(reg) }, "повторная регистрация должна паниковать")
}

func TestServeExposesMetrics(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	reg := prometheus.NewRegistry()
	m := New(reg)
	m.OrderBookFetches.WithLabelValues("ok").Inc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Serve(ctx, addr, reg)

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		body = string(data)
		return true
	}, 2*time.Second, 20*time.Millisecond)

	assert.True(t, strings.Contains(body, `signalcheck_orderbook_fetch_total{outcome="ok"} 1`))
}
