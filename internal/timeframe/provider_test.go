package timeframe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/skalibog/signalcheck/internal/config"
	"github.com/skalibog/signalcheck/pkg/logger"
)

type staticProvider struct {
	value string
	err   error
}

func (p staticProvider) Timeframe(context.Context) (string, error) {
	return p.value, p.err
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		want     string
	}{
		{name: "no provider", provider: nil, want: DefaultInterval},
		{name: "backend value", provider: staticProvider{value: "15m"}, want: "15m"},
		{name: "backend error", provider: staticProvider{err: errors.New("down")}, want: DefaultInterval},
		{name: "not set", provider: staticProvider{err: ErrNotSet}, want: DefaultInterval},
		{name: "unknown interval", provider: staticProvider{value: "7m"}, want: DefaultInterval},
		{name: "empty value", provider: staticProvider{value: ""}, want: DefaultInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(context.Background(), tt.provider))
		})
	}
}

func TestResolveLogsFallback(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := logger.GetLogger()
	logger.SetLogger(zap.New(core))
	t.Cleanup(func() { logger.SetLogger(prev) })

	Resolve(context.Background(), staticProvider{err: errors.New("down")})
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, DefaultInterval, logs.All()[0].ContextMap()["default"])
}

func TestRedisProviderUnreachable(t *testing.T) {
	p := NewRedisProvider(config.TimeframeConfig{Addr: "127.0.0.1:1", Key: "signalcheck:timeframe"})
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := p.Timeframe(ctx)
	require.Error(t, err)
	assert.Equal(t, DefaultInterval, Resolve(ctx, p))
}
