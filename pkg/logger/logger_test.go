package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLoggerRoutesHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := GetLogger()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(prev) })

	Info("первое", zap.String("symbol", "BTCUSDT"))
	Warn("второе")
	Debug("третье")

	require.Equal(t, 3, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "первое", entry.Message)
	assert.Equal(t, "BTCUSDT", entry.ContextMap()["symbol"])
}

func TestInitWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "app.json.log")

	prev := GetLogger()
	t.Cleanup(func() { SetLogger(prev) })

	require.NoError(t, Init(Options{Level: "info", JSONFile: jsonPath}))
	Info("запуск")
	Debug("не попадет в файл")
	require.NoError(t, GetLogger().Sync())

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "запуск")
	assert.NotContains(t, string(data), "не попадет")
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(Options{Level: "verbose"})
	assert.Error(t, err)
}

func TestInitClosesFilesOnError(t *testing.T) {
	fds, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("нет /proc/self/fd")
	}
	before := len(fds)

	dir := t.TempDir()
	prev := GetLogger()
	t.Cleanup(func() { SetLogger(prev) })

	err = Init(Options{
		Level:    "info",
		File:     filepath.Join(dir, "app.log"),
		JSONFile: filepath.Join(dir, "missing", "app.json.log"),
	})
	require.Error(t, err)
	assert.Same(t, prev, GetLogger())

	fds, err = os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	assert.Equal(t, before, len(fds))
}
