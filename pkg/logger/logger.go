package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options настройки логгера
type Options struct {
	Level    string // debug, info, warn, error
	File     string // читаемый лог, если пусто, не писать
	JSONFile string // JSON лог, если пусто, не писать
	Console  bool
}

// Глобальный экземпляр логгера
var (
	mu           sync.RWMutex
	globalLogger = zap.NewNop()
)

// Init инициализирует глобальный логгер
func Init(opts Options) error {
	l, err := newLogger(opts)
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger подменяет глобальный логгер
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = l
}

// GetLogger возвращает глобальный экземпляр логгера.
// До вызова Init логгер ничего не пишет.
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Вспомогательные функции для удобства использования
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// newLogger собирает tee из консоли, читаемого и JSON файлов
func newLogger(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("неизвестный уровень логирования %q: %w", opts.Level, err)
	}

	// Конфигурация энкодера
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("02.01.2006 - 15:04:05.000000000Z07:00")
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	readableConfig := encoderConfig
	readableConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	var cores []zapcore.Core
	var files []*os.File
	closeFiles := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	if opts.Console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(readableConfig), zapcore.Lock(os.Stderr), level))
	}

	if opts.File != "" {
		readableFile, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("ошибка открытия файла лога: %w", err)
		}
		files = append(files, readableFile)
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(readableConfig), zapcore.AddSync(readableFile), level))
	}

	if opts.JSONFile != "" {
		jsonFile, err := os.OpenFile(opts.JSONFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			closeFiles()
			return nil, fmt.Errorf("ошибка открытия JSON лога: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(jsonFile), level))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)), nil
}
