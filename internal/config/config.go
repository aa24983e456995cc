package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/skalibog/signalcheck/pkg/models"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance   BinanceConfig   `yaml:"binance"`
	Trading   TradingConfig   `yaml:"trading"`
	Source    SourceConfig    `yaml:"source"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Timeframe TimeframeConfig `yaml:"timeframe"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	UI        UIConfig        `yaml:"ui"`
	Log       LogConfig       `yaml:"log"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey            string  `yaml:"api_key"`
	APISecret         string  `yaml:"api_secret"`
	Testnet           bool    `yaml:"testnet"`
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RequestTimeoutMs  int     `yaml:"request_timeout_ms"`
}

// RequestTimeout таймаут одного HTTP запроса
func (c BinanceConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// TradingConfig содержит список символов и интервалов
type TradingConfig struct {
	Symbols     []string `yaml:"symbols"`
	Intervals   []string `yaml:"intervals"`
	CandleLimit int      `yaml:"candle_limit"`
}

// SourceConfig политика повторов источника свечей
type SourceConfig struct {
	MaxRetries      int `yaml:"max_retries"`
	RetryMinDelayMs int `yaml:"retry_min_delay_ms"`
	RetryMaxDelayMs int `yaml:"retry_max_delay_ms"`
	FetchTimeoutMs  int `yaml:"fetch_timeout_ms"`
}

// AnalysisConfig содержит настройки аналитических модулей
type AnalysisConfig struct {
	IntervalSeconds int               `yaml:"interval_seconds"`
	Technical       TechnicalConfig   `yaml:"technical"`
	Checklist       ChecklistConfig   `yaml:"checklist"`
	OrderBook       OrderBookConfig   `yaml:"orderbook"`
	VolumeDelta     VolumeDeltaConfig `yaml:"volume_delta"`
}

// TechnicalConfig настройки технического анализа
type TechnicalConfig struct {
	EMAFast               int     `yaml:"ema_fast"`
	EMASlow               int     `yaml:"ema_slow"`
	RSIPeriod             int     `yaml:"rsi_period"`
	MACDFast              int     `yaml:"macd_fast"`
	MACDSlow              int     `yaml:"macd_slow"`
	MACDSignal            int     `yaml:"macd_signal"`
	ATRPeriod             int     `yaml:"atr_period"`
	VolumePeriod          int     `yaml:"volume_period"`
	SlopeLookback         int     `yaml:"slope_lookback"`
	TrendThresholdPercent float64 `yaml:"trend_threshold_percent"`
}

// ChecklistConfig пороги чек-листа
type ChecklistConfig struct {
	StructureLookback int     `yaml:"structure_lookback"`
	MinMetSteps       int     `yaml:"min_met_steps"`
	RewardRatio       float64 `yaml:"reward_ratio"`
	MinRiskATR        float64 `yaml:"min_risk_atr"`
	MaxRiskATR        float64 `yaml:"max_risk_atr"`
	RSIOverbought     float64 `yaml:"rsi_overbought"`
	RSIOversold       float64 `yaml:"rsi_oversold"`
	VolumeFactor      float64 `yaml:"volume_factor"`
}

// OrderBookConfig настройки анализа стакана
type OrderBookConfig struct {
	Depth                int     `yaml:"depth"`
	DisplayLimit         int     `yaml:"display_limit"`
	WallThresholdPercent float64 `yaml:"wall_threshold_percent"`
}

// VolumeDeltaConfig настройки анализа дельты объемов
type VolumeDeltaConfig struct {
	Lookback int     `yaml:"lookback"`
	Decay    float64 `yaml:"decay"`
}

// TimeframeConfig источник основного таймфрейма (Redis бэкенда)
type TimeframeConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// MetricsConfig настройки prometheus
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// UIConfig настройки вывода отчета
type UIConfig struct {
	ShowDepth  bool `yaml:"show_depth"`
	ShowWalls  bool `yaml:"show_walls"`
	WallsLimit int  `yaml:"walls_limit"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level    string `yaml:"level"`
	File     string `yaml:"file"`
	JSONFile string `yaml:"json_file"`
	Console  bool   `yaml:"console"`
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	return Config{
		Binance: BinanceConfig{
			BaseURL:           "https://fapi.binance.com",
			RequestsPerSecond: 10,
			RequestTimeoutMs:  10000,
		},
		Trading: TradingConfig{
			Symbols:     []string{"BTCUSDT"},
			CandleLimit: 100,
		},
		Source: SourceConfig{
			MaxRetries:      2,
			RetryMinDelayMs: 200,
			RetryMaxDelayMs: 2000,
			FetchTimeoutMs:  15000,
		},
		Analysis: AnalysisConfig{
			IntervalSeconds: 30,
			Technical: TechnicalConfig{
				EMAFast:               9,
				EMASlow:               21,
				RSIPeriod:             14,
				MACDFast:              12,
				MACDSlow:              26,
				MACDSignal:            9,
				ATRPeriod:             14,
				VolumePeriod:          20,
				SlopeLookback:         3,
				TrendThresholdPercent: 0.05,
			},
			Checklist: ChecklistConfig{
				StructureLookback: 5,
				MinMetSteps:       4,
				RewardRatio:       2,
				MinRiskATR:        0.5,
				MaxRiskATR:        5,
				RSIOverbought:     70,
				RSIOversold:       30,
				VolumeFactor:      1,
			},
			OrderBook: OrderBookConfig{
				Depth:                50,
				DisplayLimit:         10,
				WallThresholdPercent: 80,
			},
			VolumeDelta: VolumeDeltaConfig{
				Lookback: 10,
				Decay:    0.9,
			},
		},
		Timeframe: TimeframeConfig{
			Addr: "localhost:6379",
			Key:  "signalcheck:timeframe",
		},
		Metrics: MetricsConfig{
			Addr: ":9102",
		},
		UI: UIConfig{
			ShowDepth:  true,
			ShowWalls:  true,
			WallsLimit: 5,
		},
		Log: LogConfig{
			Level:    "info",
			File:     "app.log",
			JSONFile: "app.json.log",
		},
	}
}

// Load загружает конфигурацию из файла поверх значений по умолчанию.
// Секреты переопределяются переменными окружения (и файлом .env, если он есть).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse разбирает YAML поверх значений по умолчанию
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.Binance.APISecret = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		c.Storage.Token = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Timeframe.Password = v
	}
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return errors.New("не задан ни один символ")
	}
	for _, s := range c.Trading.Symbols {
		if s == "" {
			return errors.New("пустой символ в trading.symbols")
		}
	}
	for _, interval := range c.Trading.Intervals {
		if !models.IsValidInterval(interval) {
			return fmt.Errorf("неизвестный интервал %q в trading.intervals", interval)
		}
	}
	if c.Trading.CandleLimit <= 0 || c.Trading.CandleLimit > 1500 {
		return fmt.Errorf("trading.candle_limit вне диапазона 1..1500: %d", c.Trading.CandleLimit)
	}
	if c.Source.MaxRetries < 0 {
		return errors.New("source.max_retries не может быть отрицательным")
	}
	if c.Analysis.IntervalSeconds <= 0 {
		return errors.New("analysis.interval_seconds должен быть положительным")
	}

	t := c.Analysis.Technical
	for name, v := range map[string]int{
		"ema_fast": t.EMAFast, "ema_slow": t.EMASlow, "rsi_period": t.RSIPeriod,
		"macd_fast": t.MACDFast, "macd_slow": t.MACDSlow, "macd_signal": t.MACDSignal,
		"atr_period": t.ATRPeriod, "volume_period": t.VolumePeriod, "slope_lookback": t.SlopeLookback,
	} {
		if v < 2 {
			return fmt.Errorf("analysis.technical.%s должен быть не меньше 2: %d", name, v)
		}
	}
	if t.EMAFast >= t.EMASlow {
		return fmt.Errorf("ema_fast (%d) должен быть меньше ema_slow (%d)", t.EMAFast, t.EMASlow)
	}
	if t.MACDFast >= t.MACDSlow {
		return fmt.Errorf("macd_fast (%d) должен быть меньше macd_slow (%d)", t.MACDFast, t.MACDSlow)
	}

	ch := c.Analysis.Checklist
	if ch.StructureLookback < 2 {
		return fmt.Errorf("analysis.checklist.structure_lookback должен быть не меньше 2: %d", ch.StructureLookback)
	}
	if ch.MinMetSteps < 1 {
		return errors.New("analysis.checklist.min_met_steps должен быть положительным")
	}
	if ch.RewardRatio <= 0 {
		return errors.New("analysis.checklist.reward_ratio должен быть положительным")
	}
	if ch.MinRiskATR < 0 || ch.MaxRiskATR <= ch.MinRiskATR {
		return errors.New("analysis.checklist: требуется 0 <= min_risk_atr < max_risk_atr")
	}
	if ch.RSIOversold <= 0 || ch.RSIOverbought >= 100 || ch.RSIOversold >= ch.RSIOverbought {
		return errors.New("analysis.checklist: требуется 0 < rsi_oversold < rsi_overbought < 100")
	}

	ob := c.Analysis.OrderBook
	if ob.WallThresholdPercent <= 0 || ob.WallThresholdPercent > 100 {
		return fmt.Errorf("analysis.orderbook.wall_threshold_percent вне диапазона (0, 100]: %v", ob.WallThresholdPercent)
	}
	if ob.Depth <= 0 {
		return errors.New("analysis.orderbook.depth должен быть положительным")
	}

	if c.Storage.Enabled && (c.Storage.URL == "" || c.Storage.Bucket == "") {
		return errors.New("storage: для InfluxDB нужны url и bucket")
	}
	return nil
}
