package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type BrokerConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	// true — исполнение через paper-симулятор, без реального брокера
	Paper bool `mapstructure:"paper"`
}

type MarketDataConfig struct {
	BaseURL string `mapstructure:"base_url"`
	WSURL   string `mapstructure:"ws_url"`
	// старше этого — данные считаем протухшими, в допуск не идут
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type ScannerConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	MinGapPct           float64       `mapstructure:"min_gap_pct"`
	MaxGapPct           float64       `mapstructure:"max_gap_pct"`
	MinVolumeRatio      float64       `mapstructure:"min_volume_ratio"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	MaxSignalsPerDay    int           `mapstructure:"max_signals_per_day"`
	WatchlistFile       string        `mapstructure:"watchlist_file"`
}

type RiskConfig struct {
	Capital float64 `mapstructure:"capital"`

	// Сайзинг: fixed_amount | equity_pct | risk_based
	SizingMethod string  `mapstructure:"sizing_method"`
	FixedAmount  float64 `mapstructure:"fixed_amount"`
	EquityPct    float64 `mapstructure:"equity_pct"` // доля капитала на позицию
	// Сколько от капитала мы готовы потерять по СТОПУ, а не по всей позиции
	RiskPerTrade float64 `mapstructure:"risk_per_trade"` // напр. 0.02 => 2%

	StopLossPct float64 `mapstructure:"stop_loss_pct"` // дистанция SL от входа
	TargetPct   float64 `mapstructure:"target_pct"`
	// Как считать тейк: фиксированный процент (TargetPct) либо через
	// RR: target = entry ± RewardRatio*дистанция до SL. 0 => TargetPct.
	RewardRatio  float64 `mapstructure:"reward_ratio"`
	MinFillRatio float64 `mapstructure:"min_fill_ratio"`

	DailyLossLimit      float64 `mapstructure:"daily_loss_limit"`
	MaxOpenPositions    int     `mapstructure:"max_open_positions"`
	MaxConcentrationPct float64 `mapstructure:"max_concentration_pct"`

	// Circuit breaker
	BreakerLossLimit    float64       `mapstructure:"breaker_loss_limit"`
	BreakerMaxLosses    int           `mapstructure:"breaker_max_losses"` // K убыточных подряд в окне
	BreakerWindow       time.Duration `mapstructure:"breaker_window"`
	EmergencyExitOnTrip bool          `mapstructure:"emergency_exit_on_trip"`
}

type ExecutorConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// выход ретраим агрессивнее: незакрытая позиция — открытый риск
	ExitMaxRetries int           `mapstructure:"exit_max_retries"`
	ExitBackoff    time.Duration `mapstructure:"exit_backoff"`
	OrderTimeout   time.Duration `mapstructure:"order_timeout"`

	// плоская комиссия брокера за круг (вход + выход), списывается при закрытии
	FeePerTrade float64 `mapstructure:"fee_per_trade"`

	// ручной режим: одобренный риском сигнал ждёт вердикта оператора
	ManualApproval  bool          `mapstructure:"manual_approval"`
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
}

type MonitorConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	PositionTimeout time.Duration `mapstructure:"position_timeout"`
	AutoSquareOff   bool          `mapstructure:"auto_square_off"`
	SquareOffTime   string        `mapstructure:"square_off_time"` // "HH:MM"
}

type MarketHoursConfig struct {
	Open  string `mapstructure:"open"`  // "09:15"
	Close string `mapstructure:"close"` // "15:30"
}

type Config struct {
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	DB          string            `mapstructure:"db_dsn"`
	Broker      BrokerConfig      `mapstructure:"broker"`
	MarketData  MarketDataConfig  `mapstructure:"market_data"`
	Scanner     ScannerConfig     `mapstructure:"scanner"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	MarketHours MarketHoursConfig `mapstructure:"market_hours"`

	HealthAddr string `mapstructure:"health_addr"`
	LogLevel   string `mapstructure:"log_level"`

	JaegerHost string `mapstructure:"jaeger_host"`
	JaegerPort int    `mapstructure:"jaeger_port"`
}

func NewConfig() (*Config, error) {
	v := viper.New()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	v.SetConfigFile("configs/" + configFileName)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("GAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// файл опционален: дефолты + env покрывают paper-режим
		if _, ok := err.(*os.PathError); !ok {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("config read: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}

	if token := os.Getenv(tokenTelegramENV); token != "" {
		cfg.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		cfg.DB = dsn
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("health_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("jaeger_host", "127.0.0.1")
	v.SetDefault("jaeger_port", 6831)

	v.SetDefault("broker.paper", true)

	v.SetDefault("market_data.stale_after", "60s")
	v.SetDefault("market_data.request_timeout", "10s")

	v.SetDefault("scanner.interval", "30s")
	v.SetDefault("scanner.min_gap_pct", 2.0)
	v.SetDefault("scanner.max_gap_pct", 15.0)
	v.SetDefault("scanner.min_volume_ratio", 3.0)
	v.SetDefault("scanner.confidence_threshold", 70.0)
	v.SetDefault("scanner.max_signals_per_day", 3)
	v.SetDefault("scanner.watchlist_file", "configs/watchlist.yaml")

	v.SetDefault("risk.capital", 100000.0)
	v.SetDefault("risk.sizing_method", "risk_based")
	v.SetDefault("risk.fixed_amount", 10000.0)
	v.SetDefault("risk.equity_pct", 0.10)
	v.SetDefault("risk.risk_per_trade", 0.02)
	v.SetDefault("risk.stop_loss_pct", 0.05)
	v.SetDefault("risk.target_pct", 0.10)
	v.SetDefault("risk.reward_ratio", 0.0)
	v.SetDefault("risk.min_fill_ratio", 0.5)
	v.SetDefault("risk.daily_loss_limit", 5000.0)
	v.SetDefault("risk.max_open_positions", 5)
	v.SetDefault("risk.max_concentration_pct", 10.0)
	v.SetDefault("risk.breaker_loss_limit", 5000.0)
	v.SetDefault("risk.breaker_max_losses", 3)
	v.SetDefault("risk.breaker_window", "60m")
	v.SetDefault("risk.emergency_exit_on_trip", true)

	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.retry_backoff", "2s")
	v.SetDefault("executor.exit_max_retries", 6)
	v.SetDefault("executor.exit_backoff", "500ms")
	v.SetDefault("executor.order_timeout", "30s")
	v.SetDefault("executor.fee_per_trade", 0.0)
	v.SetDefault("executor.manual_approval", false)
	v.SetDefault("executor.approval_timeout", "5m")

	v.SetDefault("monitor.interval", "5s")
	v.SetDefault("monitor.position_timeout", "60m")
	v.SetDefault("monitor.auto_square_off", true)
	v.SetDefault("monitor.square_off_time", "15:20")

	v.SetDefault("market_hours.open", "09:15")
	v.SetDefault("market_hours.close", "15:30")
}

func (c *Config) validate() error {
	if c.Scanner.MaxGapPct <= c.Scanner.MinGapPct {
		return fmt.Errorf("config: max_gap_pct must be greater than min_gap_pct")
	}
	if c.Risk.TargetPct <= c.Risk.StopLossPct && c.Risk.RewardRatio <= 0 {
		return fmt.Errorf("config: target_pct must be greater than stop_loss_pct")
	}
	switch c.Risk.SizingMethod {
	case "fixed_amount", "equity_pct", "risk_based":
	default:
		return fmt.Errorf("config: unknown sizing_method %q", c.Risk.SizingMethod)
	}
	if !c.Broker.Paper && (c.Broker.APIKey == "" || c.Broker.APISecret == "") {
		return fmt.Errorf("config: broker api_key/api_secret required in live mode")
	}
	return nil
}
