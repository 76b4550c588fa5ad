package config

import (
	"log"
	"strings"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Settings SettingsConfig `mapstructure:"settings"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Staking  StakingConfig  `mapstructure:"staking"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port     string  `mapstructure:"port"`
	ReadOnly bool    `mapstructure:"read_only"`
	RPS      float64 `mapstructure:"rps"` // control API requests per second
	Burst    int     `mapstructure:"burst"`
}

type AuthConfig struct {
	ControlKey string `mapstructure:"control_key"`
}

type ExchangeConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Testnet   bool   `mapstructure:"testnet"`
	RESTURL   string `mapstructure:"rest_url"`
	StreamURL string `mapstructure:"stream_url"`

	RecvWindowMs int `mapstructure:"recv_window_ms"`
	// Zero keeps rate-limit waits and calls unbounded.
	RequestTimeoutMs int `mapstructure:"request_timeout_ms"`
	AccountCacheMs   int `mapstructure:"account_cache_ms"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SettingsConfig struct {
	Store      string        `mapstructure:"store"` // file or redis
	Dir        string        `mapstructure:"dir"`
	DebounceMs int           `mapstructure:"debounce_ms"`
	Defaults   model.Globals `mapstructure:"defaults"`
	// Allocations seeds the target map when the store holds none yet.
	Allocations map[string]float64 `mapstructure:"allocations"`
}

type EngineConfig struct {
	DebounceMs      int     `mapstructure:"debounce_ms"`
	OrderMode       string  `mapstructure:"order_mode"` // market or optimized
	StopOffsetTicks int     `mapstructure:"stop_offset_ticks"`
	TradeFlagMs     int     `mapstructure:"trade_flag_ms"`
	BuyBufferPct    float64 `mapstructure:"buy_buffer_pct"`
	MessageLogDir   string  `mapstructure:"message_log_dir"`
	MessageBuffer   int     `mapstructure:"message_buffer"`
}

type StakingConfig struct {
	// SwapRoutes maps an asset to the token it is staked through.
	SwapRoutes       map[string]string `mapstructure:"swap_routes"`
	ProductCacheMin  int               `mapstructure:"product_cache_min"`
	PositionCacheSec int               `mapstructure:"position_cache_sec"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func (c EngineConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func (c EngineConfig) TradeFlagDecay() time.Duration {
	return time.Duration(c.TradeFlagMs) * time.Millisecond
}

func (c ExchangeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c ExchangeConfig) AccountCacheTTL() time.Duration {
	return time.Duration(c.AccountCacheMs) * time.Millisecond
}

func (c ExchangeConfig) RecvWindow() time.Duration {
	return time.Duration(c.RecvWindowMs) * time.Millisecond
}

func (c SettingsConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func (c StakingConfig) ProductCacheTTL() time.Duration {
	return time.Duration(c.ProductCacheMin) * time.Minute
}

func (c StakingConfig) PositionCacheTTL() time.Duration {
	return time.Duration(c.PositionCacheSec) * time.Second
}

// Load reads config.yaml from path (or . and ./configs when empty) and the
// REBALANCER_* environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// e.g. REBALANCER_EXCHANGE_API_KEY
	v.SetEnvPrefix("rebalancer")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.rps", 20)
	v.SetDefault("server.burst", 40)

	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.testnet", false)
	v.SetDefault("exchange.rest_url", "https://api.binance.com")
	v.SetDefault("exchange.stream_url", "wss://stream.binance.com:9443")
	v.SetDefault("exchange.recv_window_ms", 5000)
	v.SetDefault("exchange.request_timeout_ms", 0)
	v.SetDefault("exchange.account_cache_ms", 100)

	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.key_prefix", "rebalancer:settings:")

	v.SetDefault("settings.store", "file")
	v.SetDefault("settings.dir", "./data")
	v.SetDefault("settings.debounce_ms", 100)
	v.SetDefault("settings.defaults.buy_threshold", 20)
	v.SetDefault("settings.defaults.sell_threshold", 20)
	v.SetDefault("settings.defaults.max_daily_loss", 50)
	v.SetDefault("settings.defaults.interp_speed", 0.0001)
	v.SetDefault("settings.defaults.enable_buy", true)
	v.SetDefault("settings.defaults.enable_sell", true)
	v.SetDefault("settings.defaults.quote_currency", "USDT")
	v.SetDefault("settings.defaults.stake_quote", false)

	v.SetDefault("engine.debounce_ms", 100)
	v.SetDefault("engine.order_mode", "market")
	v.SetDefault("engine.stop_offset_ticks", 5)
	v.SetDefault("engine.trade_flag_ms", 3000)
	v.SetDefault("engine.buy_buffer_pct", 0.01)
	v.SetDefault("engine.message_log_dir", "./logs")
	v.SetDefault("engine.message_buffer", 500)

	v.SetDefault("staking.swap_routes", map[string]string{"ETH": "WBETH"})
	v.SetDefault("staking.product_cache_min", 60)
	v.SetDefault("staking.position_cache_sec", 30)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
}
