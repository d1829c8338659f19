package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Logger   Logger   `mapstructure:"logger"`
	Market   Market   `mapstructure:"market"`
	Feed     Feed     `mapstructure:"feed"`
	Trading  Trading  `mapstructure:"trading"`
}

// Server holds the configuration for the HTTP/WebSocket server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Market holds the configuration for the upstream market-data REST API that
// seeds base prices at startup.
type Market struct {
	BaseURL        string  `mapstructure:"base_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Feed holds the configuration for the websocket market-data stream.
type Feed struct {
	URL            string `mapstructure:"url"`
	Symbol         string `mapstructure:"symbol"`
	ReconnectDelay int    `mapstructure:"reconnect_delay"` // seconds
}

// InstrumentSeed describes an instrument to create on startup if missing.
type InstrumentSeed struct {
	Symbol     string  `mapstructure:"symbol"`
	PayoutRate float64 `mapstructure:"payout_rate"`
	BasePrice  float64 `mapstructure:"base_price"`
}

// Trading holds the configuration for the trading and settlement logic.
type Trading struct {
	Instruments      []InstrumentSeed `mapstructure:"instruments"`
	SettleInterval   int              `mapstructure:"settle_interval"` // seconds between settlement sweeps
	CopyTimeframe    int              `mapstructure:"copy_timeframe"`  // seconds, timeframe of mirrored orders
	MinTimeframe     int              `mapstructure:"min_timeframe"`   // seconds
	MaxTimeframe     int              `mapstructure:"max_timeframe"`   // seconds
	JitterFraction   float64          `mapstructure:"jitter_fraction"` // idle price noise, fraction of price
	AdjustWindowSecs int              `mapstructure:"adjust_window_secs"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("market.rate_limit", 20)      // requests per second
	viper.SetDefault("market.rate_limit_burst", 5) // burst size
	viper.SetDefault("feed.reconnect_delay", 5)
	viper.SetDefault("trading.settle_interval", 5)
	viper.SetDefault("trading.copy_timeframe", 60)
	viper.SetDefault("trading.min_timeframe", 30)
	viper.SetDefault("trading.max_timeframe", 86400)
	viper.SetDefault("trading.jitter_fraction", 0.001)
	viper.SetDefault("trading.adjust_window_secs", 30)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
