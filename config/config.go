package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Coinstream CoinstreamConfig           `yaml:"coinstream"`
	Channels   ChannelsConfig             `yaml:"channels"`
	Market     MarketConfig               `yaml:"market"`
	Exchanges  map[string]*ExchangeConfig `yaml:"exchanges"`
	Pairs      map[string]*PairConfig     `yaml:"pairs"`
	Cache      CacheConfig                `yaml:"cache"`
	Broadcast  BroadcastConfig            `yaml:"broadcast"`
	Server     ServerConfig               `yaml:"server"`
	Archive    ArchiveConfig              `yaml:"archive"`
	Logging    LoggingConfig              `yaml:"logging"`
}

type CoinstreamConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	TickerBuffer int `yaml:"ticker_buffer"`
	BookBuffer   int `yaml:"book_buffer"`
	CandleBuffer int `yaml:"candle_buffer"`
	ErrorBuffer  int `yaml:"error_buffer"`
}

type MarketConfig struct {
	// KlineIntervals lists the canonical intervals every running pair
	// subscribes to. Empty means all supported intervals.
	KlineIntervals []string `yaml:"kline_intervals"`
	// OrderBookDepth of 0 lets each exchange pick its own default depth.
	OrderBookDepth int `yaml:"orderbook_depth"`
	// HistoryTimeout bounds a single vendor REST candle fetch.
	HistoryTimeout time.Duration `yaml:"history_timeout"`
}

type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BroadcastConfig struct {
	Enabled bool         `yaml:"enabled"`
	Brokers []string     `yaml:"brokers"`
	Topics  TopicsConfig `yaml:"topics"`
}

type TopicsConfig struct {
	Ticker    string `yaml:"ticker"`
	OrderBook string `yaml:"orderbook"`
	Kline     string `yaml:"kline"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Prefix          string        `yaml:"prefix"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)
	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Channels.TickerBuffer <= 0 {
		cfg.Channels.TickerBuffer = 1024
	}
	if cfg.Channels.BookBuffer <= 0 {
		cfg.Channels.BookBuffer = 1024
	}
	if cfg.Channels.CandleBuffer <= 0 {
		cfg.Channels.CandleBuffer = 1024
	}
	if cfg.Channels.ErrorBuffer <= 0 {
		cfg.Channels.ErrorBuffer = 256
	}

	if len(cfg.Market.KlineIntervals) == 0 {
		cfg.Market.KlineIntervals = append([]string(nil), CanonicalIntervals...)
	}
	if cfg.Market.HistoryTimeout <= 0 {
		cfg.Market.HistoryTimeout = 10 * time.Second
	}

	if cfg.Exchanges == nil {
		cfg.Exchanges = DefaultExchanges()
	}
	for id, ex := range cfg.Exchanges {
		ex.applyDefaults(id)
	}

	if cfg.Pairs == nil {
		cfg.Pairs = DefaultPairs()
	}
	for symbol, pair := range cfg.Pairs {
		if pair.Symbol == "" {
			pair.Symbol = symbol
		}
	}

	if cfg.Broadcast.Topics.Ticker == "" {
		cfg.Broadcast.Topics.Ticker = "market.ticker"
	}
	if cfg.Broadcast.Topics.OrderBook == "" {
		cfg.Broadcast.Topics.OrderBook = "market.orderbook"
	}
	if cfg.Broadcast.Topics.Kline == "" {
		cfg.Broadcast.Topics.Kline = "market.kline"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}

	if cfg.Archive.BatchSize <= 0 {
		cfg.Archive.BatchSize = 500
	}
	if cfg.Archive.FlushInterval <= 0 {
		cfg.Archive.FlushInterval = time.Minute
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Password = strings.TrimSpace(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Broadcast.Brokers = strings.Split(strings.TrimSpace(v), ",")
	}
	if cfg.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Archive.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Archive.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Archive.Region = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Coinstream.Name == "" {
		return fmt.Errorf("coinstream.name is required")
	}
	if cfg.Coinstream.Version == "" {
		return fmt.Errorf("coinstream.version is required")
	}

	for _, iv := range cfg.Market.KlineIntervals {
		if !IsCanonicalInterval(iv) {
			return fmt.Errorf("market.kline_intervals contains unknown interval '%s'", iv)
		}
	}

	for id, ex := range cfg.Exchanges {
		if !ex.Enabled {
			continue
		}
		if ex.WSEndpoint == "" {
			return fmt.Errorf("exchanges.%s.ws_endpoint is required", id)
		}
		if ex.RESTEndpoint == "" {
			return fmt.Errorf("exchanges.%s.rest_endpoint is required", id)
		}
		if ex.Reconnect.MaxAttempts <= 0 {
			return fmt.Errorf("exchanges.%s.reconnect.max_attempts must be greater than 0", id)
		}
		if ex.Reconnect.DelayMs <= 0 {
			return fmt.Errorf("exchanges.%s.reconnect.delay_ms must be greater than 0", id)
		}
	}

	for symbol, pair := range cfg.Pairs {
		if !pair.Enabled {
			continue
		}
		for exID, pe := range pair.Exchanges {
			if pe.Enabled && pe.NativeSymbol == "" {
				return fmt.Errorf("pairs.%s.exchanges.%s.native_symbol is required", symbol, exID)
			}
		}
	}

	if cfg.Broadcast.Enabled && len(cfg.Broadcast.Brokers) == 0 {
		return fmt.Errorf("broadcast.brokers is required when broadcast is enabled")
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive is enabled")
		}
		if cfg.Archive.Region == "" {
			return fmt.Errorf("archive.region is required when archive is enabled")
		}
	}

	return nil
}
