package config

import "time"

// CanonicalIntervals are the candle periods supported outside vendor
// boundaries, in ascending order.
var CanonicalIntervals = []string{"1m", "15m", "1h", "4h", "1d", "1w", "1M"}

// IsCanonicalInterval reports whether iv is one of the supported canonical
// candle intervals.
func IsCanonicalInterval(iv string) bool {
	for _, c := range CanonicalIntervals {
		if c == iv {
			return true
		}
	}
	return false
}

// ExchangeConfig describes a single vendor: endpoints, reconnect policy and
// the interval vocabulary translation tables. Loaded once at startup and
// never mutated afterwards.
type ExchangeConfig struct {
	ID           string          `yaml:"id"`
	Name         string          `yaml:"name"`
	Enabled      bool            `yaml:"enabled"`
	WSEndpoint   string          `yaml:"ws_endpoint"`
	RESTEndpoint string          `yaml:"rest_endpoint"`
	Reconnect    ReconnectPolicy `yaml:"reconnect"`
	RateLimit    RateLimitHint   `yaml:"rate_limit"`
	Intervals    IntervalMapping `yaml:"intervals"`
}

type ReconnectPolicy struct {
	MaxAttempts int `yaml:"max_attempts"`
	DelayMs     int `yaml:"delay_ms"`
}

// Delay returns the fixed reconnect delay as a duration.
func (p ReconnectPolicy) Delay() time.Duration {
	return time.Duration(p.DelayMs) * time.Millisecond
}

type RateLimitHint struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
}

// IntervalMapping translates canonical interval strings to and from a
// vendor's own interval tokens.
type IntervalMapping struct {
	ToExchange   map[string]string `yaml:"to_exchange"`
	FromExchange map[string]string `yaml:"from_exchange"`
}

// ToVendor maps a canonical interval to the vendor token, falling back to
// the vendor's token for "1m" when the interval is unknown.
func (m IntervalMapping) ToVendor(interval string) string {
	if v, ok := m.ToExchange[interval]; ok {
		return v
	}
	if v, ok := m.ToExchange["1m"]; ok {
		return v
	}
	return "1m"
}

// FromVendor maps a vendor token back to the canonical interval, falling
// back to "1m" for unmapped tokens.
func (m IntervalMapping) FromVendor(token string) string {
	if v, ok := m.FromExchange[token]; ok {
		return v
	}
	return "1m"
}

// PairConfig describes a trading pair and its per-exchange enablement and
// native spelling.
type PairConfig struct {
	Symbol    string                        `yaml:"symbol"`
	Enabled   bool                          `yaml:"enabled"`
	Exchanges map[string]PairExchangeConfig `yaml:"exchanges"`
}

type PairExchangeConfig struct {
	Enabled      bool   `yaml:"enabled"`
	NativeSymbol string `yaml:"native_symbol"`
}

// NativeSymbol resolves the vendor spelling of the pair for the given
// exchange. The second return is false when the pair is not enabled there.
func (p *PairConfig) NativeSymbol(exchangeID string) (string, bool) {
	pe, ok := p.Exchanges[exchangeID]
	if !ok || !pe.Enabled {
		return "", false
	}
	return pe.NativeSymbol, true
}

func (e *ExchangeConfig) applyDefaults(id string) {
	if e.ID == "" {
		e.ID = id
	}
	if e.Reconnect.MaxAttempts == 0 {
		e.Reconnect.MaxAttempts = 5
	}
	if e.Reconnect.DelayMs == 0 {
		e.Reconnect.DelayMs = 5000
	}
	if len(e.Intervals.ToExchange) == 0 {
		if def, ok := defaultIntervalMappings[e.ID]; ok {
			e.Intervals = def
		}
	}
}

var defaultIntervalMappings = map[string]IntervalMapping{
	"binance": {
		// Binance tokens match the canonical vocabulary.
		ToExchange: map[string]string{
			"1m": "1m", "15m": "15m", "1h": "1h", "4h": "4h",
			"1d": "1d", "1w": "1w", "1M": "1M",
		},
		FromExchange: map[string]string{
			"1m": "1m", "15m": "15m", "1h": "1h", "4h": "4h",
			"1d": "1d", "1w": "1w", "1M": "1M",
		},
	},
	"bybit": {
		// Bare numbers for minutes and hours, letters for day/week/month.
		ToExchange: map[string]string{
			"1m": "1", "15m": "15", "1h": "60", "4h": "240",
			"1d": "D", "1w": "W", "1M": "M",
		},
		FromExchange: map[string]string{
			"1": "1m", "15": "15m", "60": "1h", "240": "4h",
			"D": "1d", "W": "1w", "M": "1M",
		},
	},
	"okx": {
		// Canonical lowercase below one hour, uppercase suffix from 1h up.
		ToExchange: map[string]string{
			"1m": "1m", "15m": "15m", "1h": "1H", "4h": "4H",
			"1d": "1D", "1w": "1W", "1M": "1M",
		},
		FromExchange: map[string]string{
			"1m": "1m", "15m": "15m", "1H": "1h", "4H": "4h",
			"1D": "1d", "1W": "1w", "1M": "1M",
		},
	},
}

// DefaultExchanges returns the built-in descriptors for the supported
// vendors. A YAML exchanges section replaces these wholesale.
func DefaultExchanges() map[string]*ExchangeConfig {
	return map[string]*ExchangeConfig{
		"binance": {
			ID:           "binance",
			Name:         "Binance",
			Enabled:      true,
			WSEndpoint:   "wss://stream.binance.com:9443/ws",
			RESTEndpoint: "https://api.binance.com/api/v3",
			Reconnect:    ReconnectPolicy{MaxAttempts: 5, DelayMs: 5000},
			RateLimit:    RateLimitHint{RequestsPerSecond: 20},
			Intervals:    defaultIntervalMappings["binance"],
		},
		"bybit": {
			ID:           "bybit",
			Name:         "Bybit",
			Enabled:      true,
			WSEndpoint:   "wss://stream.bybit.com/v5/public/spot",
			RESTEndpoint: "https://api.bybit.com/v5",
			Reconnect:    ReconnectPolicy{MaxAttempts: 5, DelayMs: 5000},
			RateLimit:    RateLimitHint{RequestsPerSecond: 10},
			Intervals:    defaultIntervalMappings["bybit"],
		},
		"okx": {
			ID:           "okx",
			Name:         "OKX",
			Enabled:      true,
			WSEndpoint:   "wss://ws.okx.com:8443/ws/v5/public",
			RESTEndpoint: "https://www.okx.com/api/v5",
			Reconnect:    ReconnectPolicy{MaxAttempts: 5, DelayMs: 5000},
			RateLimit:    RateLimitHint{RequestsPerSecond: 10},
			Intervals:    defaultIntervalMappings["okx"],
		},
	}
}

// DefaultPairs returns the built-in trading pairs.
func DefaultPairs() map[string]*PairConfig {
	return map[string]*PairConfig{
		"BTC/USDT": {
			Symbol:  "BTC/USDT",
			Enabled: true,
			Exchanges: map[string]PairExchangeConfig{
				"binance": {Enabled: true, NativeSymbol: "btcusdt"},
				"bybit":   {Enabled: true, NativeSymbol: "BTCUSDT"},
				"okx":     {Enabled: true, NativeSymbol: "BTC-USDT"},
			},
		},
		"ETH/USDT": {
			Symbol:  "ETH/USDT",
			Enabled: true,
			Exchanges: map[string]PairExchangeConfig{
				"binance": {Enabled: true, NativeSymbol: "ethusdt"},
				"bybit":   {Enabled: true, NativeSymbol: "ETHUSDT"},
				"okx":     {Enabled: true, NativeSymbol: "ETH-USDT"},
			},
		},
	}
}
