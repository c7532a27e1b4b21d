package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "coinstream:\n  name: coinstream\n  version: test\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(cfg.Exchanges) != 3 {
		t.Fatalf("expected 3 default exchanges, got %d", len(cfg.Exchanges))
	}
	for _, id := range []string{"binance", "bybit", "okx"} {
		ex, ok := cfg.Exchanges[id]
		if !ok {
			t.Fatalf("missing default exchange %s", id)
		}
		if !ex.Enabled {
			t.Fatalf("default exchange %s should be enabled", id)
		}
		if ex.Reconnect.MaxAttempts != 5 || ex.Reconnect.DelayMs != 5000 {
			t.Fatalf("unexpected reconnect policy for %s: %+v", id, ex.Reconnect)
		}
	}

	pair, ok := cfg.Pairs["BTC/USDT"]
	if !ok {
		t.Fatalf("missing default pair BTC/USDT")
	}
	native, ok := pair.NativeSymbol("okx")
	if !ok || native != "BTC-USDT" {
		t.Fatalf("unexpected okx native symbol: %q", native)
	}

	if len(cfg.Market.KlineIntervals) != len(CanonicalIntervals) {
		t.Fatalf("expected all canonical intervals by default, got %v", cfg.Market.KlineIntervals)
	}
	if cfg.Channels.TickerBuffer <= 0 {
		t.Fatalf("ticker buffer default not applied")
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	path := writeConfig(t, "coinstream:\n  version: test\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for missing name")
	}
}

func TestLoadConfigUnknownInterval(t *testing.T) {
	path := writeConfig(t, `
coinstream:
  name: coinstream
  version: test
market:
  kline_intervals: ["1m", "3h"]
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for unknown interval")
	}
}

func TestIntervalRoundTrip(t *testing.T) {
	for id, mapping := range defaultIntervalMappings {
		for _, iv := range CanonicalIntervals {
			token := mapping.ToVendor(iv)
			back := mapping.FromVendor(token)
			if back != iv {
				t.Errorf("%s: round trip %s -> %s -> %s", id, iv, token, back)
			}
		}
	}
}

func TestIntervalFallback(t *testing.T) {
	mapping := defaultIntervalMappings["bybit"]
	if got := mapping.FromVendor("720"); got != "1m" {
		t.Fatalf("unmapped vendor token should fall back to 1m, got %s", got)
	}
	if got := mapping.ToVendor("3h"); got != "1" {
		t.Fatalf("unknown canonical interval should fall back to the 1m token, got %s", got)
	}
}

func TestNativeSymbolDisabled(t *testing.T) {
	pair := &PairConfig{
		Symbol:  "BTC/USDT",
		Enabled: true,
		Exchanges: map[string]PairExchangeConfig{
			"binance": {Enabled: false, NativeSymbol: "btcusdt"},
		},
	}
	if _, ok := pair.NativeSymbol("binance"); ok {
		t.Fatalf("disabled pair/exchange should not resolve")
	}
	if _, ok := pair.NativeSymbol("okx"); ok {
		t.Fatalf("unconfigured exchange should not resolve")
	}
}
