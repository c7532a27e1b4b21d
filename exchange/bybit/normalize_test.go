package bybit

import (
	"math"
	"testing"

	"coinstream/config"
)

func testIntervals() config.IntervalMapping {
	return config.DefaultExchanges()["bybit"].Intervals
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalizeTickerDerivesChange(t *testing.T) {
	raw := []byte(`{"topic":"tickers.BTCUSDT","ts":1700000000000,
		"data":{"symbol":"BTCUSDT","lastPrice":"65000","price24hPcnt":"0.0185",
		"volume24h":"1200","highPrice24h":"65500","lowPrice24h":"63800"}}`)

	tk, ok, err := normalizeTicker(raw, "bybit", "BTC/USDT")
	if err != nil || !ok {
		t.Fatalf("normalizeTicker: ok=%v err=%v", ok, err)
	}
	if tk.Price != 65000 {
		t.Fatalf("price mismatch: %v", tk.Price)
	}
	if !almostEqual(tk.PriceChange, 65000*0.0185) {
		t.Fatalf("derived change mismatch: %v", tk.PriceChange)
	}
	if !almostEqual(tk.PriceChangePercent, 1.85) {
		t.Fatalf("percent not scaled: %v", tk.PriceChangePercent)
	}
	if tk.High24h != 65500 || tk.Low24h != 63800 || tk.Volume != 1200 {
		t.Fatalf("range fields mismatch: %+v", tk)
	}
}

func TestNormalizeTickerSkipsAcks(t *testing.T) {
	for _, raw := range []string{
		`{"op":"pong","success":true}`,
		`{"success":true,"op":"subscribe","conn_id":"abc"}`,
	} {
		_, ok, err := normalizeTicker([]byte(raw), "bybit", "BTC/USDT")
		if err != nil {
			t.Fatalf("ack frame errored: %v", err)
		}
		if ok {
			t.Fatalf("ack frame should be skipped: %s", raw)
		}
	}
}

func TestNormalizeOrderBook(t *testing.T) {
	raw := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1700000000000,
		"data":{"s":"BTCUSDT","u":42,
		"b":[["64999.0","0.5"],["64998.0","1.0"]],
		"a":[["65001.0","0.25"]]}}`)

	ob, ok, err := normalizeOrderBook(raw, "bybit", "BTC/USDT")
	if err != nil || !ok {
		t.Fatalf("normalizeOrderBook: ok=%v err=%v", ok, err)
	}
	if len(ob.Bids) != 2 || len(ob.Asks) != 1 {
		t.Fatalf("level counts mismatch: %+v", ob)
	}
	if ob.Asks[0].Price != "65001.0" || ob.Asks[0].Quantity != "0.25" {
		t.Fatalf("ask level mismatch: %+v", ob.Asks[0])
	}
	if ob.Timestamp != 1700000000000 || ob.Source.UpdateID != 42 {
		t.Fatalf("metadata mismatch: %+v", ob)
	}
}

func TestNormalizeKlineConfirmFlag(t *testing.T) {
	raw := []byte(`{"topic":"kline.60.BTCUSDT","ts":1700000001000,
		"data":[{"start":1700000000000,"open":"64800","high":"65100",
		"low":"64700","close":"65000","volume":"321.5","confirm":true,"interval":"60"}]}`)

	c, ok, err := normalizeKline(raw, "bybit", "BTC/USDT", testIntervals())
	if err != nil || !ok {
		t.Fatalf("normalizeKline: ok=%v err=%v", ok, err)
	}
	if c.Interval != "1h" {
		t.Fatalf("vendor token 60 should map to 1h, got %q", c.Interval)
	}
	if !c.IsClosed {
		t.Fatalf("confirm=true should close the candle")
	}
	if c.Timestamp != 1700000000000 || c.Close != 65000 {
		t.Fatalf("candle mismatch: %+v", c)
	}
	if c.Source.NativeSymbol != "BTCUSDT" {
		t.Fatalf("native symbol mismatch: %+v", c.Source)
	}
}

func TestNormalizeKlineIntervalFromTopic(t *testing.T) {
	raw := []byte(`{"topic":"kline.D.BTCUSDT","ts":1700000001000,
		"data":[{"start":1700000000000,"open":"64800","high":"65100",
		"low":"64700","close":"65000","volume":"10","confirm":false}]}`)

	c, ok, err := normalizeKline(raw, "bybit", "BTC/USDT", testIntervals())
	if err != nil || !ok {
		t.Fatalf("normalizeKline: ok=%v err=%v", ok, err)
	}
	if c.Interval != "1d" || c.IsClosed {
		t.Fatalf("topic-derived interval mismatch: %+v", c)
	}
}
