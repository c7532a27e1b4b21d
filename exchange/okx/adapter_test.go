package okx

import (
	"testing"

	"coinstream/config"
	"coinstream/internal/stream"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	cfg := config.DefaultExchanges()["okx"]
	bus := stream.NewBus(16, 16, 16, 16)
	t.Cleanup(bus.Close)
	return New(cfg, bus)
}

func TestConnectKlineDuringDialYieldsDelta(t *testing.T) {
	a := testAdapter(t)
	a.mu.Lock()
	a.klineNative = "BTC-USDT"
	a.klineSymbol = "BTC/USDT"
	a.klineIntervals["1h"] = true
	a.mu.Unlock()

	// A dial is in flight holding the {1h} snapshot: the socket is not
	// connected yet, so ConnectKline cannot subscribe directly and a
	// second dial bails out of BeginConnect.
	if !a.kline.BeginConnect() {
		t.Fatalf("BeginConnect failed")
	}
	a.ConnectKline("BTC-USDT", "BTC/USDT", "4h")

	// The landing dial must subscribe the interval added mid-flight.
	delta := a.klineDelta([]string{"1h"})
	if len(delta) != 1 || delta[0] != "4h" {
		t.Fatalf("expected delta [4h], got %v", delta)
	}
	if got := a.klineDelta([]string{"1h", "4h"}); len(got) != 0 {
		t.Fatalf("complete snapshot should yield no delta, got %v", got)
	}
}

func TestConnectKlineDedupesIntervals(t *testing.T) {
	a := testAdapter(t)
	a.mu.Lock()
	a.klineNative = "BTC-USDT"
	a.klineSymbol = "BTC/USDT"
	a.klineIntervals["1h"] = true
	a.mu.Unlock()

	a.ConnectKline("BTC-USDT", "BTC/USDT", "1h")
	a.mu.Lock()
	n := len(a.klineIntervals)
	a.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 interval, got %d", n)
	}
}

func TestIsPong(t *testing.T) {
	if !isPong([]byte("pong")) {
		t.Fatalf("literal pong frame not recognized")
	}
	if isPong([]byte(`{"event":"subscribe"}`)) {
		t.Fatalf("event frame misread as pong")
	}
}
