package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coinstream/config"
	"coinstream/internal/stream"
)

func TestFetchKlineHistoryReversesOrder(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		// Newest first, as the vendor serves it.
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			["1700003600000","65000","65300","64900","65200","128.0","0"],
			["1700000000000","64800","65100","64700","65000","321.5","0"]]}}`))
	}))
	defer srv.Close()

	cfg := config.DefaultExchanges()["bybit"]
	cfg.RESTEndpoint = srv.URL
	bus := stream.NewBus(4, 4, 4, 4)
	defer bus.Close()
	a := New(cfg, bus)

	candles, err := a.FetchKlineHistory(context.Background(), "BTCUSDT", "BTC/USDT", "1h", 2)
	if err != nil {
		t.Fatalf("FetchKlineHistory: %v", err)
	}
	if !strings.Contains(gotQuery, "category=spot") || !strings.Contains(gotQuery, "interval=60") {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].Timestamp != 1700000000000 || candles[1].Timestamp != 1700003600000 {
		t.Fatalf("candles not reversed into ascending order: %d, %d",
			candles[0].Timestamp, candles[1].Timestamp)
	}
	if !candles[0].IsClosed || candles[0].Close != 65000 {
		t.Fatalf("first candle mismatch: %+v", candles[0])
	}
}

func TestFetchKlineHistoryClampsLimit(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[]}}`))
	}))
	defer srv.Close()

	cfg := config.DefaultExchanges()["bybit"]
	cfg.RESTEndpoint = srv.URL
	bus := stream.NewBus(4, 4, 4, 4)
	defer bus.Close()
	a := New(cfg, bus)

	if _, err := a.FetchKlineHistory(context.Background(), "BTCUSDT", "BTC/USDT", "1h", 5000); err != nil {
		t.Fatalf("FetchKlineHistory: %v", err)
	}
	if !strings.Contains(gotQuery, "limit=1000") {
		t.Fatalf("limit not clamped: %q", gotQuery)
	}
}

func TestFetchKlineHistoryVendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{"list":[]}}`))
	}))
	defer srv.Close()

	cfg := config.DefaultExchanges()["bybit"]
	cfg.RESTEndpoint = srv.URL
	bus := stream.NewBus(4, 4, 4, 4)
	defer bus.Close()
	a := New(cfg, bus)

	if _, err := a.FetchKlineHistory(context.Background(), "BTCUSDT", "BTC/USDT", "1h", 10); err == nil {
		t.Fatalf("expected error for non-zero retCode")
	}
}
