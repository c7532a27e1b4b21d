package okx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coinstream/config"
	"coinstream/internal/stream"
)

func TestFetchKlineHistoryCapsAt300(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		// Newest first, as the vendor serves it.
		w.Write([]byte(`{"code":"0","msg":"","data":[
			["1700003600000","65000","65300","64900","65200","128.0","0","0","1"],
			["1700000000000","64800","65100","64700","65000","321.5","0","0","1"]]}`))
	}))
	defer srv.Close()

	cfg := config.DefaultExchanges()["okx"]
	cfg.RESTEndpoint = srv.URL
	bus := stream.NewBus(4, 4, 4, 4)
	defer bus.Close()
	a := New(cfg, bus)

	candles, err := a.FetchKlineHistory(context.Background(), "BTC-USDT", "BTC/USDT", "1h", 2000)
	if err != nil {
		t.Fatalf("FetchKlineHistory: %v", err)
	}
	if !strings.Contains(gotQuery, "limit=300") {
		t.Fatalf("limit not capped at 300: %q", gotQuery)
	}
	if !strings.Contains(gotQuery, "instId=BTC-USDT") || !strings.Contains(gotQuery, "bar=1H") {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].Timestamp != 1700000000000 || candles[1].Timestamp != 1700003600000 {
		t.Fatalf("candles not reversed into ascending order: %d, %d",
			candles[0].Timestamp, candles[1].Timestamp)
	}
	if !candles[0].IsClosed {
		t.Fatalf("history candles should be closed: %+v", candles[0])
	}
}

func TestFetchKlineHistoryVendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
	}))
	defer srv.Close()

	cfg := config.DefaultExchanges()["okx"]
	cfg.RESTEndpoint = srv.URL
	bus := stream.NewBus(4, 4, 4, 4)
	defer bus.Close()
	a := New(cfg, bus)

	if _, err := a.FetchKlineHistory(context.Background(), "XXX-USDT", "XXX/USDT", "1h", 10); err == nil {
		t.Fatalf("expected error for non-zero code")
	}
}
