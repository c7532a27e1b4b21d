package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coinstream/broadcast"
	"coinstream/cache"
	"coinstream/config"
	"coinstream/coordinator"
	"coinstream/internal/stream"
	"coinstream/models"
)

func testRouter(t *testing.T) (*Server, *stream.Bus, *coordinator.Coordinator) {
	t.Helper()

	exchanges := config.DefaultExchanges()
	for _, ex := range exchanges {
		ex.Enabled = false
	}
	cfg := &config.Config{
		Coinstream: config.CoinstreamConfig{Name: "coinstream-test", Version: "0.0.0"},
		Market: config.MarketConfig{
			KlineIntervals: []string{"1h"},
			HistoryTimeout: time.Second,
		},
		Exchanges: exchanges,
		Pairs:     config.DefaultPairs(),
		Server:    config.ServerConfig{Enabled: true, Address: ":0"},
	}

	bus := stream.NewBus(16, 16, 16, 16)
	coord := coordinator.New(cfg, bus, cache.NewMemoryStore(), broadcast.NopSink{})
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		coord.Stop()
		bus.Close()
	})

	return NewServer(cfg.Server, coord, bus), bus, coord
}

func doRequest(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(w, req)
	return w
}

func waitForTicker(t *testing.T, coord *coordinator.Coordinator, exchangeID, symbol string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := coord.LatestTicker(exchangeID, symbol); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("ticker for %s:%s never arrived", exchangeID, symbol)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewServerDisabled(t *testing.T) {
	if s := NewServer(config.ServerConfig{Enabled: false}, nil, nil); s != nil {
		t.Fatalf("disabled server should be nil")
	}
	var s *Server
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("nil server Run should be a no-op, got %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := testRouter(t)
	w := doRequest(t, s, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestTickerEndpoint(t *testing.T) {
	s, bus, coord := testRouter(t)

	bus.SendTicker(models.Ticker{Exchange: "binance", Symbol: "BTC/USDT", Price: 65000.5})
	waitForTicker(t, coord, "binance", "BTC/USDT")

	w := doRequest(t, s, "/api/v1/ticker?exchange=binance&symbol=BTC%2FUSDT")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var tk models.Ticker
	if err := json.Unmarshal(w.Body.Bytes(), &tk); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tk.Price != 65000.5 {
		t.Fatalf("price mismatch: %+v", tk)
	}
}

func TestTickerEndpointNotFound(t *testing.T) {
	s, _, _ := testRouter(t)
	w := doRequest(t, s, "/api/v1/ticker?exchange=binance&symbol=XRP%2FUSDT")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestTickerEndpointMissingParams(t *testing.T) {
	s, _, _ := testRouter(t)
	w := doRequest(t, s, "/api/v1/ticker")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestKlinesEndpointRejectsUnknownInterval(t *testing.T) {
	s, _, _ := testRouter(t)
	w := doRequest(t, s, "/api/v1/klines?exchange=binance&symbol=BTC%2FUSDT&interval=7m")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestKlinesEndpointNoStream(t *testing.T) {
	s, _, _ := testRouter(t)
	w := doRequest(t, s, "/api/v1/klines?exchange=binance&symbol=BTC%2FUSDT&interval=1h")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when no stream exists, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _, _ := testRouter(t)
	w := doRequest(t, s, "/api/v1/status")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"connections", "channels"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("status body missing %q: %s", key, w.Body.String())
		}
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":          ":8080",
		"8081":      ":8081",
		":9090":     ":9090",
		"0.0.0.0:1": "0.0.0.0:1",
	}
	for in, want := range cases {
		if got := normalizeAddress(in); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
