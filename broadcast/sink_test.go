package broadcast

import (
	"context"
	"encoding/json"
	"testing"

	"coinstream/models"
)

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	ctx := context.Background()

	s.PublishTicker(ctx, models.Ticker{Exchange: "binance"})
	s.PublishBook(ctx, models.OrderBookSnapshot{Exchange: "bybit"})
	s.PublishCandle(ctx, models.Candle{Exchange: "okx"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

type countingSink struct {
	tickers, books, candles, closed int
}

func (s *countingSink) PublishTicker(ctx context.Context, t models.Ticker) { s.tickers++ }

func (s *countingSink) PublishBook(ctx context.Context, ob models.OrderBookSnapshot) { s.books++ }

func (s *countingSink) PublishCandle(ctx context.Context, c models.Candle) { s.candles++ }

func (s *countingSink) Close() error {
	s.closed++
	return nil
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := NewMultiSink(a, b)
	ctx := context.Background()

	m.PublishTicker(ctx, models.Ticker{})
	m.PublishBook(ctx, models.OrderBookSnapshot{})
	m.PublishCandle(ctx, models.Candle{})
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, s := range []*countingSink{a, b} {
		if s.tickers != 1 || s.books != 1 || s.candles != 1 || s.closed != 1 {
			t.Fatalf("fan-out incomplete: %+v", s)
		}
	}
}

func TestEnvelopeShape(t *testing.T) {
	env := envelope{
		ID:        "abc",
		Type:      "ticker",
		Timestamp: 1700000000000,
		Data:      models.Ticker{Exchange: "binance", Symbol: "BTC/USDT", Price: 65000},
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "type", "timestamp", "data"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("envelope missing %q: %s", key, raw)
		}
	}
}
