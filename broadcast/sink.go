// Package broadcast fans normalized market records out to downstream
// consumers. Publishing is fire-and-forget: a failed publish is logged and
// dropped, it never blocks or fails the ingest path.
package broadcast

import (
	"context"

	"coinstream/models"
)

// Sink receives every normalized record that leaves the coordinator.
type Sink interface {
	PublishTicker(ctx context.Context, t models.Ticker)
	PublishBook(ctx context.Context, ob models.OrderBookSnapshot)
	PublishCandle(ctx context.Context, c models.Candle)
	Close() error
}

// NopSink discards everything. Used when broadcasting is disabled.
type NopSink struct{}

func (NopSink) PublishTicker(ctx context.Context, t models.Ticker) {}

func (NopSink) PublishBook(ctx context.Context, ob models.OrderBookSnapshot) {}

func (NopSink) PublishCandle(ctx context.Context, c models.Candle) {}

func (NopSink) Close() error { return nil }

// MultiSink fans every publish out to each wrapped sink in order.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) PublishTicker(ctx context.Context, t models.Ticker) {
	for _, s := range m.sinks {
		s.PublishTicker(ctx, t)
	}
}

func (m *MultiSink) PublishBook(ctx context.Context, ob models.OrderBookSnapshot) {
	for _, s := range m.sinks {
		s.PublishBook(ctx, ob)
	}
}

func (m *MultiSink) PublishCandle(ctx context.Context, c models.Candle) {
	for _, s := range m.sinks {
		s.PublishCandle(ctx, c)
	}
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
