// Package exchange defines the vendor adapter contract and the factory that
// constructs the concrete adapter for a configured exchange.
package exchange

import (
	"context"
	"fmt"

	"coinstream/config"
	"coinstream/exchange/binance"
	"coinstream/exchange/bybit"
	"coinstream/exchange/okx"
	"coinstream/internal/stream"
	"coinstream/models"
)

// Adapter is implemented by every vendor integration. The three Connect
// calls are independent, non-blocking and may be issued concurrently; each
// opens (or reuses) a websocket dedicated to that stream kind and starts
// emitting normalized events on the bus supplied at construction.
type Adapter interface {
	// ConnectTicker subscribes to the 24h ticker stream for one pair.
	ConnectTicker(nativeSymbol, symbol string)
	// ConnectOrderBook subscribes to full order book snapshots. A depth of
	// 0 selects the vendor's default depth.
	ConnectOrderBook(nativeSymbol, symbol string, depth int)
	// ConnectKline subscribes to candle updates for one canonical interval.
	// Calling it again with a new interval extends the subscription set.
	ConnectKline(nativeSymbol, symbol, interval string)
	// FetchKlineHistory performs a one-shot REST fetch of historical
	// candles, clamped to the vendor's hard cap and returned in ascending
	// time order.
	FetchKlineHistory(ctx context.Context, nativeSymbol, symbol, interval string, limit int) ([]models.Candle, error)
	// Disconnect closes every open socket and cancels every pending
	// reconnect timer. Idempotent.
	Disconnect()
	// Connected reflects the ticker stream's state only.
	Connected() bool
}

// New constructs the adapter for the given exchange descriptor. Events are
// emitted on bus.
func New(cfg *config.ExchangeConfig, bus *stream.Bus) (Adapter, error) {
	switch cfg.ID {
	case "binance":
		return binance.New(cfg, bus), nil
	case "bybit":
		return bybit.New(cfg, bus), nil
	case "okx":
		return okx.New(cfg, bus), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", cfg.ID)
	}
}
