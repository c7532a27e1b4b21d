// Package coordinator owns the life cycle of every exchange adapter and
// fans their normalized output out to the cache, the broadcast sink and the
// in-memory read models served to API consumers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"coinstream/broadcast"
	"coinstream/cache"
	"coinstream/config"
	"coinstream/exchange"
	"coinstream/internal/stream"
	"coinstream/logger"
	"coinstream/models"
)

// ErrNotFound is returned by read queries when no data has been received
// for the requested exchange and symbol.
var ErrNotFound = errors.New("coordinator: not found")

type Coordinator struct {
	cfg   *config.Config
	bus   *stream.Bus
	store cache.Store
	sink  broadcast.Sink
	log   *logger.Entry

	mu       sync.RWMutex
	running  bool
	adapters map[string]exchange.Adapter
	tickers  map[string]models.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, bus *stream.Bus, store cache.Store, sink broadcast.Sink) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		bus:      bus,
		store:    store,
		sink:     sink,
		log:      logger.GetLogger().WithComponent("coordinator"),
		adapters: make(map[string]exchange.Adapter),
		tickers:  make(map[string]models.Ticker),
	}
}

// Start builds one adapter per enabled exchange/pair combination, opens its
// three streams and launches the fan-out loops. Calling Start on a running
// coordinator is a warned no-op.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.log.Warn("coordinator already running")
		return nil
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.log.Info("starting market data coordinator")

	for _, exID := range sortedKeys(c.cfg.Exchanges) {
		exCfg := c.cfg.Exchanges[exID]
		if !exCfg.Enabled {
			c.log.WithField("exchange", exID).Debug("exchange disabled, skipping")
			continue
		}
		for _, symbol := range sortedKeys(c.cfg.Pairs) {
			pair := c.cfg.Pairs[symbol]
			if !pair.Enabled {
				continue
			}
			native, ok := pair.NativeSymbol(exID)
			if !ok {
				continue
			}
			if err := c.startPair(exCfg, symbol, native); err != nil {
				c.log.WithError(err).WithFields(logger.Fields{
					"exchange": exID,
					"symbol":   symbol,
				}).Error("failed to start pair")
			}
		}
	}

	c.wg.Add(4)
	go c.consumeTickers()
	go c.consumeBooks()
	go c.consumeCandles()
	go c.consumeErrors()

	c.mu.RLock()
	n := len(c.adapters)
	c.mu.RUnlock()
	c.log.WithField("pairs", n).Info("market data coordinator started")
	return nil
}

func (c *Coordinator) startPair(exCfg *config.ExchangeConfig, symbol, native string) error {
	adapter, err := exchange.New(exCfg, c.bus)
	if err != nil {
		return err
	}

	adapter.ConnectTicker(native, symbol)
	adapter.ConnectOrderBook(native, symbol, c.cfg.Market.OrderBookDepth)
	for _, interval := range c.cfg.Market.KlineIntervals {
		adapter.ConnectKline(native, symbol, interval)
	}

	c.mu.Lock()
	c.adapters[streamKey(exCfg.ID, symbol)] = adapter
	c.mu.Unlock()

	c.log.WithFields(logger.Fields{
		"exchange": exCfg.ID,
		"symbol":   symbol,
	}).Info("pair streams opened")
	return nil
}

// Stop disconnects every adapter, waits for the fan-out loops to drain and
// clears the adapter registry. Safe to call when the coordinator never
// started.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	adapters := make([]exchange.Adapter, 0, len(c.adapters))
	for _, a := range c.adapters {
		adapters = append(adapters, a)
	}
	cancel := c.cancel
	c.mu.Unlock()

	c.log.Info("stopping market data coordinator")
	for _, a := range adapters {
		a.Disconnect()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	// Clear the registry and read models so retired adapters can no
	// longer be reached through queries.
	c.mu.Lock()
	c.adapters = make(map[string]exchange.Adapter)
	c.tickers = make(map[string]models.Ticker)
	c.mu.Unlock()

	c.log.Info("market data coordinator stopped")
}

func (c *Coordinator) consumeTickers() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case t := <-c.bus.Tickers:
			c.mu.Lock()
			c.tickers[streamKey(t.Exchange, t.Symbol)] = t
			c.mu.Unlock()
			c.sink.PublishTicker(c.ctx, t)
		}
	}
}

func (c *Coordinator) consumeBooks() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ob := <-c.bus.Books:
			c.sink.PublishBook(c.ctx, ob)
		}
	}
}

func (c *Coordinator) consumeCandles() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case candle := <-c.bus.Candles:
			c.sink.PublishCandle(c.ctx, candle)
			if candle.IsClosed {
				c.storeLatestCandle(candle)
			}
		}
	}
}

func (c *Coordinator) consumeErrors() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case err := <-c.bus.Errors:
			c.log.WithError(err).Warn("stream error")
		}
	}
}

// LatestTicker returns the most recent ticker for one exchange and symbol.
func (c *Coordinator) LatestTicker(exchangeID, symbol string) (models.Ticker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tickers[streamKey(exchangeID, symbol)]
	if !ok {
		return models.Ticker{}, ErrNotFound
	}
	return t, nil
}

// AllExchangeTickers returns the latest ticker of every exchange currently
// tracking the symbol, ordered by exchange id.
func (c *Coordinator) AllExchangeTickers(symbol string) []models.Ticker {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Ticker, 0, len(c.tickers))
	for _, t := range c.tickers {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}

// ConnectionStatus reports per-pair connectivity, keyed "exchange:symbol".
// The value reflects the ticker stream only.
func (c *Coordinator) ConnectionStatus() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := make(map[string]bool, len(c.adapters))
	for key, a := range c.adapters {
		status[key] = a.Connected()
	}
	return status
}

func streamKey(exchangeID, symbol string) string {
	return fmt.Sprintf("%s:%s", exchangeID, symbol)
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
