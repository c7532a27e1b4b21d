package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coinstream/cache"
	"coinstream/logger"
	"coinstream/models"
)

// latestCandleTTL bounds how long a live closed candle stays cached.
const latestCandleTTL = 2 * time.Minute

// historyTTLs scale the cache lifetime of a history response with the
// interval it covers: short intervals go stale quickly, long ones barely
// move between requests.
var historyTTLs = map[string]time.Duration{
	"1m":  time.Minute,
	"15m": 5 * time.Minute,
	"1h":  10 * time.Minute,
	"4h":  30 * time.Minute,
	"1d":  time.Hour,
	"1w":  2 * time.Hour,
	"1M":  2 * time.Hour,
}

const defaultHistoryTTL = 5 * time.Minute

func historyTTL(interval string) time.Duration {
	if ttl, ok := historyTTLs[interval]; ok {
		return ttl
	}
	return defaultHistoryTTL
}

// KlineHistory serves historical candles cache-aside: a cache hit large
// enough for the request is returned (trimmed to the newest limit rows), a
// miss or an undersized entry falls through to the vendor REST endpoint
// and the response is cached with an interval-scaled TTL. Cache failures
// are treated as misses, never as errors.
func (c *Coordinator) KlineHistory(ctx context.Context, exchangeID, symbol, interval string, limit int) ([]models.Candle, error) {
	c.mu.RLock()
	adapter, ok := c.adapters[streamKey(exchangeID, symbol)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no stream for %s:%s", ErrNotFound, exchangeID, symbol)
	}

	if _, ok := c.cfg.Exchanges[exchangeID]; !ok {
		return nil, fmt.Errorf("%w: unknown exchange %s", ErrNotFound, exchangeID)
	}
	pair, ok := c.cfg.Pairs[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: unknown symbol %s", ErrNotFound, symbol)
	}
	native, ok := pair.NativeSymbol(exchangeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s not enabled on %s", ErrNotFound, symbol, exchangeID)
	}

	log := c.log.WithFields(logger.Fields{
		"exchange": exchangeID,
		"symbol":   symbol,
		"interval": interval,
	})

	key := historyKey(exchangeID, symbol, interval)
	if cached, err := c.store.Get(ctx, key); err == nil {
		var candles []models.Candle
		if err := json.Unmarshal([]byte(cached), &candles); err == nil {
			if limit <= 0 || len(candles) >= limit {
				if limit > 0 && len(candles) > limit {
					candles = candles[len(candles)-limit:]
				}
				log.Debug("kline history served from cache")
				return candles, nil
			}
			// The cached entry covers fewer candles than requested;
			// fall through to the vendor and overwrite it.
			log.Debug("cached kline history too short for request")
		} else {
			log.WithError(err).Warn("discarding corrupt cached kline history")
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		log.WithError(err).Warn("kline history cache read failed, fetching direct")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.Market.HistoryTimeout)
	defer cancel()
	candles, err := adapter.FetchKlineHistory(fetchCtx, native, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("kline history fetch failed: %w", err)
	}

	if payload, err := json.Marshal(candles); err == nil {
		if err := c.store.Set(ctx, key, string(payload), historyTTL(interval)); err != nil {
			log.WithError(err).Warn("kline history cache write failed")
		}
	}
	return candles, nil
}

// storeLatestCandle publishes a just-closed live candle under a stable key
// so downstream readers see fresh closes without a REST round trip. Best
// effort: failures are logged and dropped.
func (c *Coordinator) storeLatestCandle(candle models.Candle) {
	payload, err := json.Marshal(candle)
	if err != nil {
		return
	}
	key := fmt.Sprintf("kline:%s:%s:%s:latest", candle.Exchange, candle.Symbol, candle.Interval)
	if err := c.store.Set(c.ctx, key, string(payload), latestCandleTTL); err != nil {
		c.log.WithError(err).WithField("key", key).Debug("latest candle cache write failed")
	}
}

func historyKey(exchangeID, symbol, interval string) string {
	return fmt.Sprintf("kline:%s:%s:%s:history", exchangeID, symbol, interval)
}
