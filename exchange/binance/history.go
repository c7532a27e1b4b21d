package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"coinstream/models"
)

const (
	historyMaxLimit     = 1000
	historyDefaultLimit = 500
)

// FetchKlineHistory pulls historical candles over REST. Binance returns rows
// in ascending time order already, capped at 1000 per request.
func (a *Adapter) FetchKlineHistory(ctx context.Context, native, symbol, interval string, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		limit = historyDefaultLimit
	}
	if limit > historyMaxLimit {
		limit = historyMaxLimit
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/klines?symbol=%s&interval=%s&limit=%d",
		a.cfg.RESTEndpoint, strings.ToUpper(native), a.cfg.Intervals.ToVendor(interval), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance kline history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance kline history: status %d", resp.StatusCode)
	}

	var rows [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("binance kline history: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, models.Candle{
			Exchange:  a.cfg.ID,
			Symbol:    symbol,
			Interval:  interval,
			Timestamp: asInt64(row[0]),
			Open:      asFloat(row[1]),
			High:      asFloat(row[2]),
			Low:       asFloat(row[3]),
			Close:     asFloat(row[4]),
			Volume:    asFloat(row[5]),
			IsClosed:  true,
			Source: models.Source{
				NativeSymbol:      native,
				ExchangeTimestamp: asInt64(row[0]),
			},
		})
	}
	return candles, nil
}

// Kline rows mix JSON numbers and strings, so both coercions live here.
func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		return parseFloat(t)
	default:
		return 0
	}
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		return int64(parseFloat(t))
	default:
		return 0
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
