package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"coinstream/models"
)

const (
	historyMaxLimit     = 1000
	historyDefaultLimit = 500
)

type klineHistoryResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// FetchKlineHistory pulls historical candles over REST. The vendor returns
// rows newest-first, so the result is reversed into ascending order.
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

	url := fmt.Sprintf("%s/market/kline?category=spot&symbol=%s&interval=%s&limit=%d",
		a.cfg.RESTEndpoint, native, a.cfg.Intervals.ToVendor(interval), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bybit kline history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bybit kline history: status %d", resp.StatusCode)
	}

	var body klineHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("bybit kline history: %w", err)
	}
	if body.RetCode != 0 {
		return nil, fmt.Errorf("bybit kline history: retCode %d: %s", body.RetCode, body.RetMsg)
	}

	rows := body.Result.List
	candles := make([]models.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		start := parseInt64(row[0])
		candles = append(candles, models.Candle{
			Exchange:  a.cfg.ID,
			Symbol:    symbol,
			Interval:  interval,
			Timestamp: start,
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
			IsClosed:  true,
			Source: models.Source{
				NativeSymbol:      native,
				ExchangeTimestamp: start,
			},
		})
	}
	return candles, nil
}

func parseInt64(s string) int64 {
	return int64(parseFloat(s))
}
