package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"coinstream/models"
)

const (
	historyMaxLimit     = 300
	historyDefaultLimit = 300
)

type klineHistoryResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

// FetchKlineHistory pulls historical candles over REST. OKX caps a single
// request at 300 rows and serves them newest-first, so the result is
// reversed into ascending order.
func (a *Adapter) FetchKlineHistory(ctx context.Context, native, symbol, interval string, limit int) ([]models.Candle, error) {
	if limit <= 0 || limit > historyMaxLimit {
		limit = historyDefaultLimit
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/market/candles?instId=%s&bar=%s&limit=%d",
		a.cfg.RESTEndpoint, native, a.cfg.Intervals.ToVendor(interval), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("okx kline history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("okx kline history: status %d", resp.StatusCode)
	}

	var body klineHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("okx kline history: %w", err)
	}
	if body.Code != "0" {
		return nil, fmt.Errorf("okx kline history: code %s: %s", body.Code, body.Msg)
	}

	rows := body.Data
	candles := make([]models.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		ts := parseInt64(row[0])
		candles = append(candles, models.Candle{
			Exchange:  a.cfg.ID,
			Symbol:    symbol,
			Interval:  interval,
			Timestamp: ts,
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
			IsClosed:  true,
			Source: models.Source{
				NativeSymbol:      native,
				ExchangeTimestamp: ts,
			},
		})
	}
	return candles, nil
}
