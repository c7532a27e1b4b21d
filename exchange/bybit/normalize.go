package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"coinstream/config"
	"coinstream/models"
)

// envelope is the common shape of every data frame: pong replies and
// subscription acks carry no topic and are skipped by the callers.
type envelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type tickerData struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Price24hPcnt string `json:"price24hPcnt"`
	Volume24h    string `json:"volume24h"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
}

type bookData struct {
	Symbol   string      `json:"s"`
	Bids     [][2]string `json:"b"`
	Asks     [][2]string `json:"a"`
	UpdateID int64       `json:"u"`
}

type klineData struct {
	Start    int64  `json:"start"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Confirm  bool   `json:"confirm"`
	Interval string `json:"interval"`
}

// normalizeTicker converts a tickers.* frame. The vendor supplies only the
// fractional 24h change, so the absolute change is derived from the last
// price and the percent is scaled to a human percentage.
func normalizeTicker(raw []byte, exchange, symbol string) (models.Ticker, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.Ticker{}, false, fmt.Errorf("bybit ticker: %w", err)
	}
	if !strings.HasPrefix(env.Topic, "tickers.") {
		return models.Ticker{}, false, nil
	}
	var d tickerData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return models.Ticker{}, false, fmt.Errorf("bybit ticker: %w", err)
	}
	last := parseFloat(d.LastPrice)
	pcnt := parseFloat(d.Price24hPcnt)
	return models.Ticker{
		Exchange:           exchange,
		Symbol:             symbol,
		Price:              last,
		PriceChange:        last * pcnt,
		PriceChangePercent: pcnt * 100,
		Volume:             parseFloat(d.Volume24h),
		High24h:            parseFloat(d.HighPrice24h),
		Low24h:             parseFloat(d.LowPrice24h),
		Timestamp:          env.TS,
		Source: models.Source{
			NativeSymbol:      d.Symbol,
			ExchangeTimestamp: env.TS,
		},
	}, true, nil
}

func normalizeOrderBook(raw []byte, exchange, symbol string) (models.OrderBookSnapshot, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.OrderBookSnapshot{}, false, fmt.Errorf("bybit orderbook: %w", err)
	}
	if !strings.HasPrefix(env.Topic, "orderbook.") {
		return models.OrderBookSnapshot{}, false, nil
	}
	var d bookData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return models.OrderBookSnapshot{}, false, fmt.Errorf("bybit orderbook: %w", err)
	}
	return models.OrderBookSnapshot{
		Exchange:  exchange,
		Symbol:    symbol,
		Bids:      toLevels(d.Bids),
		Asks:      toLevels(d.Asks),
		Timestamp: env.TS,
		Source: models.Source{
			NativeSymbol:      d.Symbol,
			ExchangeTimestamp: env.TS,
			UpdateID:          d.UpdateID,
		},
	}, true, nil
}

func normalizeKline(raw []byte, exchange, symbol string, intervals config.IntervalMapping) (models.Candle, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.Candle{}, false, fmt.Errorf("bybit kline: %w", err)
	}
	if !strings.HasPrefix(env.Topic, "kline.") {
		return models.Candle{}, false, nil
	}
	var rows []klineData
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return models.Candle{}, false, fmt.Errorf("bybit kline: %w", err)
	}
	if len(rows) == 0 {
		return models.Candle{}, false, fmt.Errorf("bybit kline: empty data")
	}
	d := rows[0]

	// The interval token sits in the topic: kline.{interval}.{symbol}.
	parts := strings.Split(env.Topic, ".")
	token := d.Interval
	if token == "" && len(parts) >= 3 {
		token = parts[1]
	}
	native := ""
	if len(parts) >= 3 {
		native = parts[2]
	}

	return models.Candle{
		Exchange:  exchange,
		Symbol:    symbol,
		Interval:  intervals.FromVendor(token),
		Timestamp: d.Start,
		Open:      parseFloat(d.Open),
		High:      parseFloat(d.High),
		Low:       parseFloat(d.Low),
		Close:     parseFloat(d.Close),
		Volume:    parseFloat(d.Volume),
		IsClosed:  d.Confirm,
		Source: models.Source{
			NativeSymbol:      native,
			ExchangeTimestamp: env.TS,
		},
	}, true, nil
}

func toLevels(raw [][2]string) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, len(raw))
	for _, l := range raw {
		levels = append(levels, models.PriceLevel{Price: l[0], Quantity: l[1]})
	}
	return levels
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
