package okx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"coinstream/config"
	"coinstream/models"
)

// envelope is the common push frame: subscription acks carry "event" and no
// data, and are skipped by the callers.
type envelope struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type tickerData struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	Open24h string `json:"open24h"`
	High24h string `json:"high24h"`
	Low24h  string `json:"low24h"`
	Vol24h  string `json:"vol24h"`
	TS      string `json:"ts"`
}

type bookData struct {
	Asks  [][]string `json:"asks"`
	Bids  [][]string `json:"bids"`
	TS    string     `json:"ts"`
	SeqID int64      `json:"seqId"`
}

// normalizeTicker converts a tickers channel frame. The vendor supplies no
// change fields at all; both are derived from last and open24h, with the
// percent pinned to zero when open24h is missing or zero.
func normalizeTicker(raw []byte, exchange, symbol string) (models.Ticker, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.Ticker{}, false, fmt.Errorf("okx ticker: %w", err)
	}
	if env.Event != "" || len(env.Data) == 0 {
		return models.Ticker{}, false, nil
	}
	var rows []tickerData
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return models.Ticker{}, false, fmt.Errorf("okx ticker: %w", err)
	}
	if len(rows) == 0 {
		return models.Ticker{}, false, fmt.Errorf("okx ticker: empty data")
	}
	d := rows[0]

	last := parseFloat(d.Last)
	open := parseFloat(d.Open24h)
	change := last - open
	pct := 0.0
	if open > 0 {
		pct = change / open * 100
	}
	ts := parseInt64(d.TS)
	return models.Ticker{
		Exchange:           exchange,
		Symbol:             symbol,
		Price:              last,
		PriceChange:        change,
		PriceChangePercent: pct,
		Volume:             parseFloat(d.Vol24h),
		High24h:            parseFloat(d.High24h),
		Low24h:             parseFloat(d.Low24h),
		Timestamp:          ts,
		Source: models.Source{
			NativeSymbol:      d.InstID,
			ExchangeTimestamp: ts,
		},
	}, true, nil
}

func normalizeOrderBook(raw []byte, exchange, symbol string) (models.OrderBookSnapshot, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.OrderBookSnapshot{}, false, fmt.Errorf("okx orderbook: %w", err)
	}
	if env.Event != "" || len(env.Data) == 0 {
		return models.OrderBookSnapshot{}, false, nil
	}
	var rows []bookData
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return models.OrderBookSnapshot{}, false, fmt.Errorf("okx orderbook: %w", err)
	}
	if len(rows) == 0 {
		return models.OrderBookSnapshot{}, false, fmt.Errorf("okx orderbook: empty data")
	}
	d := rows[0]

	ts := parseInt64(d.TS)
	return models.OrderBookSnapshot{
		Exchange:  exchange,
		Symbol:    symbol,
		Bids:      toLevels(d.Bids),
		Asks:      toLevels(d.Asks),
		Timestamp: ts,
		Source: models.Source{
			NativeSymbol:      env.Arg.InstID,
			ExchangeTimestamp: ts,
			UpdateID:          d.SeqID,
		},
	}, true, nil
}

// normalizeKline converts a candle{token} channel frame. Rows are position
// encoded: [ts, open, high, low, close, volume, ..., confirm] where the
// confirm flag at index 8 is "1" once the period has closed.
func normalizeKline(raw []byte, exchange, symbol string, intervals config.IntervalMapping) (models.Candle, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.Candle{}, false, fmt.Errorf("okx kline: %w", err)
	}
	if env.Event != "" || len(env.Data) == 0 {
		return models.Candle{}, false, nil
	}
	var rows [][]string
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return models.Candle{}, false, fmt.Errorf("okx kline: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) < 6 {
		return models.Candle{}, false, fmt.Errorf("okx kline: short row")
	}
	row := rows[0]

	closed := len(row) > 8 && row[8] == "1"
	token := strings.TrimPrefix(env.Arg.Channel, "candle")
	ts := parseInt64(row[0])
	return models.Candle{
		Exchange:  exchange,
		Symbol:    symbol,
		Interval:  intervals.FromVendor(token),
		Timestamp: ts,
		Open:      parseFloat(row[1]),
		High:      parseFloat(row[2]),
		Low:       parseFloat(row[3]),
		Close:     parseFloat(row[4]),
		Volume:    parseFloat(row[5]),
		IsClosed:  closed,
		Source: models.Source{
			NativeSymbol:      env.Arg.InstID,
			ExchangeTimestamp: ts,
		},
	}, true, nil
}

func toLevels(raw [][]string) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		levels = append(levels, models.PriceLevel{Price: l[0], Quantity: l[1]})
	}
	return levels
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
