package binance

import (
	"encoding/json"
	"fmt"
	"strconv"

	"coinstream/config"
	"coinstream/models"
)

// tickerEvent is the 24hr ticker websocket payload.
type tickerEvent struct {
	EventTime     int64  `json:"E"`
	NativeSymbol  string `json:"s"`
	LastPrice     string `json:"c"`
	PriceChange   string `json:"p"`
	ChangePercent string `json:"P"`
	Volume        string `json:"v"`
	High          string `json:"h"`
	Low           string `json:"l"`
}

// depthEvent covers both the partial depth snapshot shape (bids/asks with
// lastUpdateId) and the diff shape (b/a with u), so either frame form
// normalizes without a second decode.
type depthEvent struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	UpdateID     int64       `json:"u"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
	B            [][2]string `json:"b"`
	A            [][2]string `json:"a"`
}

type klineEvent struct {
	Stream string       `json:"stream"`
	Data   *klineInner  `json:"data"`
	Kline  *klineDetail `json:"k"`
}

type klineInner struct {
	Kline *klineDetail `json:"k"`
}

type klineDetail struct {
	OpenTime     int64  `json:"t"`
	NativeSymbol string `json:"s"`
	Interval     string `json:"i"`
	Open         string `json:"o"`
	Close        string `json:"c"`
	High         string `json:"h"`
	Low          string `json:"l"`
	Volume       string `json:"v"`
	Closed       bool   `json:"x"`
}

func normalizeTicker(raw []byte, exchange, symbol string) (models.Ticker, error) {
	var ev tickerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return models.Ticker{}, fmt.Errorf("binance ticker: %w", err)
	}
	if ev.LastPrice == "" {
		return models.Ticker{}, fmt.Errorf("binance ticker: missing last price")
	}
	return models.Ticker{
		Exchange:           exchange,
		Symbol:             symbol,
		Price:              parseFloat(ev.LastPrice),
		PriceChange:        parseFloat(ev.PriceChange),
		PriceChangePercent: parseFloat(ev.ChangePercent),
		Volume:             parseFloat(ev.Volume),
		High24h:            parseFloat(ev.High),
		Low24h:             parseFloat(ev.Low),
		Timestamp:          ev.EventTime,
		Source: models.Source{
			NativeSymbol:      ev.NativeSymbol,
			ExchangeTimestamp: ev.EventTime,
		},
	}, nil
}

func normalizeOrderBook(raw []byte, exchange, symbol, native string) (models.OrderBookSnapshot, error) {
	var ev depthEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return models.OrderBookSnapshot{}, fmt.Errorf("binance orderbook: %w", err)
	}
	bids, asks := ev.Bids, ev.Asks
	updateID := ev.LastUpdateID
	if len(bids) == 0 && len(asks) == 0 {
		bids, asks = ev.B, ev.A
		updateID = ev.UpdateID
	}
	if len(bids) == 0 && len(asks) == 0 {
		return models.OrderBookSnapshot{}, fmt.Errorf("binance orderbook: empty frame")
	}
	now := nowMillis()
	return models.OrderBookSnapshot{
		Exchange:  exchange,
		Symbol:    symbol,
		Bids:      toLevels(bids),
		Asks:      toLevels(asks),
		Timestamp: now,
		Source: models.Source{
			NativeSymbol:      native,
			ExchangeTimestamp: now,
			UpdateID:          updateID,
		},
	}, nil
}

func normalizeKline(raw []byte, exchange, symbol string, intervals config.IntervalMapping) (models.Candle, error) {
	var ev klineEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return models.Candle{}, fmt.Errorf("binance kline: %w", err)
	}
	k := ev.Kline
	if k == nil && ev.Data != nil {
		// Combined-stream frames wrap the event under "data".
		k = ev.Data.Kline
	}
	if k == nil {
		return models.Candle{}, fmt.Errorf("binance kline: no kline payload")
	}
	return models.Candle{
		Exchange:  exchange,
		Symbol:    symbol,
		Interval:  intervals.FromVendor(k.Interval),
		Timestamp: k.OpenTime,
		Open:      parseFloat(k.Open),
		High:      parseFloat(k.High),
		Low:       parseFloat(k.Low),
		Close:     parseFloat(k.Close),
		Volume:    parseFloat(k.Volume),
		IsClosed:  k.Closed,
		Source: models.Source{
			NativeSymbol:      k.NativeSymbol,
			ExchangeTimestamp: k.OpenTime,
		},
	}, nil
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
