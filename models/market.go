package models

// Source carries the vendor-native identifiers and timestamps of the raw
// event a record was normalized from. It exists for auditability and
// debugging only; business logic must never branch on it.
type Source struct {
	NativeSymbol      string `json:"nativeSymbol"`
	ExchangeTimestamp int64  `json:"exchangeTimestamp"`
	UpdateID          int64  `json:"updateId,omitempty"`
}

// Ticker is the canonical 24h ticker record. Instances are replaced
// wholesale on every update, never merged.
type Ticker struct {
	Exchange           string  `json:"exchange"`
	Symbol             string  `json:"symbol"`
	Price              float64 `json:"price"`
	PriceChange        float64 `json:"priceChange"`
	PriceChangePercent float64 `json:"priceChangePercent"`
	Volume             float64 `json:"volume"`
	High24h            float64 `json:"high24h,omitempty"`
	Low24h             float64 `json:"low24h,omitempty"`
	Timestamp          int64   `json:"timestamp"`
	Source             Source  `json:"source"`
}

// PriceLevel is a single order book level. Price and quantity are kept as
// the exchange-supplied strings so no precision is lost in transit.
type PriceLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// OrderBookSnapshot is a full order book snapshot, never a diff. Ordering
// is exchange-supplied: asks ascending by price, bids descending. The
// UpdateID in Source is carried through but not validated for gaps.
type OrderBookSnapshot struct {
	Exchange  string       `json:"exchange"`
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
	Source    Source       `json:"source"`
}

// Candle is a canonical OHLCV candlestick. IsClosed distinguishes a still
// forming candle (false) from a completed period (true); consumers must not
// treat an open candle as final.
type Candle struct {
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	IsClosed  bool    `json:"isClosed"`
	Source    Source  `json:"source"`
}
