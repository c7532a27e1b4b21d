package stream

import (
	"sync"

	"coinstream/logger"
	"coinstream/models"
)

// Stats counts events accepted into and dropped from the bus.
type Stats struct {
	TickersSent    int64
	TickersDropped int64
	BooksSent      int64
	BooksDropped   int64
	CandlesSent    int64
	CandlesDropped int64
	ErrorsSent     int64
	ErrorsDropped  int64
}

// Bus carries normalized market events from the vendor adapters to the
// coordinator. Sends never block: a full channel drops the event and
// increments a counter, because a slow consumer must not stall a read loop.
type Bus struct {
	Tickers chan models.Ticker
	Books   chan models.OrderBookSnapshot
	Candles chan models.Candle
	Errors  chan error

	stats      Stats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

func NewBus(tickerBuffer, bookBuffer, candleBuffer, errorBuffer int) *Bus {
	log := logger.GetLogger()
	b := &Bus{
		Tickers: make(chan models.Ticker, tickerBuffer),
		Books:   make(chan models.OrderBookSnapshot, bookBuffer),
		Candles: make(chan models.Candle, candleBuffer),
		Errors:  make(chan error, errorBuffer),
		log:     log,
	}

	log.WithComponent("stream_bus").WithFields(logger.Fields{
		"ticker_buffer": tickerBuffer,
		"book_buffer":   bookBuffer,
		"candle_buffer": candleBuffer,
		"error_buffer":  errorBuffer,
	}).Info("stream bus initialized")

	return b
}

func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.Tickers)
		close(b.Books)
		close(b.Candles)
		close(b.Errors)
		b.log.WithComponent("stream_bus").Info("stream bus closed")
	})
}

func (b *Bus) SendTicker(t models.Ticker) bool {
	select {
	case b.Tickers <- t:
		b.bump(func(s *Stats) { s.TickersSent++ })
		return true
	default:
		b.bump(func(s *Stats) { s.TickersDropped++ })
		return false
	}
}

func (b *Bus) SendBook(ob models.OrderBookSnapshot) bool {
	select {
	case b.Books <- ob:
		b.bump(func(s *Stats) { s.BooksSent++ })
		return true
	default:
		b.bump(func(s *Stats) { s.BooksDropped++ })
		return false
	}
}

func (b *Bus) SendCandle(c models.Candle) bool {
	select {
	case b.Candles <- c:
		b.bump(func(s *Stats) { s.CandlesSent++ })
		return true
	default:
		b.bump(func(s *Stats) { s.CandlesDropped++ })
		return false
	}
}

func (b *Bus) SendError(err error) bool {
	if err == nil {
		return false
	}
	select {
	case b.Errors <- err:
		b.bump(func(s *Stats) { s.ErrorsSent++ })
		return true
	default:
		b.bump(func(s *Stats) { s.ErrorsDropped++ })
		return false
	}
}

func (b *Bus) bump(fn func(*Stats)) {
	b.statsMutex.Lock()
	fn(&b.stats)
	b.statsMutex.Unlock()
}

func (b *Bus) GetStats() Stats {
	b.statsMutex.RLock()
	defer b.statsMutex.RUnlock()
	return b.stats
}
