// Package binance implements the Binance spot websocket and REST
// integration. Binance encodes the symbol and stream in the URL path and
// needs no subscribe message and no application-level keepalive. A single
// kline socket cannot gain streams after connect: adding an interval means
// tearing the socket down and reopening it with a combined-stream URL that
// lists every subscribed interval.
package binance

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"coinstream/config"
	"coinstream/exchange/wsconn"
	"coinstream/internal/stream"
	"coinstream/logger"
)

type Adapter struct {
	cfg        *config.ExchangeConfig
	bus        *stream.Bus
	log        *logger.Log
	httpClient *http.Client
	limiter    *rate.Limiter

	ticker *wsconn.StreamConn
	book   *wsconn.StreamConn
	kline  *wsconn.StreamConn

	mu             sync.Mutex
	klineIntervals map[string]bool
	klineNative    string
	klineSymbol    string
}

func New(cfg *config.ExchangeConfig, bus *stream.Bus) *Adapter {
	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &Adapter{
		cfg:            cfg,
		bus:            bus,
		log:            logger.GetLogger(),
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		limiter:        rate.NewLimiter(rate.Limit(rps), rps),
		ticker:         wsconn.New(),
		book:           wsconn.New(),
		kline:          wsconn.New(),
		klineIntervals: make(map[string]bool),
	}
}

func (a *Adapter) ConnectTicker(native, symbol string) {
	go a.dialTicker(native, symbol)
}

func (a *Adapter) dialTicker(native, symbol string) {
	if !a.ticker.BeginConnect() {
		return
	}
	log := a.log.WithComponent("binance_adapter").WithFields(logger.Fields{
		"symbol": symbol,
		"stream": "ticker",
	})

	url := fmt.Sprintf("%s/%s@ticker", a.cfg.WSEndpoint, native)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.WithError(err).Warn("failed to connect ticker stream")
		a.ticker.Fail()
		a.ticker.ScheduleReconnect(a.cfg.Reconnect, log, func() { a.dialTicker(native, symbol) })
		return
	}
	if !a.ticker.Adopt(conn) {
		conn.Close()
		return
	}
	log.Info("ticker stream connected")

	go a.readTicker(conn, native, symbol, log)
}

func (a *Adapter) readTicker(conn *websocket.Conn, native, symbol string, log *logger.Entry) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if a.ticker.Retire(conn) {
				log.WithError(err).Warn("ticker stream closed")
				a.ticker.ScheduleReconnect(a.cfg.Reconnect, log, func() { a.dialTicker(native, symbol) })
			}
			return
		}
		tk, err := normalizeTicker(msg, a.cfg.ID, symbol)
		if err != nil {
			log.WithError(err).Debug("dropping unparsable ticker frame")
			a.bus.SendError(err)
			continue
		}
		a.bus.SendTicker(tk)
	}
}

func (a *Adapter) ConnectOrderBook(native, symbol string, depth int) {
	if depth <= 0 {
		depth = 10
	}
	go a.dialBook(native, symbol, depth)
}

func (a *Adapter) dialBook(native, symbol string, depth int) {
	if !a.book.BeginConnect() {
		return
	}
	log := a.log.WithComponent("binance_adapter").WithFields(logger.Fields{
		"symbol": symbol,
		"stream": "orderbook",
	})

	url := fmt.Sprintf("%s/%s@depth%d@100ms", a.cfg.WSEndpoint, native, depth)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.WithError(err).Warn("failed to connect orderbook stream")
		a.book.Fail()
		a.book.ScheduleReconnect(a.cfg.Reconnect, log, func() { a.dialBook(native, symbol, depth) })
		return
	}
	if !a.book.Adopt(conn) {
		conn.Close()
		return
	}
	log.Info("orderbook stream connected")

	go a.readBook(conn, native, symbol, depth, log)
}

func (a *Adapter) readBook(conn *websocket.Conn, native, symbol string, depth int, log *logger.Entry) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if a.book.Retire(conn) {
				log.WithError(err).Warn("orderbook stream closed")
				a.book.ScheduleReconnect(a.cfg.Reconnect, log, func() { a.dialBook(native, symbol, depth) })
			}
			return
		}
		ob, err := normalizeOrderBook(msg, a.cfg.ID, symbol, native)
		if err != nil {
			log.WithError(err).Debug("dropping unparsable orderbook frame")
			a.bus.SendError(err)
			continue
		}
		a.bus.SendBook(ob)
	}
}

func (a *Adapter) ConnectKline(native, symbol, interval string) {
	log := a.log.WithComponent("binance_adapter").WithFields(logger.Fields{
		"symbol":   symbol,
		"stream":   "kline",
		"interval": interval,
	})

	a.mu.Lock()
	if a.klineNative == "" {
		a.klineNative = native
		a.klineSymbol = symbol
	}
	already := a.klineIntervals[interval]
	a.klineIntervals[interval] = true
	a.mu.Unlock()

	if already {
		log.Debug("kline interval already subscribed")
		return
	}

	// The vendor cannot add streams to a live socket; drop it and let the
	// dial rebuild one combined-stream URL covering every interval.
	if old := a.kline.DropConn(); old != nil {
		log.Info("rebuilding kline socket for additional interval")
		old.Close()
	}

	go a.dialKline()
}

func (a *Adapter) dialKline() {
	if !a.kline.BeginConnect() {
		return
	}

	a.mu.Lock()
	native, symbol := a.klineNative, a.klineSymbol
	intervals := make([]string, 0, len(a.klineIntervals))
	for iv := range a.klineIntervals {
		intervals = append(intervals, iv)
	}
	a.mu.Unlock()
	sort.Strings(intervals)

	log := a.log.WithComponent("binance_adapter").WithFields(logger.Fields{
		"symbol":    symbol,
		"stream":    "kline",
		"intervals": intervals,
	})

	if len(intervals) == 0 {
		a.kline.Fail()
		return
	}

	url := a.klineURL(native, intervals)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.WithError(err).Warn("failed to connect kline stream")
		a.kline.Fail()
		a.kline.ScheduleReconnect(a.cfg.Reconnect, log, a.dialKline)
		return
	}
	if !a.kline.Adopt(conn) {
		conn.Close()
		return
	}

	// An interval registered while this dial was in flight is missing
	// from the URL just dialed; drop the socket and rebuild with the
	// full set.
	if a.klineSetStale(intervals) {
		log.Info("kline intervals changed during dial, rebuilding socket")
		if old := a.kline.DropConn(); old != nil {
			old.Close()
		}
		go a.dialKline()
		return
	}
	log.Info("kline stream connected")

	go a.readKline(conn, symbol, log)
}

// klineSetStale reports whether intervals were added after the given dial
// snapshot was taken. The set only ever grows.
func (a *Adapter) klineSetStale(snapshot []string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.klineIntervals) != len(snapshot)
}

// klineURL builds a bare single-stream URL for one interval and a
// combined-stream URL once more than one interval is subscribed.
func (a *Adapter) klineURL(native string, intervals []string) string {
	if len(intervals) == 1 {
		return fmt.Sprintf("%s/%s@kline_%s", a.cfg.WSEndpoint, native, a.cfg.Intervals.ToVendor(intervals[0]))
	}
	streams := make([]string, 0, len(intervals))
	for _, iv := range intervals {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", native, a.cfg.Intervals.ToVendor(iv)))
	}
	base := strings.TrimSuffix(a.cfg.WSEndpoint, "/ws")
	return fmt.Sprintf("%s/stream?streams=%s", base, strings.Join(streams, "/"))
}

func (a *Adapter) readKline(conn *websocket.Conn, symbol string, log *logger.Entry) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if a.kline.Retire(conn) {
				log.WithError(err).Warn("kline stream closed")
				a.kline.ScheduleReconnect(a.cfg.Reconnect, log, a.dialKline)
			}
			return
		}
		candle, err := normalizeKline(msg, a.cfg.ID, symbol, a.cfg.Intervals)
		if err != nil {
			log.WithError(err).Debug("dropping unparsable kline frame")
			a.bus.SendError(err)
			continue
		}
		a.bus.SendCandle(candle)
	}
}

func (a *Adapter) Disconnect() {
	a.ticker.Shutdown()
	a.book.Shutdown()
	a.kline.Shutdown()
	a.log.WithComponent("binance_adapter").Info("disconnected")
}

func (a *Adapter) Connected() bool {
	return a.ticker.Connected()
}
