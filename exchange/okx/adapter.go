// Package okx implements the OKX v5 public websocket and REST integration.
// Subscriptions are JSON messages with {channel, instId} argument objects
// and the socket is kept alive with a literal "ping" text frame every 15
// seconds, answered by a literal "pong". Candle channels are named
// candle{token} and can be added to a live socket.
package okx

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"coinstream/config"
	"coinstream/exchange/wsconn"
	"coinstream/internal/stream"
	"coinstream/logger"
)

const pingInterval = 15 * time.Second

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subscribeMsg struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

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
	log := a.log.WithComponent("okx_adapter").WithFields(logger.Fields{
		"symbol": symbol,
		"stream": "ticker",
	})

	conn, _, err := websocket.DefaultDialer.Dial(a.cfg.WSEndpoint, nil)
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
	sub := subscribeMsg{Op: "subscribe", Args: []subscribeArg{{Channel: "tickers", InstID: native}}}
	if err := a.ticker.WriteJSON(sub); err != nil {
		log.WithError(err).Warn("ticker subscribe failed")
	}
	log.Info("ticker stream connected")

	go a.keepalive(a.ticker, conn)
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
		if isPong(msg) {
			continue
		}
		tk, ok, err := normalizeTicker(msg, a.cfg.ID, symbol)
		if err != nil {
			log.WithError(err).Debug("dropping unparsable ticker frame")
			a.bus.SendError(err)
			continue
		}
		if !ok {
			continue
		}
		a.bus.SendTicker(tk)
	}
}

func (a *Adapter) ConnectOrderBook(native, symbol string, depth int) {
	go a.dialBook(native, symbol)
}

func (a *Adapter) dialBook(native, symbol string) {
	if !a.book.BeginConnect() {
		return
	}
	log := a.log.WithComponent("okx_adapter").WithFields(logger.Fields{
		"symbol": symbol,
		"stream": "orderbook",
	})

	conn, _, err := websocket.DefaultDialer.Dial(a.cfg.WSEndpoint, nil)
	if err != nil {
		log.WithError(err).Warn("failed to connect orderbook stream")
		a.book.Fail()
		a.book.ScheduleReconnect(a.cfg.Reconnect, log, func() { a.dialBook(native, symbol) })
		return
	}
	if !a.book.Adopt(conn) {
		conn.Close()
		return
	}
	// books5 serves full 5-level snapshots on every update, which matches
	// the snapshot-replace model downstream.
	sub := subscribeMsg{Op: "subscribe", Args: []subscribeArg{{Channel: "books5", InstID: native}}}
	if err := a.book.WriteJSON(sub); err != nil {
		log.WithError(err).Warn("orderbook subscribe failed")
	}
	log.Info("orderbook stream connected")

	go a.keepalive(a.book, conn)
	go a.readBook(conn, native, symbol, log)
}

func (a *Adapter) readBook(conn *websocket.Conn, native, symbol string, log *logger.Entry) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if a.book.Retire(conn) {
				log.WithError(err).Warn("orderbook stream closed")
				a.book.ScheduleReconnect(a.cfg.Reconnect, log, func() { a.dialBook(native, symbol) })
			}
			return
		}
		if isPong(msg) {
			continue
		}
		ob, ok, err := normalizeOrderBook(msg, a.cfg.ID, symbol)
		if err != nil {
			log.WithError(err).Debug("dropping unparsable orderbook frame")
			a.bus.SendError(err)
			continue
		}
		if !ok {
			continue
		}
		a.bus.SendBook(ob)
	}
}

func (a *Adapter) ConnectKline(native, symbol, interval string) {
	log := a.log.WithComponent("okx_adapter").WithFields(logger.Fields{
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

	if a.kline.Connected() {
		sub := subscribeMsg{Op: "subscribe", Args: []subscribeArg{
			{Channel: "candle" + a.cfg.Intervals.ToVendor(interval), InstID: native},
		}}
		if err := a.kline.WriteJSON(sub); err != nil {
			log.WithError(err).Warn("kline subscribe failed")
		}
		return
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

	log := a.log.WithComponent("okx_adapter").WithFields(logger.Fields{
		"symbol":    symbol,
		"stream":    "kline",
		"intervals": intervals,
	})

	if len(intervals) == 0 {
		a.kline.Fail()
		return
	}

	conn, _, err := websocket.DefaultDialer.Dial(a.cfg.WSEndpoint, nil)
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
	args := make([]subscribeArg, 0, len(intervals))
	for _, iv := range intervals {
		args = append(args, subscribeArg{Channel: "candle" + a.cfg.Intervals.ToVendor(iv), InstID: native})
	}
	if err := a.kline.WriteJSON(subscribeMsg{Op: "subscribe", Args: args}); err != nil {
		log.WithError(err).Warn("kline subscribe failed")
	}

	// Intervals registered while this dial was in flight are not in the
	// snapshot above; subscribe them on the fresh socket.
	if delta := a.klineDelta(intervals); len(delta) > 0 {
		deltaArgs := make([]subscribeArg, 0, len(delta))
		for _, iv := range delta {
			deltaArgs = append(deltaArgs, subscribeArg{Channel: "candle" + a.cfg.Intervals.ToVendor(iv), InstID: native})
		}
		log.WithField("intervals", delta).Info("subscribing intervals added during dial")
		if err := a.kline.WriteJSON(subscribeMsg{Op: "subscribe", Args: deltaArgs}); err != nil {
			log.WithError(err).Warn("kline subscribe failed")
		}
	}
	log.Info("kline stream connected")

	go a.keepalive(a.kline, conn)
	go a.readKline(conn, symbol, log)
}

// klineDelta returns the intervals registered after the given dial
// snapshot was taken, in stable order.
func (a *Adapter) klineDelta(snapshot []string) []string {
	seen := make(map[string]bool, len(snapshot))
	for _, iv := range snapshot {
		seen[iv] = true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var missing []string
	for iv := range a.klineIntervals {
		if !seen[iv] {
			missing = append(missing, iv)
		}
	}
	sort.Strings(missing)
	return missing
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
		if isPong(msg) {
			continue
		}
		candle, ok, err := normalizeKline(msg, a.cfg.ID, symbol, a.cfg.Intervals)
		if err != nil {
			log.WithError(err).Debug("dropping unparsable kline frame")
			a.bus.SendError(err)
			continue
		}
		if !ok {
			continue
		}
		a.bus.SendCandle(candle)
	}
}

// keepalive writes a bare "ping" text frame every 15s until conn is no
// longer the active connection of sc.
func (a *Adapter) keepalive(sc *wsconn.StreamConn, conn *websocket.Conn) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for range t.C {
		if sc.Conn() != conn {
			return
		}
		if err := sc.WriteText("ping"); err != nil {
			return
		}
	}
}

func isPong(msg []byte) bool {
	return string(msg) == "pong"
}

func (a *Adapter) Disconnect() {
	a.ticker.Shutdown()
	a.book.Shutdown()
	a.kline.Shutdown()
	a.log.WithComponent("okx_adapter").Info("disconnected")
}

func (a *Adapter) Connected() bool {
	return a.ticker.Connected()
}
