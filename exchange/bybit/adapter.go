// Package bybit implements the Bybit v5 spot websocket and REST
// integration. One public spot endpoint serves every topic; streams are
// selected with JSON subscribe messages and each socket must be kept alive
// with an application-level {"op":"ping"} every 20 seconds. Unlike Binance,
// kline intervals can be added to a live socket with a further subscribe.
package bybit

import (
	"fmt"
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

const pingInterval = 20 * time.Second

type subscribeMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
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
	log := a.log.WithComponent("bybit_adapter").WithFields(logger.Fields{
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
	if err := a.ticker.WriteJSON(subscribeMsg{Op: "subscribe", Args: []string{"tickers." + native}}); err != nil {
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
		tk, ok, err := normalizeTicker(msg, a.cfg.ID, symbol)
		if err != nil {
			log.WithError(err).Debug("dropping unparsable ticker frame")
			a.bus.SendError(err)
			continue
		}
		if !ok {
			// Subscription acks and pong replies carry no topic.
			continue
		}
		a.bus.SendTicker(tk)
	}
}

func (a *Adapter) ConnectOrderBook(native, symbol string, depth int) {
	if depth <= 0 {
		depth = 50
	}
	go a.dialBook(native, symbol, depth)
}

func (a *Adapter) dialBook(native, symbol string, depth int) {
	if !a.book.BeginConnect() {
		return
	}
	log := a.log.WithComponent("bybit_adapter").WithFields(logger.Fields{
		"symbol": symbol,
		"stream": "orderbook",
	})

	conn, _, err := websocket.DefaultDialer.Dial(a.cfg.WSEndpoint, nil)
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
	topic := fmt.Sprintf("orderbook.%d.%s", depth, native)
	if err := a.book.WriteJSON(subscribeMsg{Op: "subscribe", Args: []string{topic}}); err != nil {
		log.WithError(err).Warn("orderbook subscribe failed")
	}
	log.Info("orderbook stream connected")

	go a.keepalive(a.book, conn)
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
	log := a.log.WithComponent("bybit_adapter").WithFields(logger.Fields{
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
		// The vendor accepts further subscriptions on the live socket.
		topic := fmt.Sprintf("kline.%s.%s", a.cfg.Intervals.ToVendor(interval), native)
		if err := a.kline.WriteJSON(subscribeMsg{Op: "subscribe", Args: []string{topic}}); err != nil {
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

	log := a.log.WithComponent("bybit_adapter").WithFields(logger.Fields{
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
	args := make([]string, 0, len(intervals))
	for _, iv := range intervals {
		args = append(args, fmt.Sprintf("kline.%s.%s", a.cfg.Intervals.ToVendor(iv), native))
	}
	if err := a.kline.WriteJSON(subscribeMsg{Op: "subscribe", Args: args}); err != nil {
		log.WithError(err).Warn("kline subscribe failed")
	}

	// Intervals registered while this dial was in flight are not in the
	// snapshot above; subscribe them on the fresh socket.
	if delta := a.klineDelta(intervals); len(delta) > 0 {
		deltaArgs := make([]string, 0, len(delta))
		for _, iv := range delta {
			deltaArgs = append(deltaArgs, fmt.Sprintf("kline.%s.%s", a.cfg.Intervals.ToVendor(iv), native))
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

// keepalive pings the socket every 20s until conn is no longer the active
// connection of sc.
func (a *Adapter) keepalive(sc *wsconn.StreamConn, conn *websocket.Conn) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for range t.C {
		if sc.Conn() != conn {
			return
		}
		if err := sc.WriteJSON(map[string]string{"op": "ping"}); err != nil {
			return
		}
	}
}

func (a *Adapter) Disconnect() {
	a.ticker.Shutdown()
	a.book.Shutdown()
	a.kline.Shutdown()
	a.log.WithComponent("bybit_adapter").Info("disconnected")
}

func (a *Adapter) Connected() bool {
	return a.ticker.Connected()
}
