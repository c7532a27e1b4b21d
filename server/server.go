// Package server exposes the coordinator's read queries over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"coinstream/config"
	"coinstream/coordinator"
	"coinstream/internal/stream"
	"coinstream/logger"
)

// Server hosts the Gin-powered market data API.
type Server struct {
	cfg        config.ServerConfig
	coord      *coordinator.Coordinator
	bus        *stream.Bus
	log        *logger.Entry
	httpServer *http.Server
}

// NewServer constructs the API server when the feature is enabled. When the
// server is disabled the returned server is nil.
func NewServer(cfg config.ServerConfig, coord *coordinator.Coordinator, bus *stream.Bus) *Server {
	if !cfg.Enabled {
		return nil
	}
	cfg.Address = normalizeAddress(cfg.Address)
	return &Server{
		cfg:   cfg,
		coord: coord,
		bus:   bus,
		log:   logger.GetLogger().WithComponent("api_server"),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.buildRouter(),
	}

	s.log.WithField("address", s.cfg.Address).Info("api server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)

	api := router.Group("/api/v1")
	{
		api.GET("/ticker", s.handleTicker)
		api.GET("/tickers", s.handleTickers)
		api.GET("/klines", s.handleKlines)
		api.GET("/status", s.handleStatus)
	}
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleTicker serves the latest ticker of one exchange and symbol.
func (s *Server) handleTicker(c *gin.Context) {
	exchangeID := c.Query("exchange")
	symbol := c.Query("symbol")
	if exchangeID == "" || symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange and symbol are required"})
		return
	}

	ticker, err := s.coord.LatestTicker(exchangeID, symbol)
	if errors.Is(err, coordinator.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no ticker received yet"})
		return
	}
	c.JSON(http.StatusOK, ticker)
}

// handleTickers serves the latest ticker of every exchange tracking the
// symbol.
func (s *Server) handleTickers(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":  symbol,
		"tickers": s.coord.AllExchangeTickers(symbol),
	})
}

// handleKlines serves historical candles through the cache-aside path.
func (s *Server) handleKlines(c *gin.Context) {
	exchangeID := c.Query("exchange")
	symbol := c.Query("symbol")
	interval := c.DefaultQuery("interval", "1h")
	if exchangeID == "" || symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange and symbol are required"})
		return
	}
	if !config.IsCanonicalInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown interval '" + interval + "'"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	candles, err := s.coord.KlineHistory(c.Request.Context(), exchangeID, symbol, interval, limit)
	if errors.Is(err, coordinator.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exchange": exchangeID,
		"symbol":   symbol,
		"interval": interval,
		"candles":  candles,
	})
}

// handleStatus serves per-pair connectivity and channel statistics.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections": s.coord.ConnectionStatus(),
		"channels":    s.bus.GetStats(),
	})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ":8080"
	}
	if !strings.Contains(addr, ":") {
		return net.JoinHostPort("", addr)
	}
	return addr
}
