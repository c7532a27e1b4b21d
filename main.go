package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"coinstream/archive"
	"coinstream/broadcast"
	"coinstream/cache"
	"coinstream/config"
	"coinstream/coordinator"
	"coinstream/internal/stream"
	"coinstream/logger"
	"coinstream/server"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Coinstream.Name,
		"version": cfg.Coinstream.Version,
	}).Info("starting coinstream")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := stream.NewBus(
		cfg.Channels.TickerBuffer,
		cfg.Channels.BookBuffer,
		cfg.Channels.CandleBuffer,
		cfg.Channels.ErrorBuffer,
	)
	defer bus.Close()

	var store cache.Store = cache.NewMemoryStore()
	if cfg.Cache.Enabled {
		redisStore := cache.NewRedisStore(cfg.Cache)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisStore.Ping(pingCtx); err != nil {
			log.WithError(err).Warn("redis unreachable, continuing without cache")
		} else {
			store = redisStore
		}
		pingCancel()
	}
	defer store.Close()

	sinks := []broadcast.Sink{}
	if cfg.Broadcast.Enabled {
		sinks = append(sinks, broadcast.NewKafkaSink(cfg.Broadcast))
	}

	archiver, err := archive.NewArchiver(cfg.Archive)
	if err != nil {
		log.WithError(err).Error("Failed to create candle archiver")
		os.Exit(1)
	}
	if archiver != nil {
		archiver.Start(ctx)
		sinks = append(sinks, archiver)
	}

	var sink broadcast.Sink
	switch len(sinks) {
	case 0:
		sink = broadcast.NopSink{}
	case 1:
		sink = sinks[0]
	default:
		sink = broadcast.NewMultiSink(sinks...)
	}

	coord := coordinator.New(cfg, bus, store, sink)
	if err := coord.Start(ctx); err != nil {
		log.WithError(err).Error("Failed to start coordinator")
		os.Exit(1)
	}

	apiServer := server.NewServer(cfg.Server, coord, bus)
	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Run(ctx); err != nil {
			serverErr <- err
		}
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-serverErr:
		log.WithError(err).Error("api server failed")
	}

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		coord.Stop()
		archiver.Stop()
		if err := sink.Close(); err != nil {
			log.WithError(err).Warn("failed to close broadcast sink")
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("coinstream stopped")
}
