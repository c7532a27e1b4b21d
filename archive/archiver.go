// Package archive persists closed candles to S3 as parquet files for
// offline analysis. The archiver plugs into the broadcast fan-out as a
// sink: it ignores tickers and order books, buffers closed candles per
// exchange/symbol/interval and flushes on batch size or interval.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"coinstream/config"
	"coinstream/logger"
	"coinstream/models"
)

type uploadFunc func(ctx context.Context, key string, data []byte) error

type Archiver struct {
	cfg    config.ArchiveConfig
	log    *logger.Entry
	upload uploadFunc

	mu      sync.Mutex
	buffers map[string][]models.Candle
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewArchiver builds the archiver and its S3 client. Returns nil when the
// feature is disabled.
func NewArchiver(cfg config.ArchiveConfig) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	a := newArchiver(cfg)
	a.upload = func(ctx context.Context, key string, data []byte) error {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/octet-stream"),
		})
		return err
	}
	return a, nil
}

func newArchiver(cfg config.ArchiveConfig) *Archiver {
	return &Archiver{
		cfg:     cfg,
		log:     logger.GetLogger().WithComponent("candle_archiver"),
		buffers: make(map[string][]models.Candle),
	}
}

// Start launches the periodic flush worker. Calling Start on a running
// archiver is a no-op.
func (a *Archiver) Start(ctx context.Context) {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.wg.Add(1)
	go a.flushWorker()
	a.log.WithFields(logger.Fields{
		"bucket":         a.cfg.Bucket,
		"batch_size":     a.cfg.BatchSize,
		"flush_interval": a.cfg.FlushInterval.String(),
	}).Info("candle archiver started")
}

// Stop flushes the remaining buffers and waits for the worker to exit.
func (a *Archiver) Stop() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.wg.Wait()
	a.flushAll(context.Background())
	a.log.Info("candle archiver stopped")
}

func (a *Archiver) flushWorker() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.flushAll(a.ctx)
		}
	}
}

// PublishCandle buffers a closed candle, flushing its batch once it reaches
// the configured size. Open candles are skipped.
func (a *Archiver) PublishCandle(ctx context.Context, c models.Candle) {
	if a == nil || !c.IsClosed {
		return
	}
	key := batchKey(c)
	a.mu.Lock()
	a.buffers[key] = append(a.buffers[key], c)
	full := len(a.buffers[key]) >= a.cfg.BatchSize
	var batch []models.Candle
	if full {
		batch = a.buffers[key]
		delete(a.buffers, key)
	}
	a.mu.Unlock()

	if full {
		a.flushBatch(ctx, key, batch)
	}
}

// PublishTicker is a no-op; the archiver only persists candles.
func (a *Archiver) PublishTicker(ctx context.Context, t models.Ticker) {}

// PublishBook is a no-op; the archiver only persists candles.
func (a *Archiver) PublishBook(ctx context.Context, ob models.OrderBookSnapshot) {}

func (a *Archiver) Close() error {
	a.Stop()
	return nil
}

func (a *Archiver) flushAll(ctx context.Context) {
	a.mu.Lock()
	pending := a.buffers
	a.buffers = make(map[string][]models.Candle)
	a.mu.Unlock()

	for key, batch := range pending {
		a.flushBatch(ctx, key, batch)
	}
}

func (a *Archiver) flushBatch(ctx context.Context, key string, batch []models.Candle) {
	if len(batch) == 0 {
		return
	}
	log := a.log.WithFields(logger.Fields{
		"batch":   key,
		"candles": len(batch),
	})

	data, err := buildParquetFile(batch)
	if err != nil {
		log.WithError(err).Error("failed to build parquet file")
		return
	}
	objectKey := a.objectKey(batch[0])
	if err := a.upload(ctx, objectKey, data); err != nil {
		log.WithError(err).WithField("key", objectKey).Error("failed to upload parquet file")
		return
	}
	log.WithFields(logger.Fields{
		"key":  objectKey,
		"size": len(data),
	}).Info("candle batch archived")
}

// objectKey lays batches out by exchange/symbol/interval/date with a unique
// file name so concurrent flushes never collide.
func (a *Archiver) objectKey(c models.Candle) string {
	day := time.UnixMilli(c.Timestamp).UTC().Format("2006-01-02")
	symbol := strings.ReplaceAll(c.Symbol, "/", "-")
	parts := []string{c.Exchange, symbol, c.Interval, day,
		fmt.Sprintf("candles_%s.parquet", uuid.New().String())}
	if a.cfg.Prefix != "" {
		parts = append([]string{strings.Trim(a.cfg.Prefix, "/")}, parts...)
	}
	return strings.Join(parts, "/")
}

func batchKey(c models.Candle) string {
	return fmt.Sprintf("%s|%s|%s", c.Exchange, c.Symbol, c.Interval)
}
