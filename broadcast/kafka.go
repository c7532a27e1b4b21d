package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"coinstream/config"
	"coinstream/logger"
	"coinstream/models"
)

// envelope wraps every published record with a unique id and a type tag so
// consumers on a shared topic can route without sniffing the payload.
type envelope struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// KafkaSink publishes records to one topic per record kind. Messages are
// keyed by "exchange:symbol" so a partition preserves per-pair ordering.
type KafkaSink struct {
	tickers *kafka.Writer
	books   *kafka.Writer
	candles *kafka.Writer
	log     *logger.Entry
}

func NewKafkaSink(cfg config.BroadcastConfig) *KafkaSink {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		}
	}
	return &KafkaSink{
		tickers: newWriter(cfg.Topics.Ticker),
		books:   newWriter(cfg.Topics.OrderBook),
		candles: newWriter(cfg.Topics.Kline),
		log:     logger.GetLogger().WithComponent("kafka_sink"),
	}
}

func (s *KafkaSink) PublishTicker(ctx context.Context, t models.Ticker) {
	s.publish(ctx, s.tickers, "ticker", t.Exchange, t.Symbol, t)
}

func (s *KafkaSink) PublishBook(ctx context.Context, ob models.OrderBookSnapshot) {
	s.publish(ctx, s.books, "orderbook", ob.Exchange, ob.Symbol, ob)
}

func (s *KafkaSink) PublishCandle(ctx context.Context, c models.Candle) {
	s.publish(ctx, s.candles, "kline", c.Exchange, c.Symbol, c)
}

func (s *KafkaSink) publish(ctx context.Context, w *kafka.Writer, kind, exchange, symbol string, data interface{}) {
	payload, err := json.Marshal(envelope{
		ID:        uuid.New().String(),
		Type:      kind,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	})
	if err != nil {
		s.log.WithError(err).WithField("type", kind).Error("failed to marshal broadcast envelope")
		return
	}
	msg := kafka.Message{
		Key:   []byte(exchange + ":" + symbol),
		Value: payload,
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		s.log.WithError(err).WithFields(logger.Fields{
			"type":  kind,
			"topic": w.Topic,
		}).Warn("failed to publish message")
	}
}

func (s *KafkaSink) Close() error {
	var firstErr error
	for _, w := range []*kafka.Writer{s.tickers, s.books, s.candles} {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
