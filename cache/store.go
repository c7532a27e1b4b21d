// Package cache provides the key/value store used for kline history
// caching and latest-candle publication. The store is advisory: callers
// treat every failure as a miss and fall back to the upstream source, so a
// cache outage degrades latency but never correctness.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is a minimal expiring key/value interface.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}
