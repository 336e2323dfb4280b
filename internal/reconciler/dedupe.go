package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duespark/collector-api/pkg/logger"
)

// callbackTTL bounds how long a (provider ref, status) pair is remembered.
// Providers replay webhooks for at most a day.
const callbackTTL = 24 * time.Hour

// Deduper short-circuits replayed delivery callbacks with a redis SETNX.
// Reconciliation is idempotent at the database level anyway, so the deduper
// fails open when redis is unreachable.
type Deduper struct {
	rdb    *redis.Client
	logger *logger.Logger
}

func NewDeduper(rdb *redis.Client, logger *logger.Logger) *Deduper {
	return &Deduper{rdb: rdb, logger: logger}
}

// Seen records the callback and reports whether it was already observed.
func (d *Deduper) Seen(ctx context.Context, providerRef, status string) bool {
	key := fmt.Sprintf("callback:%s:%s", providerRef, status)
	ok, err := d.rdb.SetNX(ctx, key, 1, callbackTTL).Result()
	if err != nil {
		d.logger.Warn("callback dedupe unavailable, processing anyway", "error", err.Error())
		return false
	}
	return !ok
}
