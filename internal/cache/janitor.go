package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartJanitor purges expired entries from c every interval until ctx is
// cancelled. The returned channel is closed when the janitor exits.
// A non-positive interval starts nothing and returns a closed channel.
func StartJanitor(ctx context.Context, c Cache, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := c.Purge(ctx)
				if err != nil {
					zap.L().Warn("cache: purge failed", zap.Error(err))
					continue
				}
				if n > 0 {
					zap.L().Debug("cache: purged expired entries", zap.Int("removed", n))
				}
			}
		}
	}()
	return done
}
