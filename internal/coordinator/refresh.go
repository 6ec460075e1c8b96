package coordinator

import (
	"context"
	"time"
)

// StartRefreshWorker runs a goroutine that posts SyncIfNecessary onto the
// executor every interval until ctx is cancelled.
func (c *Coordinator) StartRefreshWorker(ctx context.Context, interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		c.logger.Info("[SYNC] Refresh worker started", "interval", interval, "staleness", c.staleness)

		for {
			select {
			case <-ticker.C:
				c.exec.Post(func() { c.SyncIfNecessary() })
			case <-ctx.Done():
				c.logger.Info("[SYNC] Refresh worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
