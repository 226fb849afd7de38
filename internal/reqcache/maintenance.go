package reqcache

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// expiryLoop periodically drops expired entries so keys that are written
// once and never read again do not pile up.
func (c *Cache[T]) expiryLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			removed := c.deleteExpiredLocked(c.now())
			c.mu.Unlock()
			if removed > 0 {
				log.WithField("removed", removed).Debug("swept expired cache entries")
			}
		}
	}
}
