package flow

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Invalidate drops every cached response whose key starts with one of the
// prefixes, in-process and in the shared value store. It returns the number
// of in-process entries removed. Shared store failures are logged and the
// first one is returned after all prefixes were tried.
func Invalidate(ctx context.Context, d Deps, prefixes ...string) (int, error) {
	removed := 0
	var firstErr error
	for _, p := range prefixes {
		removed += d.Responses.InvalidatePrefix(p)
		if d.Values == nil {
			continue
		}
		n, err := d.Values.DeletePrefix(ctx, p)
		if err != nil {
			log.WithError(err).WithField("prefix", p).Error("shared cache invalidation failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		log.WithFields(log.Fields{"prefix": p, "shared": n}).Debug("invalidated shared cache")
	}
	return removed, firstErr
}

// InvalidateLocal drops matching in-process entries only. Used for events
// broadcast by other instances, which already cleared the shared store.
func InvalidateLocal(d Deps, prefixes ...string) int {
	removed := 0
	for _, p := range prefixes {
		removed += d.Responses.InvalidatePrefix(p)
	}
	return removed
}

// InvalidateKey drops one exact cache key in-process and in the shared store.
func InvalidateKey(ctx context.Context, d Deps, key string) error {
	d.Responses.Invalidate(key)
	if d.Values == nil {
		return nil
	}
	return d.Values.Delete(ctx, key)
}
