package reqcache

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Debounce returns a function that postpones fn until wait has passed
// without another call. Only the last call of a burst runs, with its
// arguments. fn runs on its own goroutine.
func Debounce[A any](fn func(A), wait time.Duration) func(A) {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	return func(arg A) {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(wait, func() { fn(arg) })
	}
}

// Throttle returns a function that runs fn at most once per wait. The first
// call runs immediately; calls inside the window are dropped, not queued.
func Throttle[A any](fn func(A), wait time.Duration) func(A) {
	return throttle(fn, wait, time.Now)
}

func throttle[A any](fn func(A), wait time.Duration, now func() time.Time) func(A) {
	limit := rate.Inf
	if wait > 0 {
		limit = rate.Every(wait)
	}
	lim := rate.NewLimiter(limit, 1)
	return func(arg A) {
		if !lim.AllowN(now(), 1) {
			return
		}
		fn(arg)
	}
}
