package flow

import "time"

const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"

	// routesCacheKey is the single key the route table is cached under.
	routesCacheKey = "routes"
)

var timeNow = time.Now

func EpochMillis() int64 {
	return timeNow().UnixMilli()
}

func SetTimeNowFn(f func() time.Time) {
	timeNow = f
}

func RestoreTimeNow() {
	timeNow = time.Now
}
