package types

// Response is an upstream answer as the gateway caches and replays it.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
	// FetchedAtMs is the epoch millisecond the upstream call completed.
	FetchedAtMs int64 `json:"fetched_at_ms"`
}

// InvalidationEvent tells gateway instances which cache key prefixes to drop.
// Origin is the instance that handled the write; it skips its own events.
type InvalidationEvent struct {
	Prefixes []string `json:"prefixes"`
	Origin   string   `json:"origin"`
	At       int64    `json:"at"`
}
