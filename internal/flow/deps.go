package flow

import (
	"posgate/internal/ports"
	"posgate/internal/reqcache"
	"posgate/internal/types"
	"time"
)

// Deps bundles what the read and invalidation paths need.
// Values may be nil when no shared value store is configured.
type Deps struct {
	Responses  *reqcache.Cache[*types.Response]
	Routes     *reqcache.Cache[[]types.RoutePolicy]
	RouteStore ports.RouteStore
	Values     ports.ValueStore
	Upstream   ports.Upstream

	// RouteTTL is how long the route table is cached in-process.
	RouteTTL time.Duration
}
