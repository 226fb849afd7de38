package flow

import (
	"context"
	"posgate/internal/types"
	"slices"
	"strings"
)

// LoadCachedRoutes loads the route table from cache or store. The table is
// sorted longest prefix first, ready for MatchRoute. Concurrent callers share
// one store read, so it runs detached from the caller's cancellation.
func LoadCachedRoutes(ctx context.Context, d Deps) ([]types.RoutePolicy, error) {
	ctx = context.WithoutCancel(ctx)
	return d.Routes.WithCache(routesCacheKey, func() ([]types.RoutePolicy, error) {
		routes, err := d.RouteStore.ListRoutes(ctx)
		if err != nil {
			return nil, err
		}
		slices.SortStableFunc(routes, func(a, b types.RoutePolicy) int {
			return len(b.Prefix) - len(a.Prefix)
		})
		return routes, nil
	}, d.RouteTTL)
}

// MatchRoute returns the first route whose prefix covers path, on a path
// segment boundary: "/api/tables" covers "/api/tables/4" but not
// "/api/tablesets". Routes must be sorted longest prefix first.
func MatchRoute(routes []types.RoutePolicy, path string) (types.RoutePolicy, bool) {
	for _, r := range routes {
		if !strings.HasPrefix(path, r.Prefix) {
			continue
		}
		if len(path) == len(r.Prefix) || strings.HasSuffix(r.Prefix, "/") || path[len(r.Prefix)] == '/' {
			return r, true
		}
	}
	return types.RoutePolicy{}, false
}

// ReloadRoutes drops the cached route table so the next request reads the store.
func ReloadRoutes(d Deps) {
	d.Routes.Invalidate(routesCacheKey)
}
