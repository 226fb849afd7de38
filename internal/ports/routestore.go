package ports

import (
	"context"
	"posgate/internal/types"
)

// RouteStore persists route policies.
// Callers SHOULD read through an in-process cache (see flow.LoadCachedRoutes)
// to avoid a store round trip per request.
type RouteStore interface {
	// GetRoute returns the policy for routeID.
	// MUST return types.ErrNotFound if the route does not exist.
	GetRoute(ctx context.Context, routeID string) (types.RoutePolicy, error)

	ListRoutes(ctx context.Context) ([]types.RoutePolicy, error)

	PutRoute(ctx context.Context, route types.RoutePolicy) error

	DeleteRoute(ctx context.Context, routeID string) error

	// ClearAll purges all routes. Used in tests only.
	ClearAll(ctx context.Context) error
}
