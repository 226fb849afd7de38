package memory

import (
	"context"
	"posgate/internal/types"
	"slices"
	"strings"
	"sync"
)

// RouteStore keeps route policies in process memory. It backs local
// development (ROUTE_BACKEND=memory) and tests.
type RouteStore struct {
	mu     sync.RWMutex
	routes map[string]types.RoutePolicy
}

func NewRouteStore() *RouteStore {
	return &RouteStore{routes: make(map[string]types.RoutePolicy)}
}

func (s *RouteStore) GetRoute(_ context.Context, routeID string) (types.RoutePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[routeID]
	if !ok {
		return types.RoutePolicy{}, types.ErrNotFound
	}
	return r, nil
}

// ListRoutes returns the routes ordered by RouteID.
func (s *RouteStore) ListRoutes(_ context.Context) ([]types.RoutePolicy, error) {
	s.mu.RLock()
	out := make([]types.RoutePolicy, 0, len(s.routes))
	for _, r := range s.routes {
		out = append(out, r)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b types.RoutePolicy) int {
		return strings.Compare(a.RouteID, b.RouteID)
	})
	return out, nil
}

func (s *RouteStore) PutRoute(_ context.Context, route types.RoutePolicy) error {
	if err := route.Validate(); err != nil {
		return types.Err(types.ErrInvalidRoute, err, "")
	}
	s.mu.Lock()
	s.routes[route.RouteID] = route
	s.mu.Unlock()
	return nil
}

func (s *RouteStore) DeleteRoute(_ context.Context, routeID string) error {
	s.mu.Lock()
	delete(s.routes, routeID)
	s.mu.Unlock()
	return nil
}

func (s *RouteStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	s.routes = make(map[string]types.RoutePolicy)
	s.mu.Unlock()
	return nil
}
