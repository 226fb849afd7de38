package redis

import (
	"context"
	"errors"
	"fmt"
	"posgate/internal/types"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	routeKeyNameTemplate = "_posgate_route_%s"
)

type RouteStore struct {
	cli *redis.Client
}

func NewRouteStore(cli *redis.Client) *RouteStore {
	return &RouteStore{cli: cli}
}

func (s *RouteStore) GetRoute(ctx context.Context, routeID string) (types.RoutePolicy, error) {
	out := s.cli.Get(ctx, getRouteKey(routeID))
	if out.Err() != nil {
		if errors.Is(out.Err(), redis.Nil) {
			return types.RoutePolicy{}, types.ErrNotFound
		}
		return types.RoutePolicy{}, types.Err(types.ErrDataStoreAccess, out.Err(), "")
	}
	var rp types.RoutePolicy
	if err := json.Unmarshal([]byte(out.Val()), &rp); err != nil {
		return types.RoutePolicy{}, err
	}
	return rp, nil
}

func (s *RouteStore) ListRoutes(ctx context.Context) ([]types.RoutePolicy, error) {
	keys, err := s.routeKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "")
	}
	routes := make([]types.RoutePolicy, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// deleted between SCAN and MGET
			continue
		}
		var rp types.RoutePolicy
		if err := json.Unmarshal([]byte(str), &rp); err != nil {
			log.WithError(err).WithField("key", keys[i]).Warn("skipping unreadable route")
			continue
		}
		routes = append(routes, rp)
	}
	slices.SortFunc(routes, func(a, b types.RoutePolicy) int {
		return strings.Compare(a.RouteID, b.RouteID)
	})
	return routes, nil
}

func (s *RouteStore) PutRoute(ctx context.Context, route types.RoutePolicy) error {
	if err := route.Validate(); err != nil {
		return types.Err(types.ErrInvalidRoute, err, "")
	}

	out, err := json.Marshal(route)
	if err != nil {
		return err
	}

	outS := s.cli.Set(
		ctx,
		getRouteKey(route.RouteID),
		string(out),
		0,
	)
	return outS.Err()
}

func (s *RouteStore) DeleteRoute(ctx context.Context, routeID string) error {
	out := s.cli.Del(ctx, getRouteKey(routeID))
	return out.Err()
}

func (s *RouteStore) ClearAll(ctx context.Context) error {
	keys, err := s.routeKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.cli.Del(ctx, keys...).Err()
}

func (s *RouteStore) routeKeys(ctx context.Context) ([]string, error) {
	return scanKeys(ctx, s.cli, getRouteKey("*"))
}

func getRouteKey(id string) string {
	return fmt.Sprintf(routeKeyNameTemplate, id)
}

// scanKeys collects every key matching the glob pattern without blocking
// the server the way KEYS does.
func scanKeys(ctx context.Context, cli *redis.Client, pattern string) ([]string, error) {
	var keys []string
	iter := cli.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "scan %s", pattern)
	}
	return keys, nil
}
