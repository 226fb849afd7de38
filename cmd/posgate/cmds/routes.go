// Package cmds implements the route management subcommands.
package cmds

import (
	"context"
	"fmt"
	"io"
	"posgate/internal/ports"
	"posgate/internal/types"

	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"
)

// PutRoutes validates every route in the YAML file before storing any of them.
func PutRoutes(ctx context.Context, store ports.RouteStore, path string) error {
	routes, err := types.LoadRoutesFile(path)
	if err != nil {
		return err
	}
	for _, r := range routes {
		if err := store.PutRoute(ctx, r); err != nil {
			return fmt.Errorf("put route %q: %w", r.RouteID, err)
		}
		log.WithFields(log.Fields{"route": r.RouteID, "prefix": r.Prefix, "ttl_ms": r.TTLMillis}).Info("route stored")
	}
	return nil
}

func GetRoute(ctx context.Context, store ports.RouteStore, routeID string, w io.Writer) error {
	r, err := store.GetRoute(ctx, routeID)
	if err != nil {
		return err
	}
	return writeYAML(w, r)
}

func ListRoutes(ctx context.Context, store ports.RouteStore, w io.Writer) error {
	routes, err := store.ListRoutes(ctx)
	if err != nil {
		return err
	}
	return writeYAML(w, map[string]any{"routes": routes})
}

func DeleteRoute(ctx context.Context, store ports.RouteStore, routeID string) error {
	if _, err := store.GetRoute(ctx, routeID); err != nil {
		return err
	}
	return store.DeleteRoute(ctx, routeID)
}

func writeYAML(w io.Writer, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
