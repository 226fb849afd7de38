package types

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/jmespath/go-jmespath"
)

// RoutePolicy is stored per route in the route store and cached in-process.
// It drives how the gateway treats requests whose path starts with Prefix.
// RouteID identifies the policy in the store.
// TTLMillis is how long a GET response stays cached; 0 disables caching but
// concurrent identical reads are still collapsed into one upstream call.
// Select is an optional JMESPath expression applied to JSON responses before
// they are cached, to keep only what the frontend reads.
// Invalidates lists cache key prefixes dropped after a successful write on
// this route, either as "GET /path" or as a bare "/path". When empty, the
// route's own GET prefix is used.
// Broadcast publishes the invalidation to the other gateway instances.
type RoutePolicy struct {
	RouteID     string   `json:"route_id" yaml:"route_id" dynamodbav:"route_id"`
	Prefix      string   `json:"prefix" yaml:"prefix" dynamodbav:"prefix"`
	TTLMillis   int      `json:"ttl_ms" yaml:"ttl_ms" dynamodbav:"ttl_ms"`
	Select      string   `json:"select,omitempty" yaml:"select,omitempty" dynamodbav:"select"`
	Invalidates []string `json:"invalidates,omitempty" yaml:"invalidates,omitempty" dynamodbav:"invalidates"`
	Broadcast   bool     `json:"broadcast" yaml:"broadcast" dynamodbav:"broadcast"`
}

const (
	RouteIDMinLength = 3

	// DefaultRouteTTLMillis matches the frontend request cache default.
	DefaultRouteTTLMillis = 5000

	// cachedMethodPrefix starts every cache key; only GET responses are cached.
	cachedMethodPrefix = "GET "
)

// routeDoc is a route as written in a routes YAML file; ttl_ms is optional.
type routeDoc struct {
	RouteID     string   `yaml:"route_id"`
	Prefix      string   `yaml:"prefix"`
	TTLMillis   *int     `yaml:"ttl_ms"`
	Select      string   `yaml:"select"`
	Invalidates []string `yaml:"invalidates"`
	Broadcast   bool     `yaml:"broadcast"`
}

func (r RoutePolicy) Validate() error {
	if r.RouteID == "" {
		return fmt.Errorf("route_id is required")
	}
	if len(r.RouteID) < RouteIDMinLength {
		return fmt.Errorf("route_id must be at least %d characters", RouteIDMinLength)
	}
	if !strings.HasPrefix(r.Prefix, "/") {
		return fmt.Errorf("prefix must start with '/'")
	}
	if r.TTLMillis < 0 {
		return fmt.Errorf("ttl_ms must be non-negative. 0 for no caching")
	}
	if r.Select != "" {
		if _, err := jmespath.Compile(r.Select); err != nil {
			return fmt.Errorf("select is not a valid JMESPath expression: %w", err)
		}
	}
	for _, p := range r.Invalidates {
		if !strings.HasPrefix(p, "/") && !strings.HasPrefix(p, cachedMethodPrefix+"/") {
			return fmt.Errorf("invalidates entry %q must start with '/' or '%s/'", p, cachedMethodPrefix)
		}
	}
	return nil
}

// TTL returns the cache lifetime of the route's GET responses.
func (r RoutePolicy) TTL() time.Duration {
	return time.Duration(r.TTLMillis) * time.Millisecond
}

// InvalidationPrefixes returns the cache key prefixes a successful write on
// this route drops.
func (r RoutePolicy) InvalidationPrefixes() []string {
	if len(r.Invalidates) == 0 {
		return []string{cachedMethodPrefix + r.Prefix}
	}
	out := make([]string, len(r.Invalidates))
	for i, p := range r.Invalidates {
		if strings.HasPrefix(p, "/") {
			p = cachedMethodPrefix + p
		}
		out[i] = p
	}
	return out
}

// LoadRoutesFile parses and validates a routes YAML file. A route without
// ttl_ms gets DefaultRouteTTLMillis.
func LoadRoutesFile(path string) ([]RoutePolicy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Routes []routeDoc `yaml:"routes"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, Err(ErrInvalidRoute, err, "parse %s", path)
	}
	routes := make([]RoutePolicy, 0, len(doc.Routes))
	for _, d := range doc.Routes {
		rp := RoutePolicy{
			RouteID:     d.RouteID,
			Prefix:      d.Prefix,
			TTLMillis:   DefaultRouteTTLMillis,
			Select:      d.Select,
			Invalidates: d.Invalidates,
			Broadcast:   d.Broadcast,
		}
		if d.TTLMillis != nil {
			rp.TTLMillis = *d.TTLMillis
		}
		if err := rp.Validate(); err != nil {
			return nil, Err(ErrInvalidRoute, err, "route %q", rp.RouteID)
		}
		routes = append(routes, rp)
	}
	return routes, nil
}
