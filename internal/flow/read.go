package flow

import (
	"context"
	"errors"
	"net/http"
	"posgate/internal/types"
	"time"

	log "github.com/sirupsen/logrus"
)

// Read fetches a cacheable GET for route: shared value store first, then the
// upstream API. Non-2xx answers come back as *types.UpstreamError so the
// request cache never stores them. It is the fetch function behind the
// in-process cache; one call serves every deduplicated caller, so it runs
// detached from the cancellation of the request that triggered it.
func Read(ctx context.Context, d Deps, route types.RoutePolicy, key, path, rawQuery string) (*types.Response, error) {
	ctx = context.WithoutCancel(ctx)
	logger := log.WithFields(log.Fields{"route": route.RouteID, "key": key})

	if d.Values != nil {
		b, err := d.Values.Get(ctx, key)
		switch {
		case err == nil:
			if resp, decErr := DecodeResponse(b); decErr == nil {
				logger.Debug("shared cache hit")
				return resp, nil
			} else {
				logger.WithError(decErr).Warn("discarding undecodable shared cache value")
			}
		case errors.Is(err, types.ErrNotFound):
			// miss
		default:
			// The shared store is an optimisation; fall through to upstream.
			logger.WithError(err).Warn("shared cache read failed")
		}
	}

	resp, err := d.Upstream.Do(ctx, http.MethodGet, path, rawQuery, nil, "")
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status > 299 {
		return nil, &types.UpstreamError{Status: resp.Status, ContentType: resp.ContentType, Body: resp.Body}
	}
	if route.Select != "" {
		body, err := Project(route.Select, resp.Body)
		if err != nil {
			return nil, types.Err(types.ErrUpstream, err, "select %q on %s", route.Select, path)
		}
		resp.Body = body
		resp.ContentType = "application/json"
	}

	if d.Values != nil && route.TTLMillis > 0 {
		b, err := EncodeResponse(resp)
		if err == nil {
			err = d.Values.Set(ctx, key, b, route.TTL())
		}
		if err != nil {
			logger.WithError(err).Warn("shared cache write failed")
		}
	}
	return resp, nil
}

// RemainingTTL is how much longer resp may be served under route, given
// when it was fetched from upstream. Responses from the shared store arrive
// partly aged and must not outlive the route TTL counted from the fetch.
func RemainingTTL(route types.RoutePolicy, resp *types.Response) time.Duration {
	if resp == nil || resp.FetchedAtMs == 0 {
		return route.TTL()
	}
	age := time.Duration(EpochMillis()-resp.FetchedAtMs) * time.Millisecond
	if age < 0 {
		age = 0
	}
	return route.TTL() - age
}
