package flow

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"posgate/internal/backends/memory"
	"posgate/internal/types"
	"time"
)

func (s *UnitTestSuite) TestComputeKey() {
	q := url.Values{}
	q.Add("status", "open")
	q.Add("restaurant_id", "3")
	s.Equal("GET /api/orders?restaurant_id=3&status=open", ComputeKey("get", "/api/orders", q))
	s.Equal("GET /api/menu", ComputeKey(http.MethodGet, "/api/menu", nil))

	a, _ := url.ParseQuery("b=2&a=1")
	b, _ := url.ParseQuery("a=1&b=2")
	s.Equal(ComputeKey("GET", "/x", a), ComputeKey("GET", "/x", b))
}

func (s *UnitTestSuite) TestProject() {
	out, err := Project("data[].id", []byte(`{"data":[{"id":1},{"id":2}]}`))
	s.NoError(err)
	s.JSONEq(`[1,2]`, string(out))

	out, err = Project("missing", []byte(`{"data":[]}`))
	s.NoError(err)
	s.Equal("null", string(out))

	_, err = Project("data", []byte(`<html>`))
	s.Error(err)
}

func (s *UnitTestSuite) TestEvalAny() {
	obj := map[string]any{
		"table": map[string]any{"id": "t1", "seats": 4},
		"tags":  []any{"patio", "window"},
	}
	v, err := EvalAny("table.id", obj)
	s.NoError(err)
	s.Equal("t1", v)

	v, err = EvalAny("contains(tags, 'patio')", obj)
	s.NoError(err)
	s.Equal(true, v)

	v, err = EvalAny("nonexistent", obj)
	s.NoError(err)
	s.Nil(v)
}

func (s *UnitTestSuite) TestCodec() {
	in := &types.Response{Status: 200, ContentType: "application/json", Body: []byte(`{"ok":true}`), FetchedAtMs: 42}
	b, err := EncodeResponse(in)
	s.NoError(err)
	out, err := DecodeResponse(b)
	s.NoError(err)
	s.Equal(in, out)

	_, err = DecodeResponse([]byte("not zstd"))
	s.Error(err)
}

func (s *UnitTestSuite) TestMatchRoute() {
	routes := []types.RoutePolicy{
		{RouteID: "tables-free", Prefix: "/api/tables/free"},
		{RouteID: "tables", Prefix: "/api/tables"},
		{RouteID: "api", Prefix: "/api/"},
	}
	r, ok := MatchRoute(routes, "/api/tables/free")
	s.True(ok)
	s.Equal("tables-free", r.RouteID)

	r, ok = MatchRoute(routes, "/api/tables/4")
	s.True(ok)
	s.Equal("tables", r.RouteID)

	r, ok = MatchRoute(routes, "/api/tablesets")
	s.True(ok)
	s.Equal("api", r.RouteID)

	_, ok = MatchRoute(routes, "/health")
	s.False(ok)
}

func (s *UnitTestSuite) TestLoadCachedRoutes() {
	ctx := context.Background()
	s.NoError(s.routes.PutRoute(ctx, types.RoutePolicy{RouteID: "api", Prefix: "/api"}))
	s.NoError(s.routes.PutRoute(ctx, types.RoutePolicy{RouteID: "tables", Prefix: "/api/tables"}))

	routes, err := LoadCachedRoutes(ctx, s.deps)
	s.NoError(err)
	s.Require().Len(routes, 2)
	s.Equal("tables", routes[0].RouteID)

	// Served from cache until reloaded.
	s.NoError(s.routes.PutRoute(ctx, types.RoutePolicy{RouteID: "menu", Prefix: "/api/menu"}))
	routes, err = LoadCachedRoutes(ctx, s.deps)
	s.NoError(err)
	s.Len(routes, 2)

	ReloadRoutes(s.deps)
	routes, err = LoadCachedRoutes(ctx, s.deps)
	s.NoError(err)
	s.Len(routes, 3)
}

func (s *UnitTestSuite) TestReadFillsSharedStore() {
	ctx := context.Background()
	route := types.RoutePolicy{RouteID: "tables", Prefix: "/api/tables", TTLMillis: 5000, Select: "data[].id"}

	resp, err := Read(ctx, s.deps, route, "GET /api/tables", "/api/tables", "")
	s.NoError(err)
	s.JSONEq(`[1,2]`, string(resp.Body))
	s.Equal(1, s.upstream.Calls())

	// A second instance with an empty local cache reads the shared copy.
	resp, err = Read(ctx, s.deps, route, "GET /api/tables", "/api/tables", "")
	s.NoError(err)
	s.JSONEq(`[1,2]`, string(resp.Body))
	s.Equal(1, s.upstream.Calls())
}

func (s *UnitTestSuite) TestReadWithoutSharedStore() {
	ctx := context.Background()
	s.deps.Values = nil
	route := types.RoutePolicy{RouteID: "tables", Prefix: "/api/tables", TTLMillis: 5000}

	for i := 0; i < 2; i++ {
		_, err := Read(ctx, s.deps, route, "GET /api/tables", "/api/tables", "")
		s.NoError(err)
	}
	s.Equal(2, s.upstream.Calls())
}

func (s *UnitTestSuite) TestReadUpstreamErrorNotStored() {
	ctx := context.Background()
	s.upstream.resp = types.Response{Status: 503, Body: []byte("maintenance")}
	route := types.RoutePolicy{RouteID: "tables", Prefix: "/api/tables", TTLMillis: 5000}

	_, err := Read(ctx, s.deps, route, "GET /api/tables", "/api/tables", "")
	var ue *types.UpstreamError
	s.Require().ErrorAs(err, &ue)
	s.Equal(503, ue.Status)
	s.Equal([]byte("maintenance"), ue.Body)

	_, err = s.values.Get(ctx, "GET /api/tables")
	s.ErrorIs(err, types.ErrNotFound)
}

func (s *UnitTestSuite) TestReadTransportError() {
	boom := errors.New("connection refused")
	s.upstream.err = boom
	_, err := Read(context.Background(), s.deps, types.RoutePolicy{RouteID: "menu", Prefix: "/api/menu"}, "GET /api/menu", "/api/menu", "")
	s.ErrorIs(err, boom)
}

func (s *UnitTestSuite) TestReadDetachedFromCancellation() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	route := types.RoutePolicy{RouteID: "menu", Prefix: "/api/menu", TTLMillis: 1000}
	_, err := Read(ctx, s.deps, route, "GET /api/menu", "/api/menu", "")
	s.NoError(err)
	_, err = s.values.Get(context.Background(), "GET /api/menu")
	s.NoError(err)
}

func (s *UnitTestSuite) TestRemainingTTL() {
	now := time.UnixMilli(1_700_000_000_000)
	SetTimeNowFn(func() time.Time { return now })
	route := types.RoutePolicy{TTLMillis: 5000}

	s.Equal(5*time.Second, RemainingTTL(route, &types.Response{FetchedAtMs: now.UnixMilli()}))
	s.Equal(3*time.Second, RemainingTTL(route, &types.Response{FetchedAtMs: now.Add(-2 * time.Second).UnixMilli()}))
	s.True(RemainingTTL(route, &types.Response{FetchedAtMs: now.Add(-time.Minute).UnixMilli()}) < 0)
	s.Equal(5*time.Second, RemainingTTL(route, &types.Response{}))
}

func (s *UnitTestSuite) TestInvalidate() {
	ctx := context.Background()
	fetch := func() (*types.Response, error) { return &types.Response{Status: 200}, nil }
	for _, k := range []string{"GET /api/tables?r=1", "GET /api/tables?r=2", "GET /api/menu"} {
		_, err := s.deps.Responses.WithCache(k, fetch, time.Minute)
		s.NoError(err)
		s.NoError(s.values.Set(ctx, k, []byte("x"), time.Minute))
	}

	n, err := Invalidate(ctx, s.deps, "GET /api/tables")
	s.NoError(err)
	s.Equal(2, n)
	_, err = s.values.Get(ctx, "GET /api/tables?r=1")
	s.ErrorIs(err, types.ErrNotFound)
	_, err = s.values.Get(ctx, "GET /api/menu")
	s.NoError(err)

	s.Equal(1, InvalidateLocal(s.deps, "GET /api/menu"))
	s.Equal(0, s.deps.Responses.Stats().Size)
	// Local-only invalidation leaves the shared copy alone.
	_, err = s.values.Get(ctx, "GET /api/menu")
	s.NoError(err)
}

func (s *UnitTestSuite) TestInvalidateKey() {
	ctx := context.Background()
	_, err := s.deps.Responses.WithCache("GET /api/menu", func() (*types.Response, error) {
		return &types.Response{Status: 200}, nil
	}, time.Minute)
	s.NoError(err)
	s.NoError(s.values.Set(ctx, "GET /api/menu", []byte("x"), time.Minute))
	s.NoError(s.values.Set(ctx, "GET /api/menu?lang=fr", []byte("y"), time.Minute))

	s.NoError(InvalidateKey(ctx, s.deps, "GET /api/menu"))
	_, ok := s.deps.Responses.Peek("GET /api/menu")
	s.False(ok)
	_, err = s.values.Get(ctx, "GET /api/menu")
	s.ErrorIs(err, types.ErrNotFound)
	_, err = s.values.Get(ctx, "GET /api/menu?lang=fr")
	s.NoError(err)
}

// blockingRouteStore holds ListRoutes until release is closed and fails if
// the context it was given is done by then.
type blockingRouteStore struct {
	*memory.RouteStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRouteStore) ListRoutes(ctx context.Context) ([]types.RoutePolicy, error) {
	close(b.entered)
	<-b.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.RouteStore.ListRoutes(ctx)
}

func (s *UnitTestSuite) TestLoadCachedRoutesSurvivesCancelledCaller() {
	s.NoError(s.routes.PutRoute(context.Background(), types.RoutePolicy{RouteID: "tables", Prefix: "/api/tables"}))
	store := &blockingRouteStore{RouteStore: s.routes, entered: make(chan struct{}), release: make(chan struct{})}
	s.deps.RouteStore = store

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := LoadCachedRoutes(ctx, s.deps)
		firstErr <- err
	}()
	<-store.entered

	secondErr := make(chan error, 1)
	var second []types.RoutePolicy
	go func() {
		var err error
		second, err = LoadCachedRoutes(context.Background(), s.deps)
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(store.release)

	s.NoError(<-firstErr)
	s.NoError(<-secondErr)
	s.Require().Len(second, 1)
	s.Equal("tables", second[0].RouteID)
}
