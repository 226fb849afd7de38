package flow

import (
	"context"
	"io"
	"posgate/internal/backends/memory"
	"posgate/internal/reqcache"
	"posgate/internal/types"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// fakeUpstream answers every request with the configured response and
// records what it was asked.
type fakeUpstream struct {
	mu    sync.Mutex
	calls []string
	resp  types.Response
	err   error
}

func (f *fakeUpstream) Do(_ context.Context, method, path, rawQuery string, _ io.Reader, _ string) (*types.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method+" "+path+"?"+rawQuery)
	if f.err != nil {
		return nil, f.err
	}
	r := f.resp
	r.FetchedAtMs = EpochMillis()
	return &r, nil
}

func (f *fakeUpstream) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type UnitTestSuite struct {
	suite.Suite

	upstream *fakeUpstream
	routes   *memory.RouteStore
	values   *memory.ValueStore
	deps     Deps
}

func TestUnitTestSuite(t *testing.T) {
	suite.Run(t, new(UnitTestSuite))
}

func (s *UnitTestSuite) SetupTest() {
	RestoreTimeNow()
	s.upstream = &fakeUpstream{resp: types.Response{
		Status:      200,
		ContentType: "application/json",
		Body:        []byte(`{"data":[{"id":1,"seats":4},{"id":2,"seats":2}],"count":2}`),
	}}
	s.routes = memory.NewRouteStore()
	s.values = memory.NewValueStore()
	s.deps = Deps{
		Responses:  reqcache.New[*types.Response](reqcache.Config{}),
		Routes:     reqcache.New[[]types.RoutePolicy](reqcache.Config{}),
		RouteStore: s.routes,
		Values:     s.values,
		Upstream:   s.upstream,
		RouteTTL:   time.Minute,
	}
}

func (s *UnitTestSuite) TearDownTest() {
	RestoreTimeNow()
	s.NoError(s.deps.Responses.Close())
	s.NoError(s.deps.Routes.Close())
}
