package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"posgate/internal/flow"
	"posgate/internal/ports"
	"posgate/internal/reqcache"
	"posgate/internal/types"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

const (
	CacheStatusHdrName = "X-Cache"

	// DefaultBroadcastWait collapses a burst of writes on one route into a
	// single invalidation broadcast.
	DefaultBroadcastWait = 250 * time.Millisecond

	// DefaultStatsLogEvery bounds how often the cache occupancy is logged.
	DefaultStatsLogEvery = 30 * time.Second

	maxBodyBytes = 1 << 20
)

type Handler struct {
	Deps flow.Deps
	Pub  ports.Publisher

	// TopicArn receives invalidation broadcasts. Broadcasting is off when
	// it or Pub is empty.
	TopicArn   string
	InstanceID string

	broadcastWait time.Duration
	mu            sync.Mutex
	broadcasters  map[string]func([]string)
	logStats      func(reqcache.Stats)
}

type Options struct {
	TopicArn      string
	InstanceID    string
	BroadcastWait time.Duration
	StatsLogEvery time.Duration
}

func NewHandler(d flow.Deps, pub ports.Publisher, opts Options) *Handler {
	if opts.InstanceID == "" {
		opts.InstanceID = defaultInstanceID()
	}
	if opts.BroadcastWait <= 0 {
		opts.BroadcastWait = DefaultBroadcastWait
	}
	if opts.StatsLogEvery <= 0 {
		opts.StatsLogEvery = DefaultStatsLogEvery
	}
	return &Handler{
		Deps:          d,
		Pub:           pub,
		TopicArn:      opts.TopicArn,
		InstanceID:    opts.InstanceID,
		broadcastWait: opts.BroadcastWait,
		broadcasters:  make(map[string]func([]string)),
		logStats: reqcache.Throttle(func(st reqcache.Stats) {
			log.WithField("entries", st.Size).Info("response cache occupancy")
		}, opts.StatsLogEvery),
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /cache/stats", h.handleStats)
	mux.HandleFunc("DELETE /cache", h.handleClear)
	mux.HandleFunc("DELETE /cache/keys", h.handleDeleteKeys)
	mux.HandleFunc("POST /cache/invalidate", h.handleInvalidationEvent)
	mux.HandleFunc("/api/", h.handleProxy)
	return mux
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusOK, h.Deps.Responses.Stats()); err != nil {
		log.WithError(err).Warn("failed to write stats")
	}
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	h.Deps.Responses.Clear()
	flow.ReloadRoutes(h.Deps)
	if err := writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"}); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func (h *Handler) handleDeleteKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	key, prefix := q.Get("key"), q.Get("prefix")
	switch {
	case key != "" && prefix != "":
		http.Error(w, "use either key or prefix", http.StatusBadRequest)
	case key != "":
		if err := flow.InvalidateKey(ctx, h.Deps, key); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		_ = writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated"})
	case prefix != "":
		n, err := flow.Invalidate(ctx, h.Deps, prefix)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		_ = writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "removed": n})
	default:
		http.Error(w, "key or prefix is required", http.StatusBadRequest)
	}
}

// snsEnvelope is the body SNS posts to HTTP subscribers.
type snsEnvelope struct {
	Type         string `json:"Type"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

func (h *Handler) handleInvalidationEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	switch env.Type {
	case "":
		// raw event
	case "Notification":
		body = []byte(env.Message)
	case "SubscriptionConfirmation":
		log.WithField("subscribe_url", env.SubscribeURL).Warn("SNS subscription awaiting confirmation")
		w.WriteHeader(http.StatusOK)
		return
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	var ev types.InvalidationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "invalid invalidation event", http.StatusBadRequest)
		return
	}
	if len(ev.Prefixes) == 0 {
		http.Error(w, "prefixes is required", http.StatusBadRequest)
		return
	}
	if ev.Origin != "" && ev.Origin == h.InstanceID {
		_ = writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	n := flow.InvalidateLocal(h.Deps, ev.Prefixes...)
	log.WithFields(log.Fields{"origin": ev.Origin, "prefixes": ev.Prefixes, "removed": n}).Debug("applied invalidation event")
	_ = writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "removed": n})
}

func (h *Handler) handleProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	routes, err := flow.LoadCachedRoutes(ctx, h.Deps)
	if err != nil {
		log.WithError(err).Error("failed to load routes")
		http.Error(w, "route table unavailable", http.StatusServiceUnavailable)
		return
	}
	route, ok := flow.MatchRoute(routes, r.URL.Path)
	if !ok {
		http.Error(w, types.ErrNoRoute.Error(), http.StatusNotFound)
		return
	}
	if r.Method == http.MethodGet {
		h.serveRead(w, r, route)
	} else {
		h.serveWrite(w, r, route)
	}
	h.logStats(h.Deps.Responses.Stats())
}

func (h *Handler) serveRead(w http.ResponseWriter, r *http.Request, route types.RoutePolicy) {
	ctx := r.Context()
	key := flow.ComputeKey(r.Method, r.URL.Path, r.URL.Query())
	// A caller that joins another caller's fetch finds no fresh entry either.
	_, fresh := h.Deps.Responses.Peek(key)
	fetched := false

	resp, err := h.Deps.Responses.WithCacheFunc(key, func() (*types.Response, error) {
		fetched = true
		return flow.Read(ctx, h.Deps, route, key, r.URL.Path, r.URL.RawQuery)
	}, func(resp *types.Response) time.Duration {
		return flow.RemainingTTL(route, resp)
	})
	if err != nil {
		var ue *types.UpstreamError
		if errors.As(err, &ue) {
			writeResponse(w, &types.Response{Status: ue.Status, ContentType: ue.ContentType, Body: ue.Body}, flow.CacheMiss)
			return
		}
		log.WithError(err).WithField("key", key).Error("upstream read failed")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	cacheStatus := flow.CacheHit
	if fetched || !fresh {
		cacheStatus = flow.CacheMiss
	}
	writeResponse(w, resp, cacheStatus)
}

func (h *Handler) serveWrite(w http.ResponseWriter, r *http.Request, route types.RoutePolicy) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	resp, err := h.Deps.Upstream.Do(ctx, r.Method, r.URL.Path, r.URL.RawQuery, bytes.NewReader(body), r.Header.Get("Content-Type"))
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"method": r.Method, "path": r.URL.Path}).Error("upstream write failed")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	if resp.Status >= 200 && resp.Status <= 299 {
		prefixes := route.InvalidationPrefixes()
		if _, err := flow.Invalidate(context.WithoutCancel(ctx), h.Deps, prefixes...); err != nil {
			log.WithError(err).WithField("route", route.RouteID).Warn("invalidation after write incomplete")
		}
		if route.Broadcast {
			h.broadcaster(route.RouteID)(prefixes)
		}
	}
	writeResponse(w, resp, "")
}

// broadcaster returns the debounced invalidation publisher for a route.
func (h *Handler) broadcaster(routeID string) func([]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.broadcasters[routeID]
	if !ok {
		b = reqcache.Debounce(h.publishInvalidation, h.broadcastWait)
		h.broadcasters[routeID] = b
	}
	return b
}

func (h *Handler) publishInvalidation(prefixes []string) {
	if h.Pub == nil || h.TopicArn == "" {
		return
	}
	b, err := json.Marshal(types.InvalidationEvent{
		Prefixes: prefixes,
		Origin:   h.InstanceID,
		At:       flow.EpochMillis(),
	})
	if err != nil {
		log.WithError(err).Error("failed to marshal invalidation event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Pub.PublishRaw(ctx, h.TopicArn, b); err != nil {
		log.WithError(err).WithField("prefixes", prefixes).Error("failed to publish invalidation")
	}
}

func writeResponse(w http.ResponseWriter, resp *types.Response, cacheStatus string) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if cacheStatus != "" {
		w.Header().Set(CacheStatusHdrName, cacheStatus)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "posgate"
	}
	return strings.ToLower(host) + "-" + strconv.Itoa(os.Getpid())
}
