package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/you/streamalerts/internal/core"
	"github.com/you/streamalerts/internal/state"
	"github.com/you/streamalerts/internal/store"
)

// Admin exposes the operator-triggered actions. Failures here are surfaced
// as actionable messages, unlike the webhook path which swallows them.
type Admin interface {
	RefreshTier(ctx context.Context, tier core.Tier) (string, error)
	EnsureSubscription(ctx context.Context, subType, subjectID string) (string, error)
	RecreateSubscription(ctx context.Context, subType, subjectID string) (string, error)
	Subscriptions() []core.Subscription
}

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

type Options struct {
	Addr        string
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	Metrics     bool
	Webhook     http.Handler
	Admin       Admin
	Build       BuildInfo
}

type client struct {
	ch        chan core.AlertEvent
	transport string
}

// Server hosts the webhook ingress, the overlay broadcast transports, and
// the operator endpoints.
type Server struct {
	httpServer *http.Server
	alerts     store.AlertLog
	live       *state.Holder
	opts       Options
	metrics    *Metrics
	limiter    *ipRateLimiter
	cors       *corsPolicy

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func New(alerts store.AlertLog, live *state.Holder, opts Options) *Server {
	srv := &Server{
		alerts:  alerts,
		live:    live,
		opts:    opts,
		metrics: newMetrics(),
		limiter: newIPRateLimiter(opts.RateRPS, opts.RateBurst),
		cors:    newCORSPolicy(opts.CORSOrigins),
		clients: make(map[*client]struct{}),
	}

	mux := http.NewServeMux()
	if opts.Webhook != nil {
		// The webhook path bypasses rate limiting and CORS: the sender is the
		// platform, not a browser, and a limited delivery would be redelivered.
		mux.Handle("/webhook", opts.Webhook)
	}
	mux.HandleFunc("/healthz", srv.public("/healthz", srv.handleHealthz))
	mux.HandleFunc("/info", srv.public("/info", srv.handleInfo))
	mux.HandleFunc("/alerts", srv.public("/alerts", srv.handleAlerts))
	mux.HandleFunc("/count", srv.public("/count", srv.handleCount))
	mux.HandleFunc("/live", srv.public("/live", srv.handleLive))
	mux.HandleFunc("/stream", srv.public("/stream", srv.handleStream))
	// The upgrade hijacks the connection, so the recorder-based status
	// metric cannot observe it; handleWS records the outcome itself.
	mux.HandleFunc("/ws", srv.handleWS)
	if opts.Metrics {
		mux.Handle("/metrics", srv.metrics.Handler())
	}
	if opts.Admin != nil {
		mux.HandleFunc("/admin/refresh/", srv.handleAdminRefresh)
		mux.HandleFunc("/admin/subscriptions/ensure", srv.handleAdminEnsure)
		mux.HandleFunc("/admin/subscriptions/recreate", srv.handleAdminRecreate)
		mux.HandleFunc("/admin/subscriptions", srv.handleAdminSubscriptions)
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Metrics exposes the collector bundle for wiring delivery observations.
func (s *Server) Metrics() *Metrics { return s.metrics }

// public wraps a handler with the access-log recorder, per-IP rate limiting,
// and CORS policy.
func (s *Server) public(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newResponseRecorder(w)

		if handled, status := s.cors.handlePreflight(rec, r); handled {
			s.metrics.ObserveRequest(route, r.Method, status, time.Since(start))
			return
		}
		if !s.cors.applyHeaders(rec, r) {
			http.Error(rec, "origin not allowed", http.StatusForbidden)
			s.metrics.ObserveRequest(route, r.Method, http.StatusForbidden, time.Since(start))
			return
		}
		if !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(rec, "rate limited", http.StatusTooManyRequests)
			s.metrics.ObserveRequest(route, r.Method, http.StatusTooManyRequests, time.Since(start))
			return
		}

		h(rec, r)
		s.metrics.ObserveRequest(route, r.Method, rec.Status(), time.Since(start))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]string{
		"version":  s.opts.Build.Version,
		"revision": s.opts.Build.Revision,
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp["built_at"] = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
			if limit > 1000 {
				limit = 1000
			}
		}
	}
	if s.alerts == nil {
		writeJSON(w, []core.AlertEvent{})
		return
	}
	rows, err := s.alerts.ListRecent(limit)
	if err != nil {
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []core.AlertEvent{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleCount(w http.ResponseWriter, _ *http.Request) {
	if s.alerts == nil {
		writeJSON(w, map[string]any{"count": 0})
		return
	}
	count, err := s.alerts.Count()
	if err != nil {
		http.Error(w, "count error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"count": count})
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	live := false
	if s.live != nil {
		live = s.live.Get()
	}
	writeJSON(w, map[string]bool{"live": live})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	c := &client{ch: make(chan core.AlertEvent, 64), transport: "sse"}
	if !s.register(c) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.metrics.IncSSEClients(1)
	defer func() {
		s.unregister(c)
		s.metrics.IncSSEClients(-1)
	}()

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case ev, ok := <-c.ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: alert\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// Publish records the alert and fans it out to every connected client.
// Delivery is best effort: a client whose buffer is full loses the event
// rather than delaying the webhook acknowledgment.
func (s *Server) Publish(ev core.AlertEvent) {
	if s.alerts != nil {
		if err := s.alerts.Append(ev); err != nil {
			s.metrics.IncLogWriteErrors()
			slog.Error("httpapi: alert log append", "err", err)
		}
	}
	s.metrics.IncAlertsPublished(string(ev.Kind))

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.ch <- ev:
		default:
			s.metrics.IncBroadcastDrops(c.transport)
		}
	}
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) handleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/admin/refresh/")
	tier := core.Tier(strings.TrimSpace(raw))
	switch tier {
	case core.TierApp, core.TierUser, core.TierChat:
	default:
		http.Error(w, "unknown tier", http.StatusBadRequest)
		return
	}

	outcome, err := s.opts.Admin.RefreshTier(r.Context(), tier)
	if err != nil {
		s.metrics.IncRefreshFailures(string(tier))
		http.Error(w, "refresh failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"tier": string(tier), "outcome": outcome})
}

func (s *Server) handleAdminEnsure(w http.ResponseWriter, r *http.Request) {
	s.handleAdminSubscriptionAction(w, r, "ensure", s.opts.Admin.EnsureSubscription)
}

// handleAdminRecreate tears down and re-registers a subscription. Needed
// after a webhook secret rotation: existing subscriptions keep the secret
// they were created with.
func (s *Server) handleAdminRecreate(w http.ResponseWriter, r *http.Request) {
	s.handleAdminSubscriptionAction(w, r, "recreate", s.opts.Admin.RecreateSubscription)
}

func (s *Server) handleAdminSubscriptionAction(w http.ResponseWriter, r *http.Request, name string,
	action func(ctx context.Context, subType, subjectID string) (string, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Type      string `json:"type"`
		SubjectID string `json:"subject_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := action(r.Context(), req.Type, req.SubjectID)
	if err != nil {
		http.Error(w, name+" failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"type": req.Type, "result": result})
}

func (s *Server) handleAdminSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	subs := s.opts.Admin.Subscriptions()
	if subs == nil {
		subs = []core.Subscription{}
	}
	writeJSON(w, subs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		close(c.ch)
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
