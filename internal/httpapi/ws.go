package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/streamalerts/internal/core"
)

const wsWriteTimeout = 5 * time.Second

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !s.limiter.Allow(remoteIP(r)) {
		s.metrics.IncRateLimited()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		s.metrics.ObserveRequest("/ws", r.Method, http.StatusTooManyRequests, time.Since(start))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.wsOriginPatterns(),
	})
	if err != nil {
		// Accept wrote its own error response; count the failed upgrade.
		s.metrics.ObserveRequest("/ws", r.Method, http.StatusBadRequest, time.Since(start))
		return
	}
	s.metrics.ObserveRequest("/ws", r.Method, http.StatusSwitchingProtocols, time.Since(start))
	defer conn.Close(websocket.StatusNormalClosure, "")

	c := &client{ch: make(chan core.AlertEvent, 64), transport: "ws"}
	if !s.register(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.metrics.IncWSClients(1)
	defer func() {
		s.unregister(c)
		s.metrics.IncWSClients(-1)
	}()

	ctx := r.Context()

	// Overlay clients never send application messages; the read loop only
	// notices the close handshake.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.ch:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) wsOriginPatterns() []string {
	if s.cors == nil {
		return nil
	}
	if s.cors.allowAll {
		return []string{"*"}
	}
	patterns := make([]string, 0, len(s.cors.origins))
	for origin := range s.cors.origins {
		host := origin
		host = strings.TrimPrefix(host, "https://")
		host = strings.TrimPrefix(host, "http://")
		patterns = append(patterns, host)
	}
	return patterns
}
