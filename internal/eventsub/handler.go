package eventsub

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/you/streamalerts/internal/core"
	"github.com/you/streamalerts/internal/state"
)

const maxDeliveryBytes = 1 << 20

// Publisher fans a canonical alert out to connected overlay clients. Publish
// must not block; acknowledgment latency is bounded by the platform's
// response timeout and a slow client must never cause a redelivery.
type Publisher interface {
	Publish(ev core.AlertEvent)
}

// Revoker tracks revocation deliveries against the local registry.
type Revoker interface {
	MarkRevoked(subType string, condition map[string]string)
}

// DeliveryObserver receives the outcome of each delivery for metrics.
type DeliveryObserver func(messageType, subType, outcome string)

// Handler is the webhook ingress: it verifies, dispatches on message type,
// normalizes notifications, and always acknowledges what it can.
type Handler struct {
	// Secret returns the current shared secret. A func rather than a value so
	// file-based rotation takes effect without restarting.
	Secret func() string

	Publisher Publisher
	Revoker   Revoker
	Live      *state.Holder
	Observe   DeliveryObserver
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	secret := ""
	if h.Secret != nil {
		secret = h.Secret()
	}
	if secret == "" {
		slog.Error("eventsub: webhook secret not configured")
		http.Error(w, "webhook secret not configured", http.StatusInternalServerError)
		return
	}

	// Verification must run over the exact raw bytes received.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBytes))
	if err != nil {
		http.Error(w, "read error", http.StatusInternalServerError)
		return
	}

	authentic := VerifySignature(
		secret,
		r.Header.Get(HeaderMessageID),
		r.Header.Get(HeaderTimestamp),
		body,
		r.Header.Get(HeaderSignature),
	)
	if !authentic {
		h.observe(r.Header.Get(HeaderMessageType), "", "rejected")
		http.Error(w, "signature mismatch", http.StatusForbidden)
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Authentic but undecodable: acknowledge so the platform does not
		// redeliver a body we will never be able to parse.
		slog.Error("eventsub: decode delivery", "err", err)
		h.observe(r.Header.Get(HeaderMessageType), "", "undecodable")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	msgType := r.Header.Get(HeaderMessageType)
	switch msgType {
	case messageTypeVerification:
		// Subscription activation handshake: echo the literal challenge.
		h.observe(msgType, env.Subscription.Type, "challenge")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(env.Challenge))

	case messageTypeNotification:
		h.handleNotification(env)
		w.WriteHeader(http.StatusNoContent)

	case messageTypeRevocation:
		if h.Revoker != nil {
			h.Revoker.MarkRevoked(env.Subscription.Type, env.Subscription.Condition)
		}
		slog.Info("eventsub: subscription revoked", "type", env.Subscription.Type,
			"status", env.Subscription.Status)
		h.observe(msgType, env.Subscription.Type, "revoked")
		w.WriteHeader(http.StatusNoContent)

	default:
		// Unknown message types are expected as the protocol evolves; never
		// error the connection over one.
		slog.Info("eventsub: unknown message type", "message_type", msgType)
		h.observe(msgType, env.Subscription.Type, "unknown")
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleNotification normalizes and publishes. Internal failures are logged,
// never surfaced: the acknowledgment must not turn into an error response or
// the platform will redeliver.
func (h *Handler) handleNotification(env envelope) {
	switch env.Subscription.Type {
	case TypeStreamOnline, TypeStreamOffline:
		if h.Live != nil {
			h.Live.Set(env.Subscription.Type == TypeStreamOnline)
		}
		h.observe(messageTypeNotification, env.Subscription.Type, "state")
		return
	}

	ev, ok := Normalize(env.Subscription, env.Event)
	if !ok {
		h.observe(messageTypeNotification, env.Subscription.Type, "skipped")
		return
	}
	if h.Publisher != nil {
		h.Publisher.Publish(ev)
	}
	h.observe(messageTypeNotification, env.Subscription.Type, "published")
}

func (h *Handler) observe(messageType, subType, outcome string) {
	if h.Observe != nil {
		h.Observe(messageType, subType, outcome)
	}
}
