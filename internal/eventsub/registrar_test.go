package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/you/streamalerts/internal/core"
)

type stubTokens struct {
	token string
}

func (s stubTokens) CurrentToken(tier core.Tier) string {
	if tier != core.TierApp {
		return ""
	}
	return s.token
}

// fakeHelix emulates the list, create, and delete subscription endpoints.
// Created subscriptions show up as enabled in subsequent lists.
type fakeHelix struct {
	subs       []wireSubscription
	creates    []createRequest
	deletes    []string
	rejectFunc func(createRequest) bool
}

func (f *fakeHelix) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(listResponse{Data: f.subs, Total: len(f.subs)})
		case http.MethodDelete:
			id := r.URL.Query().Get("id")
			f.deletes = append(f.deletes, id)
			kept := f.subs[:0]
			for _, sub := range f.subs {
				if sub.ID != id {
					kept = append(kept, sub)
				}
			}
			f.subs = kept
			w.WriteHeader(http.StatusNoContent)
		case http.MethodPost:
			var req createRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			f.creates = append(f.creates, req)
			if f.rejectFunc != nil && f.rejectFunc(req) {
				http.Error(w, `{"error":"Bad Request"}`, http.StatusBadRequest)
				return
			}
			sub := wireSubscription{
				ID:        fmt.Sprintf("sub-%d", len(f.subs)+1),
				Type:      req.Type,
				Version:   req.Version,
				Status:    "enabled",
				Condition: req.Condition,
			}
			f.subs = append(f.subs, sub)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(createResponse{Data: []wireSubscription{sub}})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func newTestRegistrar(t *testing.T, fake *fakeHelix) *Registrar {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	original := helixSubscriptionsEndpoint
	helixSubscriptionsEndpoint = srv.URL
	t.Cleanup(func() { helixSubscriptionsEndpoint = original })

	return NewRegistrar("cid", stubTokens{token: "apptok"}, "https://alerts.example/webhook",
		func() string { return "s3cret" })
}

func TestEnsureSubscriptionIdempotent(t *testing.T) {
	fake := &fakeHelix{}
	reg := newTestRegistrar(t, fake)

	result, err := reg.EnsureSubscription(context.Background(), TypeRaid, "42")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if result != ResultCreated {
		t.Fatalf("first ensure = %q; want created", result)
	}

	result, err = reg.EnsureSubscription(context.Background(), TypeRaid, "42")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if result != ResultAlreadyPresent {
		t.Fatalf("second ensure = %q; want already-present", result)
	}
	if len(fake.creates) != 1 {
		t.Fatalf("remote creations = %d; want exactly 1", len(fake.creates))
	}
	if got := fake.creates[0].Condition["to_broadcaster_user_id"]; got != "42" {
		t.Fatalf("raid condition keyed on %q; want receiving channel id", got)
	}
}

func TestEnsureSubscriptionFollowFallback(t *testing.T) {
	fake := &fakeHelix{
		rejectFunc: func(req createRequest) bool { return req.Version == "2" },
	}
	reg := newTestRegistrar(t, fake)

	result, err := reg.EnsureSubscription(context.Background(), TypeFollow, "42")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if result != ResultCreated {
		t.Fatalf("result = %q; want created via fallback", result)
	}
	if len(fake.creates) != 2 {
		t.Fatalf("attempts = %d; want primary then fallback", len(fake.creates))
	}

	primary := fake.creates[0]
	if primary.Version != "2" {
		t.Fatalf("primary version = %q", primary.Version)
	}
	if primary.Condition["broadcaster_user_id"] != "42" || primary.Condition["moderator_user_id"] != "42" {
		t.Fatalf("primary condition = %v; want both subject ids set to the same id", primary.Condition)
	}

	fallback := fake.creates[1]
	if fallback.Version != "1" {
		t.Fatalf("fallback version = %q", fallback.Version)
	}
	if _, ok := fallback.Condition["moderator_user_id"]; ok {
		t.Fatalf("fallback condition should not carry a moderator id: %v", fallback.Condition)
	}
}

func TestEnsureSubscriptionNonFollowFailureIsTerminal(t *testing.T) {
	fake := &fakeHelix{
		rejectFunc: func(createRequest) bool { return true },
	}
	reg := newTestRegistrar(t, fake)

	result, err := reg.EnsureSubscription(context.Background(), TypeCheer, "42")
	if err == nil {
		t.Fatalf("expected error")
	}
	if result != ResultFailed {
		t.Fatalf("result = %q; want failed", result)
	}
	if len(fake.creates) != 1 {
		t.Fatalf("attempts = %d; only follow retries with another version", len(fake.creates))
	}
}

func TestEnsureSubscriptionRequiresAppToken(t *testing.T) {
	reg := NewRegistrar("cid", stubTokens{token: ""}, "https://alerts.example/webhook",
		func() string { return "s3cret" })
	result, err := reg.EnsureSubscription(context.Background(), TypeRaid, "42")
	if !errors.Is(err, ErrNoAppToken) {
		t.Fatalf("err = %v; want ErrNoAppToken", err)
	}
	if result != ResultFailed {
		t.Fatalf("result = %q", result)
	}
}

func TestRecreateSubscriptionCarriesRotatedSecret(t *testing.T) {
	fake := &fakeHelix{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	original := helixSubscriptionsEndpoint
	helixSubscriptionsEndpoint = srv.URL
	t.Cleanup(func() { helixSubscriptionsEndpoint = original })

	secret := "first-secret"
	reg := NewRegistrar("cid", stubTokens{token: "apptok"}, "https://alerts.example/webhook",
		func() string { return secret })

	if _, err := reg.EnsureSubscription(context.Background(), TypeRaid, "42"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got := fake.creates[0].Transport.Secret; got != "first-secret" {
		t.Fatalf("initial transport secret = %q", got)
	}
	createdID := fake.subs[0].ID

	secret = "rotated-secret"

	// Ensure alone cannot recover: the remote subscription is still enabled
	// and still carries the old secret, so it matches and nothing changes.
	result, err := reg.EnsureSubscription(context.Background(), TypeRaid, "42")
	if err != nil {
		t.Fatalf("ensure after rotation: %v", err)
	}
	if result != ResultAlreadyPresent || len(fake.creates) != 1 {
		t.Fatalf("ensure after rotation = %q with %d creates", result, len(fake.creates))
	}

	result, err = reg.RecreateSubscription(context.Background(), TypeRaid, "42")
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if result != ResultCreated {
		t.Fatalf("recreate = %q; want created", result)
	}
	if len(fake.deletes) != 1 || fake.deletes[0] != createdID {
		t.Fatalf("deletes = %v; want the pre-rotation subscription torn down", fake.deletes)
	}
	if got := fake.creates[len(fake.creates)-1].Transport.Secret; got != "rotated-secret" {
		t.Fatalf("recreated transport secret = %q; want the rotated value", got)
	}
}

func TestMarkRevoked(t *testing.T) {
	fake := &fakeHelix{}
	reg := newTestRegistrar(t, fake)

	if _, err := reg.EnsureSubscription(context.Background(), TypeRaid, "42"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	condition := map[string]string{"to_broadcaster_user_id": "42"}
	reg.MarkRevoked(TypeRaid, condition)
	reg.MarkRevoked(TypeRaid, condition) // idempotent

	subs := reg.Snapshot()
	if len(subs) != 1 {
		t.Fatalf("tracked subs = %d", len(subs))
	}
	if subs[0].Status != core.SubRevoked {
		t.Fatalf("status = %q; want revoked", subs[0].Status)
	}
}
