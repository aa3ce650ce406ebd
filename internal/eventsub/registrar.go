package eventsub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/you/streamalerts/internal/core"
)

var helixSubscriptionsEndpoint = "https://api.twitch.tv/helix/eventsub/subscriptions"

const registrarTimeout = 15 * time.Second

// EnsureResult reports the outcome of an EnsureSubscription call.
type EnsureResult string

const (
	ResultAlreadyPresent EnsureResult = "already-present"
	ResultCreated        EnsureResult = "created"
	ResultFailed         EnsureResult = "failed"
)

// ErrNoAppToken means the app tier is not authorized yet; the registrar
// cannot talk to the remote API without it.
var ErrNoAppToken = errors.New("eventsub: no app token available")

// TokenSource supplies the current app-tier access token.
type TokenSource interface {
	CurrentToken(tier core.Tier) string
}

// versionCandidate pairs a schema version with its condition shape. Candidates
// are tried in declaration order so version fallback stays in one loop instead
// of duplicated creation logic.
type versionCandidate struct {
	version   string
	condition func(subjectID, moderatorID string) map[string]string
}

func broadcasterCondition(subjectID, _ string) map[string]string {
	return map[string]string{"broadcaster_user_id": subjectID}
}

// candidatesFor returns the schema versions to try for a type. Only
// channel.follow has a documented multi-version ambiguity: version 2 requires
// a moderator id alongside the broadcaster id, version 1 does not.
func candidatesFor(subType string) []versionCandidate {
	switch subType {
	case TypeFollow:
		return []versionCandidate{
			{version: "2", condition: func(subjectID, moderatorID string) map[string]string {
				if moderatorID == "" {
					moderatorID = subjectID
				}
				return map[string]string{
					"broadcaster_user_id": subjectID,
					"moderator_user_id":   moderatorID,
				}
			}},
			{version: "1", condition: broadcasterCondition},
		}
	case TypeRaid:
		// Keyed on the receiving channel: "raids into my channel".
		return []versionCandidate{
			{version: "1", condition: func(subjectID, _ string) map[string]string {
				return map[string]string{"to_broadcaster_user_id": subjectID}
			}},
		}
	default:
		return []versionCandidate{{version: "1", condition: broadcasterCondition}}
	}
}

// conditionKey names the condition field that carries the subject id for a
// subscription type.
func conditionKey(subType string) string {
	if subType == TypeRaid {
		return "to_broadcaster_user_id"
	}
	return "broadcaster_user_id"
}

// Registrar creates and tracks remote EventSub registrations. Creation is not
// idempotent on the remote side, so the list-before-create check is
// mandatory, not an optimization.
type Registrar struct {
	ClientID    string
	Tokens      TokenSource
	CallbackURL string
	// Secret returns the current shared secret, same contract as the webhook
	// handler's. A func rather than a value so a rotated secret reaches new
	// registrations without restarting.
	Secret      func() string
	ModeratorID string // bot account id used for follow v2 conditions
	HTTP        *http.Client

	mu    sync.Mutex
	local map[string]core.Subscription // keyed by type + subject id
}

func NewRegistrar(clientID string, tokens TokenSource, callbackURL string, secret func() string) *Registrar {
	return &Registrar{
		ClientID:    clientID,
		Tokens:      tokens,
		CallbackURL: callbackURL,
		Secret:      secret,
		local:       make(map[string]core.Subscription),
	}
}

func localKey(subType, subjectID string) string { return subType + "|" + subjectID }

// EnsureSubscription registers a subscription for (subType, subjectID) if the
// remote API does not already hold an enabled one for the same logical
// target. At most one enabled subscription exists per (type, condition) pair.
func (r *Registrar) EnsureSubscription(ctx context.Context, subType, subjectID string) (EnsureResult, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return ResultFailed, errors.New("eventsub: empty subject id")
	}
	if strings.TrimSpace(r.CallbackURL) == "" || r.secretValue() == "" {
		return ResultFailed, errors.New("eventsub: callback URL and secret are required")
	}
	token := r.appToken()
	if token == "" {
		return ResultFailed, ErrNoAppToken
	}

	ctx, cancel := r.boundCtx(ctx)
	defer cancel()

	existing, err := r.listRemote(ctx, token)
	if err != nil {
		return ResultFailed, fmt.Errorf("eventsub: list subscriptions: %w", err)
	}
	for _, sub := range existing {
		if sub.Type != subType || sub.Status != "enabled" {
			continue
		}
		if sub.Condition[conditionKey(subType)] != subjectID {
			continue
		}
		r.remember(core.Subscription{
			ID:        sub.ID,
			Type:      sub.Type,
			Version:   sub.Version,
			Status:    core.SubEnabled,
			Condition: sub.Condition,
			CreatedAt: sub.CreatedAt,
		}, subjectID)
		return ResultAlreadyPresent, nil
	}

	return r.createWithFallback(ctx, token, subType, subjectID)
}

// RecreateSubscription deletes every remote subscription for (subType,
// subjectID) and registers a fresh one. This is the recovery path after a
// secret rotation: an existing subscription keeps signing with the secret it
// was created with, so matching it enabled is not enough. It has to be torn
// down and re-created so the transport carries the current secret.
func (r *Registrar) RecreateSubscription(ctx context.Context, subType, subjectID string) (EnsureResult, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return ResultFailed, errors.New("eventsub: empty subject id")
	}
	if strings.TrimSpace(r.CallbackURL) == "" || r.secretValue() == "" {
		return ResultFailed, errors.New("eventsub: callback URL and secret are required")
	}
	token := r.appToken()
	if token == "" {
		return ResultFailed, ErrNoAppToken
	}

	ctx, cancel := r.boundCtx(ctx)
	defer cancel()

	existing, err := r.listRemote(ctx, token)
	if err != nil {
		return ResultFailed, fmt.Errorf("eventsub: list subscriptions: %w", err)
	}
	for _, sub := range existing {
		if sub.Type != subType || sub.Condition[conditionKey(subType)] != subjectID {
			continue
		}
		if err := r.deleteRemote(ctx, token, sub.ID); err != nil {
			return ResultFailed, fmt.Errorf("eventsub: delete subscription %s: %w", sub.ID, err)
		}
		slog.Info("eventsub: deleted subscription for recreate", "type", subType, "id", sub.ID)
	}

	return r.createWithFallback(ctx, token, subType, subjectID)
}

// MarkRevoked transitions the tracked subscription matching the delivery's
// type and condition to revoked. Repeats are idempotent; revoked
// subscriptions are never resurrected automatically.
func (r *Registrar) MarkRevoked(subType string, condition map[string]string) {
	subjectID := condition[conditionKey(subType)]
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.local[localKey(subType, subjectID)]
	if !ok {
		return
	}
	sub.Status = core.SubRevoked
	r.local[localKey(subType, subjectID)] = sub
}

// Snapshot returns the locally tracked subscriptions.
func (r *Registrar) Snapshot() []core.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Subscription, 0, len(r.local))
	for _, sub := range r.local {
		out = append(out, sub)
	}
	return out
}

func (r *Registrar) createWithFallback(ctx context.Context, token, subType, subjectID string) (EnsureResult, error) {
	var lastErr error
	for _, cand := range candidatesFor(subType) {
		condition := cand.condition(subjectID, r.ModeratorID)
		created, err := r.createRemote(ctx, token, subType, cand.version, condition)
		if err != nil {
			lastErr = err
			slog.Error("eventsub: create subscription", "type", subType,
				"version", cand.version, "err", err)
			continue
		}
		created.Condition = condition
		r.remember(created, subjectID)
		return ResultCreated, nil
	}
	return ResultFailed, fmt.Errorf("eventsub: create %s subscription: %w", subType, lastErr)
}

func (r *Registrar) remember(sub core.Subscription, subjectID string) {
	r.mu.Lock()
	r.local[localKey(sub.Type, subjectID)] = sub
	r.mu.Unlock()
}

func (r *Registrar) appToken() string {
	if r.Tokens == nil {
		return ""
	}
	return strings.TrimSpace(r.Tokens.CurrentToken(core.TierApp))
}

func (r *Registrar) secretValue() string {
	if r.Secret == nil {
		return ""
	}
	return strings.TrimSpace(r.Secret())
}

func (r *Registrar) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, registrarTimeout)
}

type listResponse struct {
	Data       []wireSubscription `json:"data"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
	Total int `json:"total"`
}

func (r *Registrar) listRemote(ctx context.Context, token string) ([]wireSubscription, error) {
	var (
		out    []wireSubscription
		cursor string
	)
	for {
		endpoint := helixSubscriptionsEndpoint
		if cursor != "" {
			endpoint += "?after=" + url.QueryEscape(cursor)
		}
		req, err := r.newRequest(ctx, http.MethodGet, endpoint, nil, token)
		if err != nil {
			return nil, err
		}
		var page listResponse
		if err := r.do(req, http.StatusOK, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
		cursor = page.Pagination.Cursor
		if cursor == "" {
			return out, nil
		}
	}
}

type createRequest struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport struct {
		Method   string `json:"method"`
		Callback string `json:"callback"`
		Secret   string `json:"secret"`
	} `json:"transport"`
}

type createResponse struct {
	Data []wireSubscription `json:"data"`
}

func (r *Registrar) createRemote(ctx context.Context, token, subType, version string, condition map[string]string) (core.Subscription, error) {
	payload := createRequest{
		Type:      subType,
		Version:   version,
		Condition: condition,
	}
	payload.Transport.Method = "webhook"
	payload.Transport.Callback = r.CallbackURL
	payload.Transport.Secret = r.secretValue()

	body, err := json.Marshal(payload)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("encode create request: %w", err)
	}
	req, err := r.newRequest(ctx, http.MethodPost, helixSubscriptionsEndpoint, bytes.NewReader(body), token)
	if err != nil {
		return core.Subscription{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp createResponse
	if err := r.do(req, http.StatusAccepted, &resp); err != nil {
		return core.Subscription{}, err
	}

	sub := core.Subscription{
		Type:      subType,
		Version:   version,
		Status:    core.SubPending,
		CreatedAt: time.Now().UTC(),
	}
	if len(resp.Data) > 0 {
		sub.ID = resp.Data[0].ID
		if resp.Data[0].Status == "enabled" {
			sub.Status = core.SubEnabled
		}
		if !resp.Data[0].CreatedAt.IsZero() {
			sub.CreatedAt = resp.Data[0].CreatedAt
		}
	}
	return sub, nil
}

func (r *Registrar) deleteRemote(ctx context.Context, token, id string) error {
	endpoint := helixSubscriptionsEndpoint + "?id=" + url.QueryEscape(id)
	req, err := r.newRequest(ctx, http.MethodDelete, endpoint, nil, token)
	if err != nil {
		return err
	}
	return r.do(req, http.StatusNoContent, nil)
}

func (r *Registrar) newRequest(ctx context.Context, method, endpoint string, body io.Reader, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Client-Id", r.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (r *Registrar) do(req *http.Request, wantStatus int, out any) error {
	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
