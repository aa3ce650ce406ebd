package twitchauth

import (
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
	"github.com/you/streamalerts/internal/store"
)

var (
	tokenEndpoint    = "https://id.twitch.tv/oauth2/token"
	validateEndpoint = "https://id.twitch.tv/oauth2/validate"
)

const (
	defaultExchangeTimeout = 15 * time.Second
	minRenewInterval       = time.Minute
)

// ErrNoCredential is returned when a tier has no cached credential at all.
var ErrNoCredential = errors.New("twitchauth: no credential for tier")

// AuthError marks a terminal authorization failure (expired or revoked
// refresh token). It is propagated, never retried automatically, so the
// operator flow can prompt re-authorization.
type AuthError struct {
	Tier    core.Tier
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("twitchauth: %s tier authorization failed: %s", e.Tier, e.Message)
}

// RefreshOutcome reports what a Refresh call did for a tier.
type RefreshOutcome string

const (
	OutcomeRefreshed  RefreshOutcome = "refreshed"
	OutcomeReacquired RefreshOutcome = "reacquired"
	OutcomeNothing    RefreshOutcome = "nothing-to-refresh"
)

// Identity is the authenticated subject confirmed after a code exchange.
type Identity struct {
	Login  string `json:"login"`
	UserID string `json:"user_id"`
}

// Manager owns acquisition, renewal, and classification of the three
// credential tiers. The in-memory cache is authoritative; the Store is the
// durability collaborator.
type Manager struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	HTTP         *http.Client
	Store        store.Store
	RenewEvery   time.Duration // 0 derives the cadence from token lifetime

	mu    sync.RWMutex
	creds map[core.Tier]core.Credential
}

func NewManager(clientID, clientSecret, redirectURI string, st store.Store) *Manager {
	m := &Manager{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		Store:        st,
		creds:        make(map[core.Tier]core.Credential),
	}
	m.loadFromStore()
	return m
}

func (m *Manager) loadFromStore() {
	if m.Store == nil {
		return
	}
	records, err := m.Store.List()
	if err != nil {
		slog.Error("twitchauth: load credentials", "err", err)
		return
	}
	for _, rec := range records {
		var cred core.Credential
		if err := json.Unmarshal([]byte(rec.Value), &cred); err != nil {
			slog.Error("twitchauth: decode stored credential", "name", rec.Name, "err", err)
			continue
		}
		cred.Tier = core.Tier(rec.Name)
		cred.UpdatedAt = rec.UpdatedAt
		m.creds[cred.Tier] = cred
	}
}

// CurrentToken returns the cached access value for a tier. It never triggers
// a network call; an empty string means the tier is not authorized yet.
func (m *Manager) CurrentToken(tier core.Tier) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds[tier].Access
}

// Credential returns a copy of the cached credential for a tier.
func (m *Manager) Credential(tier core.Tier) (core.Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[tier]
	return cred, ok
}

// SeedRefreshToken installs a refresh value for a tier without touching the
// access value. Used to bootstrap from configuration before the first renew.
func (m *Manager) SeedRefreshToken(tier core.Tier, refresh string) {
	refresh = strings.TrimSpace(refresh)
	if refresh == "" {
		return
	}
	m.mu.Lock()
	cred := m.creds[tier]
	cred.Tier = tier
	cred.Refresh = refresh
	m.creds[tier] = cred
	m.mu.Unlock()
}

// ExchangeCode performs the one-time authorization-code exchange for a tier
// and confirms the authenticated identity. The resulting credential is cached
// and persisted.
func (m *Manager) ExchangeCode(ctx context.Context, tier core.Tier, code string) (Identity, error) {
	if tier == core.TierApp {
		return Identity{}, errors.New("twitchauth: app tier uses client credentials, not a code exchange")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return Identity{}, errors.New("twitchauth: empty authorization code")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", m.RedirectURI)

	tok, err := m.tokenRequest(ctx, tier, form)
	if err != nil {
		return Identity{}, err
	}

	id, err := m.Validate(ctx, tok.AccessToken)
	if err != nil {
		return Identity{}, fmt.Errorf("twitchauth: confirm identity: %w", err)
	}

	m.install(tier, tok)
	slog.Info("twitchauth: authorized tier", "tier", tier, "login", id.Login,
		"token", tokenPreview(tok.AccessToken))
	return id, nil
}

// AcquireApp obtains a fresh app token via the client-credentials grant.
// Client-credentials tokens carry no refresh value; the whole token is
// reacquired on each renewal.
func (m *Manager) AcquireApp(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	tok, err := m.tokenRequest(ctx, core.TierApp, form)
	if err != nil {
		return err
	}
	m.install(core.TierApp, tok)
	slog.Info("twitchauth: acquired app token", "token", tokenPreview(tok.AccessToken),
		"expires_in", tok.ExpiresIn)
	return nil
}

// Refresh renews a tier. The app tier is reacquired wholesale; user and chat
// tiers exchange their stored refresh value. A tier without a refresh value
// is a no-op, not an error, since not all tiers use refresh tokens.
func (m *Manager) Refresh(ctx context.Context, tier core.Tier) (RefreshOutcome, error) {
	if tier == core.TierApp {
		if err := m.AcquireApp(ctx); err != nil {
			return "", err
		}
		return OutcomeReacquired, nil
	}

	m.mu.RLock()
	refresh := m.creds[tier].Refresh
	m.mu.RUnlock()

	if refresh == "" {
		return OutcomeNothing, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refresh)

	tok, err := m.tokenRequest(ctx, tier, form)
	if err != nil {
		return "", err
	}
	if tok.RefreshToken == "" {
		// Provider kept the old refresh value; carry it forward.
		tok.RefreshToken = refresh
	}
	m.install(tier, tok)
	slog.Info("twitchauth: refreshed tier", "tier", tier, "token", tokenPreview(tok.AccessToken))
	return OutcomeRefreshed, nil
}

// Validate confirms an access token against the user-info endpoint and
// returns the authenticated identity.
func (m *Manager) Validate(ctx context.Context, access string) (Identity, error) {
	reqCtx, cancel := ensureTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, validateEndpoint, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("twitchauth: create validate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+access)

	resp, err := m.client().Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("twitchauth: validate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("twitchauth: validate status %d", resp.StatusCode)
	}
	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, fmt.Errorf("twitchauth: decode validate response: %w", err)
	}
	if id.Login == "" {
		return Identity{}, errors.New("twitchauth: validate returned no login")
	}
	return id, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`

	Status    int    `json:"status"`
	Message   string `json:"message"`
	ErrorName string `json:"error"`
	ErrorDesc string `json:"error_description"`
}

func (m *Manager) tokenRequest(ctx context.Context, tier core.Tier, form url.Values) (tokenResponse, error) {
	clientID := strings.TrimSpace(m.ClientID)
	clientSecret := strings.TrimSpace(m.ClientSecret)
	if clientID == "" || clientSecret == "" {
		return tokenResponse{}, errors.New("twitchauth: client credentials not configured")
	}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	reqCtx, cancel := ensureTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("twitchauth: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client().Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("twitchauth: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("twitchauth: read token response: %w", err)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return tokenResponse{}, fmt.Errorf("twitchauth: decode token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(parsed.Message)
		if msg == "" {
			msg = strings.TrimSpace(parsed.ErrorDesc)
		}
		if msg == "" {
			msg = strings.TrimSpace(parsed.ErrorName)
		}
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return tokenResponse{}, &AuthError{Tier: tier, Message: msg}
		}
		return tokenResponse{}, fmt.Errorf("twitchauth: token endpoint: %s", msg)
	}

	if strings.TrimSpace(parsed.AccessToken) == "" {
		return tokenResponse{}, errors.New("twitchauth: token endpoint returned empty access token")
	}
	return parsed, nil
}

// install replaces the cached credential for a tier and persists it. The
// cache stays authoritative for this process even when persistence fails.
func (m *Manager) install(tier core.Tier, tok tokenResponse) {
	cred := core.Credential{
		Tier:      tier,
		Access:    strings.TrimSpace(tok.AccessToken),
		Refresh:   strings.TrimSpace(tok.RefreshToken),
		UpdatedAt: time.Now().UTC(),
	}
	if tok.ExpiresIn > 0 {
		cred.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second).UTC()
	}

	m.mu.Lock()
	m.creds[tier] = cred
	m.mu.Unlock()

	if m.Store == nil {
		return
	}
	value, err := json.Marshal(cred)
	if err != nil {
		slog.Error("twitchauth: encode credential", "tier", tier, "err", err)
		return
	}
	if err := m.Store.Put(string(tier), string(value)); err != nil {
		slog.Error("twitchauth: persist credential", "tier", tier, "err", err)
	}
}

func (m *Manager) client() *http.Client {
	if m.HTTP != nil {
		return m.HTTP
	}
	return http.DefaultClient
}

func ensureTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), defaultExchangeTimeout)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultExchangeTimeout)
}

// tokenPreview returns a bounded prefix safe for diagnostics. Stored values
// are never logged in full.
func tokenPreview(token string) string {
	token = strings.TrimSpace(token)
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "..."
}
