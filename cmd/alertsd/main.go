package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/you/streamalerts/internal/config"
	"github.com/you/streamalerts/internal/core"
	"github.com/you/streamalerts/internal/eventsub"
	"github.com/you/streamalerts/internal/httpapi"
	"github.com/you/streamalerts/internal/state"
	"github.com/you/streamalerts/internal/store"
	"github.com/you/streamalerts/internal/twitchauth"
	"github.com/you/streamalerts/internal/version"
)

// secretHolder caches the webhook shared secret and supports file-based
// rotation without restarting.
type secretHolder struct {
	mu     sync.RWMutex
	secret string
}

func (h *secretHolder) Current() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.secret
}

func (h *secretHolder) Set(secret string) {
	h.mu.Lock()
	h.secret = strings.TrimSpace(secret)
	h.mu.Unlock()
}

// adminBridge adapts the credential manager and registrar to the operator
// endpoints.
type adminBridge struct {
	manager   *twitchauth.Manager
	registrar *eventsub.Registrar
}

func (a *adminBridge) RefreshTier(ctx context.Context, tier core.Tier) (string, error) {
	outcome, err := a.manager.Refresh(ctx, tier)
	if err != nil {
		return "", err
	}
	return string(outcome), nil
}

func (a *adminBridge) EnsureSubscription(ctx context.Context, subType, subjectID string) (string, error) {
	result, err := a.registrar.EnsureSubscription(ctx, subType, subjectID)
	if err != nil {
		return string(result), err
	}
	return string(result), nil
}

func (a *adminBridge) RecreateSubscription(ctx context.Context, subType, subjectID string) (string, error) {
	result, err := a.registrar.RecreateSubscription(ctx, subType, subjectID)
	if err != nil {
		return string(result), err
	}
	return string(result), nil
}

func (a *adminBridge) Subscriptions() []core.Subscription {
	return a.registrar.Snapshot()
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag     bool
		httpAddr        string
		dbPath          string
		clientID        string
		clientSecret    string
		broadcasterID   string
		botUserID       string
		webhookSecret   string
		webhookFile     string
		callbackURL     string
		redirectURI     string
		corsOrigins     string
		renewMinutes    int
		printConfigFlag bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (e.g., :8710)")
	flag.StringVar(&dbPath, "sqlite", "", "Path to SQLite database file")
	flag.StringVar(&clientID, "twitch-client-id", "", "Twitch application client ID")
	flag.StringVar(&clientSecret, "twitch-client-secret", "", "Twitch application client secret")
	flag.StringVar(&broadcasterID, "twitch-broadcaster-id", "", "Broadcaster subject id to register alerts for")
	flag.StringVar(&botUserID, "twitch-bot-user-id", "", "Bot account subject id (moderator for follow subscriptions)")
	flag.StringVar(&webhookSecret, "webhook-secret", "", "Shared secret for webhook signature verification")
	flag.StringVar(&webhookFile, "webhook-secret-file", "", "Path to file containing the webhook secret")
	flag.StringVar(&callbackURL, "callback-url", "", "Public callback URL registered with EventSub")
	flag.StringVar(&redirectURI, "redirect-uri", "", "OAuth redirect URI for authorization-code exchanges")
	flag.StringVar(&corsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&renewMinutes, "renew-minutes", 0, "Fixed credential renewal cadence in minutes (0 derives from token lifetime)")
	flag.BoolVar(&printConfigFlag, "print-config", false, "Print redacted configuration and exit")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"alertsd version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["sqlite"] {
		cfg.Store.SQLitePath = strings.TrimSpace(dbPath)
	}
	if overrides["twitch-client-id"] {
		cfg.Twitch.ClientID = strings.TrimSpace(clientID)
	}
	if overrides["twitch-client-secret"] {
		cfg.Twitch.ClientSecret = strings.TrimSpace(clientSecret)
	}
	if overrides["twitch-broadcaster-id"] {
		cfg.Twitch.BroadcasterID = strings.TrimSpace(broadcasterID)
	}
	if overrides["twitch-bot-user-id"] {
		cfg.Twitch.BotUserID = strings.TrimSpace(botUserID)
	}
	if overrides["webhook-secret"] {
		cfg.Twitch.WebhookSecret = strings.TrimSpace(webhookSecret)
	}
	if overrides["webhook-secret-file"] {
		cfg.Twitch.WebhookSecretFile = strings.TrimSpace(webhookFile)
	}
	if overrides["callback-url"] {
		cfg.Twitch.CallbackURL = strings.TrimSpace(callbackURL)
	}
	if overrides["redirect-uri"] {
		cfg.Twitch.RedirectURI = strings.TrimSpace(redirectURI)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, o := range strings.Split(corsOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, o)
			}
		}
	}
	if overrides["renew-minutes"] {
		cfg.Twitch.RenewMinutes = renewMinutes
	}

	if printConfigFlag {
		fmt.Println(string(cfg.RedactedJSON()))
		os.Exit(0)
	}

	db, err := store.OpenSQLite(cfg.Store.SQLitePath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	manager := twitchauth.NewManager(cfg.Twitch.ClientID, cfg.Twitch.ClientSecret, cfg.Twitch.RedirectURI, db)
	manager.RenewEvery = cfg.RenewInterval()
	manager.SeedRefreshToken(core.TierUser, cfg.Twitch.UserRefreshToken)
	manager.SeedRefreshToken(core.TierChat, cfg.Twitch.ChatRefreshToken)

	secrets := &secretHolder{}
	if value, err := cfg.WebhookSecretValue(); err != nil {
		log.Printf("webhook secret: %v", err)
	} else {
		secrets.Set(value)
	}
	if cfg.Twitch.WebhookSecretFile != "" {
		reload := func() {
			value, err := cfg.WebhookSecretValue()
			if err != nil {
				slog.Error("webhook secret reload", "err", err)
				return
			}
			secrets.Set(value)
			slog.Info("webhook secret reloaded")
		}
		if err := twitchauth.WatchSecretFiles(reload, cfg.Twitch.WebhookSecretFile); err != nil {
			log.Printf("watch webhook secret: %v", err)
		}
	}

	live := state.NewHolder()
	live.OnChange(func(isLive bool) {
		slog.Info("stream state changed", "live", isLive)
	})

	registrar := eventsub.NewRegistrar(cfg.Twitch.ClientID, manager, cfg.Twitch.CallbackURL, secrets.Current)
	registrar.ModeratorID = cfg.Twitch.BotUserID

	webhook := &eventsub.Handler{
		Secret:  secrets.Current,
		Revoker: registrar,
		Live:    live,
	}

	server := httpapi.New(db, live, httpapi.Options{
		Addr:        cfg.HTTP.Addr,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RateRPS:     cfg.HTTP.RateRPS,
		RateBurst:   cfg.HTTP.RateBurst,
		Metrics:     cfg.HTTP.Metrics,
		Webhook:     webhook,
		Admin:       &adminBridge{manager: manager, registrar: registrar},
		Build: httpapi.BuildInfo{
			Version:  version.Version,
			Revision: version.Commit,
		},
	})
	webhook.Publisher = server
	webhook.Observe = func(messageType, _, outcome string) {
		server.Metrics().ObserveDelivery(messageType, outcome)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Twitch.ClientID != "" && cfg.Twitch.ClientSecret != "" {
		if err := manager.AcquireApp(ctx); err != nil {
			log.Printf("acquire app token: %v", err)
		}
	}

	manager.StartAuto(ctx,
		func(tier core.Tier, _ string) {
			slog.Info("credential renewed", "tier", tier)
		},
		func(err error) {
			server.Metrics().IncRefreshFailures(tierOf(err))
			slog.Error("credential renewal needs re-authorization", "err", err)
		},
	)

	if cfg.Twitch.BroadcasterID != "" && cfg.Twitch.CallbackURL != "" {
		go ensureSubscriptions(ctx, registrar, cfg.Twitch.BroadcasterID)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Printf("http server: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// ensureSubscriptions registers every alert type plus the stream state pair
// for the broadcaster. Failures are logged; the operator endpoint can retry
// individual types later.
func ensureSubscriptions(ctx context.Context, registrar *eventsub.Registrar, broadcasterID string) {
	types := append(append([]string(nil), eventsub.AlertTypes...),
		eventsub.TypeStreamOnline, eventsub.TypeStreamOffline)
	for _, subType := range types {
		if ctx.Err() != nil {
			return
		}
		result, err := registrar.EnsureSubscription(ctx, subType, broadcasterID)
		if err != nil {
			slog.Error("ensure subscription", "type", subType, "err", err)
			continue
		}
		slog.Info("ensure subscription", "type", subType, "result", result)
	}
}

func tierOf(err error) string {
	var authErr *twitchauth.AuthError
	if errors.As(err, &authErr) {
		return string(authErr.Tier)
	}
	return "unknown"
}
