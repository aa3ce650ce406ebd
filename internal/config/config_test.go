package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, name := range []string{
		"ALERTS_HTTP_ADDR", "ALERTS_HTTP_RATE_RPS", "ALERTS_HTTP_RATE_BURST",
		"ALERTS_HTTP_METRICS", "ALERTS_SQLITE_PATH", "ALERTS_TWITCH_RENEW_MINUTES",
	} {
		t.Setenv(name, "")
	}
	cfg := Load()
	if cfg.HTTP.Addr != defaultHTTPAddr {
		t.Fatalf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.HTTP.RateRPS != defaultRateRPS || cfg.HTTP.RateBurst != defaultRateBurst {
		t.Fatalf("rate = %d/%d", cfg.HTTP.RateRPS, cfg.HTTP.RateBurst)
	}
	if !cfg.HTTP.Metrics {
		t.Fatalf("metrics should default on")
	}
	if cfg.Store.SQLitePath != defaultSQLitePath {
		t.Fatalf("sqlite path = %q", cfg.Store.SQLitePath)
	}
	if cfg.RenewInterval() != 0 {
		t.Fatalf("renew interval = %v; want lifetime-derived", cfg.RenewInterval())
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ALERTS_HTTP_ADDR", " :9999 ")
	t.Setenv("ALERTS_HTTP_CORS_ORIGINS", "https://b.example, https://a.example https://a.example")
	t.Setenv("ALERTS_HTTP_RATE_RPS", "5")
	t.Setenv("ALERTS_HTTP_METRICS", "false")
	t.Setenv("ALERTS_TWITCH_CLIENT_ID", "cid")
	t.Setenv("ALERTS_TWITCH_RENEW_MINUTES", "30")

	cfg := Load()
	if cfg.HTTP.Addr != ":9999" {
		t.Fatalf("addr = %q", cfg.HTTP.Addr)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.HTTP.CORSOrigins, want) {
		t.Fatalf("origins = %v; want deduped and sorted", cfg.HTTP.CORSOrigins)
	}
	if cfg.HTTP.RateRPS != 5 {
		t.Fatalf("rps = %d", cfg.HTTP.RateRPS)
	}
	if cfg.HTTP.Metrics {
		t.Fatalf("metrics should be off")
	}
	if cfg.Twitch.ClientID != "cid" {
		t.Fatalf("client id = %q", cfg.Twitch.ClientID)
	}
	if cfg.RenewInterval() != 30*time.Minute {
		t.Fatalf("renew interval = %v", cfg.RenewInterval())
	}
}

func TestReadIntRejectsGarbage(t *testing.T) {
	t.Setenv("ALERTS_HTTP_RATE_RPS", "not-a-number")
	t.Setenv("ALERTS_HTTP_RATE_BURST", "-3")
	cfg := Load()
	if cfg.HTTP.RateRPS != defaultRateRPS {
		t.Fatalf("rps = %d; want default on parse failure", cfg.HTTP.RateRPS)
	}
	if cfg.HTTP.RateBurst != defaultRateBurst {
		t.Fatalf("burst = %d; want default on negative", cfg.HTTP.RateBurst)
	}
}

func TestWebhookSecretValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret")
	if err := os.WriteFile(path, []byte("  file-secret\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}

	cfg := Config{}
	cfg.Twitch.WebhookSecretFile = path
	got, err := cfg.WebhookSecretValue()
	if err != nil {
		t.Fatalf("WebhookSecretValue: %v", err)
	}
	if got != "file-secret" {
		t.Fatalf("secret = %q; want trimmed file contents", got)
	}

	// Inline value wins over the file.
	cfg.Twitch.WebhookSecret = "inline"
	got, err = cfg.WebhookSecretValue()
	if err != nil || got != "inline" {
		t.Fatalf("secret = %q, %v", got, err)
	}

	// Neither configured is not an error, just empty.
	got, err = Config{}.WebhookSecretValue()
	if err != nil || got != "" {
		t.Fatalf("secret = %q, %v", got, err)
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := Config{}
	cfg.Twitch.ClientSecret = "super-secret-value"
	cfg.Twitch.WebhookSecret = "hmac-secret"
	cfg.Twitch.BroadcasterID = "12345"

	out := string(cfg.RedactedJSON())
	for _, secret := range []string{"super-secret-value", "hmac-secret"} {
		if strings.Contains(out, secret) {
			t.Fatalf("redacted output leaked %q:\n%s", secret, out)
		}
	}
	if !strings.Contains(out, "***REDACTED*** (len=18)") {
		t.Fatalf("missing redaction placeholder:\n%s", out)
	}
	// Non-secret identifiers stay readable.
	if !strings.Contains(out, "12345") {
		t.Fatalf("broadcaster id should not be redacted:\n%s", out)
	}
}
