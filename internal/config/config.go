package config

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTP   HTTPConfig
	Store  StoreConfig
	Twitch TwitchConfig
}

type HTTPConfig struct {
	Addr        string
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	Metrics     bool
}

type StoreConfig struct {
	SQLitePath string
}

type TwitchConfig struct {
	ClientID          string
	ClientSecret      string
	BroadcasterID     string
	BotUserID         string
	WebhookSecret     string
	WebhookSecretFile string
	CallbackURL       string
	RedirectURI       string
	RenewMinutes      int
	UserRefreshToken  string
	ChatRefreshToken  string
}

const (
	defaultSQLitePath   = "alerts.db"
	defaultHTTPAddr     = ":8710"
	defaultRateRPS      = 20
	defaultRateBurst    = 40
	defaultRenewMinutes = 0 // 0 = derive from reported token lifetime
)

func Load() Config {
	cfg := Config{}

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("ALERTS_HTTP_ADDR"))
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaultHTTPAddr
	}
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("ALERTS_HTTP_CORS_ORIGINS"))
	cfg.HTTP.RateRPS = readInt("ALERTS_HTTP_RATE_RPS", defaultRateRPS)
	cfg.HTTP.RateBurst = readInt("ALERTS_HTTP_RATE_BURST", defaultRateBurst)
	cfg.HTTP.Metrics = readBool("ALERTS_HTTP_METRICS", true)

	cfg.Store.SQLitePath = strings.TrimSpace(os.Getenv("ALERTS_SQLITE_PATH"))
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaultSQLitePath
	}

	cfg.Twitch.ClientID = strings.TrimSpace(os.Getenv("ALERTS_TWITCH_CLIENT_ID"))
	cfg.Twitch.ClientSecret = strings.TrimSpace(os.Getenv("ALERTS_TWITCH_CLIENT_SECRET"))
	cfg.Twitch.BroadcasterID = strings.TrimSpace(os.Getenv("ALERTS_TWITCH_BROADCASTER_ID"))
	cfg.Twitch.BotUserID = strings.TrimSpace(os.Getenv("ALERTS_TWITCH_BOT_USER_ID"))
	cfg.Twitch.WebhookSecret = strings.TrimSpace(os.Getenv("ALERTS_TWITCH_WEBHOOK_SECRET"))
	cfg.Twitch.WebhookSecretFile = strings.TrimSpace(os.Getenv("ALERTS_TWITCH_WEBHOOK_SECRET_FILE"))
	cfg.Twitch.CallbackURL = strings.TrimSpace(os.Getenv("ALERTS_TWITCH_CALLBACK_URL"))
	cfg.Twitch.RedirectURI = strings.TrimSpace(os.Getenv("ALERTS_TWITCH_REDIRECT_URI"))
	cfg.Twitch.RenewMinutes = readInt("ALERTS_TWITCH_RENEW_MINUTES", defaultRenewMinutes)
	cfg.Twitch.UserRefreshToken = strings.TrimSpace(os.Getenv("ALERTS_TWITCH_USER_REFRESH_TOKEN"))
	cfg.Twitch.ChatRefreshToken = strings.TrimSpace(os.Getenv("ALERTS_TWITCH_CHAT_REFRESH_TOKEN"))

	return cfg
}

// WebhookSecretValue resolves the configured shared secret, preferring the
// inline value over the file-based one.
func (c Config) WebhookSecretValue() (string, error) {
	if c.Twitch.WebhookSecret != "" {
		return c.Twitch.WebhookSecret, nil
	}
	if c.Twitch.WebhookSecretFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Twitch.WebhookSecretFile)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (c Config) RenewInterval() time.Duration {
	if c.Twitch.RenewMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Twitch.RenewMinutes) * time.Minute
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// Redacted returns a loggable view of the configuration with all secret
// material replaced by bounded placeholders.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"cors_origins": append([]string(nil), c.HTTP.CORSOrigins...),
			"rate_rps":     c.HTTP.RateRPS,
			"rate_burst":   c.HTTP.RateBurst,
			"metrics":      c.HTTP.Metrics,
		},
		"store": map[string]any{
			"sqlite_path": c.Store.SQLitePath,
		},
		"twitch": map[string]any{
			"client_id":           redactString(c.Twitch.ClientID),
			"client_secret":       redactString(c.Twitch.ClientSecret),
			"broadcaster_id":      c.Twitch.BroadcasterID,
			"bot_user_id":         c.Twitch.BotUserID,
			"webhook_secret":      redactString(c.Twitch.WebhookSecret),
			"webhook_secret_file": c.Twitch.WebhookSecretFile,
			"callback_url":        c.Twitch.CallbackURL,
			"redirect_uri":        c.Twitch.RedirectURI,
			"renew_minutes":       c.Twitch.RenewMinutes,
			"user_refresh_token":  redactString(c.Twitch.UserRefreshToken),
			"chat_refresh_token":  redactString(c.Twitch.ChatRefreshToken),
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
