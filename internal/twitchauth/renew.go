package twitchauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/you/streamalerts/internal/core"
)

// StartAuto launches one renewal loop per tier. The app tier is reacquired
// wholesale, user and chat tiers use their stored refresh values. Transient
// failures keep the previous cached value and are retried on the next tick;
// authorization failures stop the loop for that tier and are reported through
// onAuthError so the operator can re-authorize.
func (m *Manager) StartAuto(ctx context.Context, onUpdate func(tier core.Tier, access string), onAuthError func(error)) {
	if onUpdate == nil {
		onUpdate = func(core.Tier, string) {}
	}
	if onAuthError == nil {
		onAuthError = func(err error) { slog.Error("twitchauth: renewal", "err", err) }
	}
	for _, tier := range core.Tiers {
		go m.renewLoop(ctx, tier, onUpdate, onAuthError)
	}
}

func (m *Manager) renewLoop(ctx context.Context, tier core.Tier, onUpdate func(core.Tier, string), onAuthError func(error)) {
	timer := time.NewTimer(m.renewInterval(tier))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		outcome, err := m.Refresh(ctx, tier)
		switch {
		case err == nil:
			if outcome != OutcomeNothing {
				onUpdate(tier, m.CurrentToken(tier))
			}
		case ctx.Err() != nil:
			return
		default:
			var authErr *AuthError
			if errors.As(err, &authErr) {
				onAuthError(authErr)
				return
			}
			// Transient failure: the previous value stays cached and the
			// tick cadence itself throttles the retry.
			slog.Error("twitchauth: renew failed", "tier", tier, "err", err)
		}

		timer.Reset(m.renewInterval(tier))
	}
}

// renewInterval picks the renewal cadence for a tier: the configured fixed
// interval if set, otherwise three quarters of the credential's remaining
// stated lifetime, floored at one minute.
func (m *Manager) renewInterval(tier core.Tier) time.Duration {
	if m.RenewEvery > 0 {
		return m.RenewEvery
	}

	m.mu.RLock()
	expiresAt := m.creds[tier].ExpiresAt
	m.mu.RUnlock()

	if expiresAt.IsZero() {
		return time.Hour
	}
	remaining := time.Until(expiresAt)
	next := time.Duration(float64(remaining) * 0.75)
	if next < minRenewInterval {
		next = minRenewInterval
	}
	return next
}
