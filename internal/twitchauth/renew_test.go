package twitchauth

import (
	"testing"
	"time"

	"github.com/you/streamalerts/internal/core"
	"github.com/you/streamalerts/internal/store"
)

func TestRenewIntervalFixedOverride(t *testing.T) {
	m := NewManager("cid", "secret", "", store.NewMemoryStore())
	m.RenewEvery = 5 * time.Minute
	if got := m.renewInterval(core.TierUser); got != 5*time.Minute {
		t.Fatalf("interval = %v", got)
	}
}

func TestRenewIntervalDerivedFromLifetime(t *testing.T) {
	m := NewManager("cid", "secret", "", store.NewMemoryStore())

	// No expiry known: fall back to an hourly check.
	if got := m.renewInterval(core.TierUser); got != time.Hour {
		t.Fatalf("interval without expiry = %v", got)
	}

	m.mu.Lock()
	m.creds[core.TierUser] = core.Credential{
		Tier:      core.TierUser,
		Access:    "a",
		ExpiresAt: time.Now().Add(4 * time.Hour),
	}
	m.mu.Unlock()

	got := m.renewInterval(core.TierUser)
	if got < 2*time.Hour+50*time.Minute || got > 3*time.Hour {
		t.Fatalf("interval = %v; want about three quarters of 4h", got)
	}

	// Nearly-expired credentials still wait at least the floor.
	m.mu.Lock()
	m.creds[core.TierUser] = core.Credential{
		Tier:      core.TierUser,
		Access:    "a",
		ExpiresAt: time.Now().Add(2 * time.Second),
	}
	m.mu.Unlock()
	if got := m.renewInterval(core.TierUser); got != minRenewInterval {
		t.Fatalf("floored interval = %v", got)
	}
}
