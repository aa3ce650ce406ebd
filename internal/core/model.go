package core

import "time"

// Kind classifies a canonical alert.
type Kind string

const (
	KindFollow       Kind = "follow"
	KindSubscription Kind = "subscription"
	KindRaid         Kind = "raid"
	KindCheer        Kind = "cheer"
)

// AnonymousActor is the sentinel display name used when the upstream event
// marks the acting user as anonymous.
const AnonymousActor = "Anonymous"

// AlertEvent is the normalized, presentation-agnostic alert delivered to
// overlay clients. It is immutable once constructed.
type AlertEvent struct {
	Kind  Kind      `json:"kind"`
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`

	// Subscription alerts.
	TierLabel  string `json:"tier_label,omitempty"`
	MonthCount int    `json:"month_count,omitempty"`
	IsGift     bool   `json:"is_gift,omitempty"`

	// Raid alerts.
	ViewerCount int `json:"viewer_count,omitempty"`

	// Cheer alerts.
	BitCount int `json:"bit_count,omitempty"`

	// Follow alerts.
	FollowedAt time.Time `json:"followed_at,omitempty"`
}

// Tier identifies a credential class: app (client-credentials), user
// (broadcaster OAuth), chat (bot account OAuth).
type Tier string

const (
	TierApp  Tier = "app"
	TierUser Tier = "user"
	TierChat Tier = "chat"
)

// Tiers lists every credential tier in renewal order.
var Tiers = []Tier{TierApp, TierUser, TierChat}

// Credential is one stored token set for a tier. At most one live credential
// exists per tier; writes are last-write-wins keyed by tier name.
type Credential struct {
	Tier      Tier
	Access    string
	Refresh   string    // empty for the app tier
	ExpiresAt time.Time // zero when the provider did not report a lifetime
	UpdatedAt time.Time
}

// SubscriptionStatus tracks the lifecycle of a remote event subscription.
type SubscriptionStatus string

const (
	SubPending SubscriptionStatus = "pending"
	SubEnabled SubscriptionStatus = "enabled"
	SubFailed  SubscriptionStatus = "failed"
	SubRevoked SubscriptionStatus = "revoked"
)

// Subscription mirrors one remote EventSub registration.
type Subscription struct {
	ID        string
	Type      string
	Version   string
	Status    SubscriptionStatus
	Condition map[string]string
	CreatedAt time.Time
}
