package eventsub

import (
	"encoding/json"
	"time"
)

// Subscription type strings as Twitch names them.
const (
	TypeFollow              = "channel.follow"
	TypeSubscribe           = "channel.subscribe"
	TypeSubscriptionGift    = "channel.subscription.gift"
	TypeSubscriptionMessage = "channel.subscription.message"
	TypeRaid                = "channel.raid"
	TypeCheer               = "channel.cheer"
	TypeStreamOnline        = "stream.online"
	TypeStreamOffline       = "stream.offline"
)

// AlertTypes lists the subscription types that produce overlay alerts.
var AlertTypes = []string{
	TypeFollow,
	TypeSubscribe,
	TypeSubscriptionGift,
	TypeSubscriptionMessage,
	TypeRaid,
	TypeCheer,
}

// Message type header values.
const (
	messageTypeVerification = "webhook_callback_verification"
	messageTypeNotification = "notification"
	messageTypeRevocation   = "revocation"
)

// envelope is the JSON body of any EventSub delivery. Notifications carry
// Subscription + Event, verifications carry Challenge, revocations carry
// only Subscription.
type envelope struct {
	Challenge    string           `json:"challenge"`
	Subscription wireSubscription `json:"subscription"`
	Event        json.RawMessage  `json:"event"`
}

type wireSubscription struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Condition map[string]string `json:"condition"`
	CreatedAt time.Time         `json:"created_at"`
}

// eventPayload is the superset of event fields the normalizer reads. Payload
// shape varies by type and version; absent fields stay zero and the
// normalizer applies documented defaults.
type eventPayload struct {
	UserName  string `json:"user_name"`
	UserLogin string `json:"user_login"`

	// channel.raid names the raiding party differently.
	FromBroadcasterUserName  string `json:"from_broadcaster_user_name"`
	FromBroadcasterUserLogin string `json:"from_broadcaster_user_login"`

	IsAnonymous      bool   `json:"is_anonymous"`
	Tier             string `json:"tier"`
	CumulativeMonths int    `json:"cumulative_months"`
	Viewers          int    `json:"viewers"`
	Bits             int    `json:"bits"`
	FollowedAt       string `json:"followed_at"`
}
