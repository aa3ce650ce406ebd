package eventsub

import (
	"encoding/json"
	"time"

	"github.com/you/streamalerts/internal/core"
)

// Normalize maps one notification body to at most one canonical AlertEvent.
// Dispatch is keyed on the subscription's type, not the payload shape, since
// payload shape varies across versions while the type drives semantics.
// Malformed but partially-present payloads still yield a best-effort event.
func Normalize(sub wireSubscription, raw json.RawMessage) (core.AlertEvent, bool) {
	var ev eventPayload
	// Decode errors are deliberately ignored: fields that did decode still
	// feed a best-effort alert, the rest stay at their defaults.
	_ = json.Unmarshal(raw, &ev)

	now := time.Now().UTC()

	switch sub.Type {
	case TypeFollow:
		followedAt := now
		if t, err := time.Parse(time.RFC3339Nano, ev.FollowedAt); err == nil {
			followedAt = t.UTC()
		}
		return core.AlertEvent{
			Kind:       core.KindFollow,
			Actor:      displayName(ev.UserName, ev.UserLogin),
			At:         now,
			FollowedAt: followedAt,
		}, true

	case TypeSubscribe:
		return core.AlertEvent{
			Kind:       core.KindSubscription,
			Actor:      displayName(ev.UserName, ev.UserLogin),
			At:         now,
			TierLabel:  tierLabel(ev.Tier),
			MonthCount: 1,
		}, true

	case TypeSubscriptionGift:
		actor := displayName(ev.UserName, ev.UserLogin)
		if ev.IsAnonymous {
			actor = core.AnonymousActor
		}
		return core.AlertEvent{
			Kind:       core.KindSubscription,
			Actor:      actor,
			At:         now,
			TierLabel:  tierLabel(ev.Tier),
			MonthCount: 1,
			IsGift:     true,
		}, true

	case TypeSubscriptionMessage:
		months := ev.CumulativeMonths
		if months <= 0 {
			months = 1
		}
		return core.AlertEvent{
			Kind:       core.KindSubscription,
			Actor:      displayName(ev.UserName, ev.UserLogin),
			At:         now,
			TierLabel:  tierLabel(ev.Tier),
			MonthCount: months,
		}, true

	case TypeRaid:
		return core.AlertEvent{
			Kind:        core.KindRaid,
			Actor:       displayName(ev.FromBroadcasterUserName, ev.FromBroadcasterUserLogin),
			At:          now,
			ViewerCount: ev.Viewers,
		}, true

	case TypeCheer:
		actor := displayName(ev.UserName, ev.UserLogin)
		if ev.IsAnonymous {
			actor = core.AnonymousActor
		}
		return core.AlertEvent{
			Kind:     core.KindCheer,
			Actor:    actor,
			At:       now,
			BitCount: ev.Bits,
		}, true
	}

	return core.AlertEvent{}, false
}

// displayName prefers the human display name and falls back to the machine
// login handle.
func displayName(name, login string) string {
	if name != "" {
		return name
	}
	return login
}

// tierLabel maps Twitch's numeric tier codes to presentation labels.
func tierLabel(tier string) string {
	switch tier {
	case "2000":
		return "Tier 2"
	case "3000":
		return "Tier 3"
	default:
		return "Tier 1"
	}
}
