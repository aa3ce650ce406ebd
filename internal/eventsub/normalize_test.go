package eventsub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/you/streamalerts/internal/core"
)

func TestNormalizeFollow(t *testing.T) {
	sub := wireSubscription{Type: TypeFollow, Version: "2"}
	raw := json.RawMessage(`{"user_name":"Ada","user_login":"ada_l","followed_at":"2023-07-15T17:16:03Z"}`)

	ev, ok := Normalize(sub, raw)
	if !ok {
		t.Fatalf("expected event")
	}
	if ev.Kind != core.KindFollow {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if ev.Actor != "Ada" {
		t.Fatalf("actor = %q", ev.Actor)
	}
	want := time.Date(2023, 7, 15, 17, 16, 3, 0, time.UTC)
	if !ev.FollowedAt.Equal(want) {
		t.Fatalf("followed_at = %v", ev.FollowedAt)
	}
}

func TestNormalizeFollowLoginFallback(t *testing.T) {
	sub := wireSubscription{Type: TypeFollow, Version: "1"}
	ev, ok := Normalize(sub, json.RawMessage(`{"user_login":"ada_l"}`))
	if !ok {
		t.Fatalf("expected event")
	}
	if ev.Actor != "ada_l" {
		t.Fatalf("actor = %q; want login fallback", ev.Actor)
	}
}

func TestNormalizeSubscribe(t *testing.T) {
	cases := []struct {
		tier  string
		label string
	}{
		{"1000", "Tier 1"},
		{"2000", "Tier 2"},
		{"3000", "Tier 3"},
		{"", "Tier 1"},
	}
	for _, c := range cases {
		raw, _ := json.Marshal(map[string]string{"user_name": "Sam", "tier": c.tier})
		ev, ok := Normalize(wireSubscription{Type: TypeSubscribe}, raw)
		if !ok {
			t.Fatalf("tier %q: expected event", c.tier)
		}
		if ev.Kind != core.KindSubscription || ev.TierLabel != c.label {
			t.Fatalf("tier %q: got kind=%q label=%q", c.tier, ev.Kind, ev.TierLabel)
		}
		if ev.MonthCount != 1 || ev.IsGift {
			t.Fatalf("tier %q: months=%d gift=%v", c.tier, ev.MonthCount, ev.IsGift)
		}
	}
}

func TestNormalizeGiftAnonymous(t *testing.T) {
	raw := json.RawMessage(`{"user_name":"Gifter","is_anonymous":true,"tier":"1000"}`)
	ev, ok := Normalize(wireSubscription{Type: TypeSubscriptionGift}, raw)
	if !ok {
		t.Fatalf("expected event")
	}
	if ev.Actor != core.AnonymousActor {
		t.Fatalf("actor = %q; want anonymous sentinel", ev.Actor)
	}
	if !ev.IsGift || ev.MonthCount != 1 {
		t.Fatalf("gift=%v months=%d", ev.IsGift, ev.MonthCount)
	}
}

func TestNormalizeResubMessage(t *testing.T) {
	raw := json.RawMessage(`{"user_name":"Vera","cumulative_months":14,"tier":"2000"}`)
	ev, ok := Normalize(wireSubscription{Type: TypeSubscriptionMessage}, raw)
	if !ok {
		t.Fatalf("expected event")
	}
	if ev.MonthCount != 14 || ev.IsGift {
		t.Fatalf("months=%d gift=%v", ev.MonthCount, ev.IsGift)
	}

	// Absent month count defaults to 1 rather than failing.
	ev, ok = Normalize(wireSubscription{Type: TypeSubscriptionMessage}, json.RawMessage(`{"user_name":"Vera"}`))
	if !ok || ev.MonthCount != 1 {
		t.Fatalf("default months = %d", ev.MonthCount)
	}
}

func TestNormalizeRaid(t *testing.T) {
	raw := json.RawMessage(`{"from_broadcaster_user_name":"Foo","viewers":12}`)
	ev, ok := Normalize(wireSubscription{Type: TypeRaid}, raw)
	if !ok {
		t.Fatalf("expected event")
	}
	if ev.Kind != core.KindRaid || ev.Actor != "Foo" || ev.ViewerCount != 12 {
		t.Fatalf("got kind=%q actor=%q viewers=%d", ev.Kind, ev.Actor, ev.ViewerCount)
	}
}

func TestNormalizeCheer(t *testing.T) {
	raw := json.RawMessage(`{"user_name":"Bitsy","bits":500}`)
	ev, ok := Normalize(wireSubscription{Type: TypeCheer}, raw)
	if !ok {
		t.Fatalf("expected event")
	}
	if ev.Kind != core.KindCheer || ev.Actor != "Bitsy" || ev.BitCount != 500 {
		t.Fatalf("got kind=%q actor=%q bits=%d", ev.Kind, ev.Actor, ev.BitCount)
	}

	ev, _ = Normalize(wireSubscription{Type: TypeCheer}, json.RawMessage(`{"is_anonymous":true,"bits":1}`))
	if ev.Actor != core.AnonymousActor {
		t.Fatalf("anonymous cheer actor = %q", ev.Actor)
	}
}

func TestNormalizeUnknownType(t *testing.T) {
	if _, ok := Normalize(wireSubscription{Type: "channel.poll.begin"}, json.RawMessage(`{}`)); ok {
		t.Fatalf("unknown type should not produce an event")
	}
}

func TestNormalizeMalformedPayload(t *testing.T) {
	// A type mismatch aborts only the offending field; everything that did
	// decode still feeds a best-effort event.
	raw := json.RawMessage(`{"user_name":"Partial","bits":"not-a-number"}`)
	ev, ok := Normalize(wireSubscription{Type: TypeCheer}, raw)
	if !ok {
		t.Fatalf("malformed payload should still yield a best-effort event")
	}
	if ev.Actor != "Partial" || ev.BitCount != 0 {
		t.Fatalf("got actor=%q bits=%d", ev.Actor, ev.BitCount)
	}
}
