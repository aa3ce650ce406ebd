package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// EventSub delivery headers.
const (
	HeaderMessageID   = "Twitch-Eventsub-Message-Id"
	HeaderTimestamp   = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageType = "Twitch-Eventsub-Message-Type"
	HeaderSignature   = "Twitch-Eventsub-Message-Signature"
)

const signaturePrefix = "sha256="

// VerifySignature checks a delivery's authenticity. The digest input is
// messageID || timestamp || rawBody over the exact bytes received; callers
// must never re-serialize the body before verifying. Fails closed: a missing
// header or unset secret is not authentic.
func VerifySignature(secret, messageID, timestamp string, body []byte, received string) bool {
	if secret == "" || messageID == "" || timestamp == "" || received == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(received))
}
