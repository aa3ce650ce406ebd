package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	const (
		secret    = "s3cret"
		messageID = "84c1e79a-2a4b-4c13-ba0b-4312293e9308"
		timestamp = "2023-07-15T17:16:03.17106713Z"
	)
	// Unicode and key order must not matter: verification runs over the exact
	// raw bytes, never a re-serialized representation.
	body := []byte(`{"event":{"user_name":"Bücher"},"subscription":{"type":"channel.cheer"}}`)

	good := sign(secret, messageID, timestamp, body)
	if !VerifySignature(secret, messageID, timestamp, body, good) {
		t.Fatalf("correct signature rejected")
	}

	mutatedBody := append([]byte(nil), body...)
	mutatedBody[0] ^= 0x01
	if VerifySignature(secret, messageID, timestamp, mutatedBody, good) {
		t.Fatalf("mutated body accepted")
	}
	if VerifySignature(secret, messageID, timestamp+"0", body, good) {
		t.Fatalf("mutated timestamp accepted")
	}
	if VerifySignature(secret, messageID+"x", timestamp, body, good) {
		t.Fatalf("mutated message id accepted")
	}
	if VerifySignature(secret, messageID, timestamp, body, "sha256=deadbeef") {
		t.Fatalf("bogus signature accepted")
	}
}

func TestVerifySignatureFailsClosed(t *testing.T) {
	body := []byte(`{}`)
	sig := sign("s", "id", "ts", body)

	if VerifySignature("", "id", "ts", body, sig) {
		t.Fatalf("unset secret accepted")
	}
	if VerifySignature("s", "", "ts", body, sig) {
		t.Fatalf("missing message id accepted")
	}
	if VerifySignature("s", "id", "", body, sig) {
		t.Fatalf("missing timestamp accepted")
	}
	if VerifySignature("s", "id", "ts", body, "") {
		t.Fatalf("missing signature accepted")
	}
}
