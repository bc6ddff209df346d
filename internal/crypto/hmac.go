package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Webhook signature headers.
const (
	HeaderWebhookTimestamp = "X-Tradekeeper-Timestamp"
	HeaderWebhookSignature = "X-Tradekeeper-Signature"
)

// WebhookSigner signs outbound webhook bodies as
// hex(HMAC-SHA256(secret, timestamp + "." + body)).
type WebhookSigner struct {
	secret []byte
}

func NewWebhookSigner(secret string) *WebhookSigner {
	return &WebhookSigner{secret: []byte(secret)}
}

// Headers returns the timestamp and signature headers for body.
func (w *WebhookSigner) Headers(body []byte) map[string]string {
	return w.HeadersAt(body, time.Now().Unix())
}

// HeadersAt is Headers with a caller-supplied unix timestamp.
func (w *WebhookSigner) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderWebhookTimestamp: ts,
		HeaderWebhookSignature: w.sign(ts, body),
	}
}

// Verify checks a received signature in constant time.
func (w *WebhookSigner) Verify(ts string, body []byte, sig string) bool {
	return hmac.Equal([]byte(w.sign(ts, body)), []byte(sig))
}

func (w *WebhookSigner) sign(ts string, body []byte) string {
	mac := hmac.New(sha256.New, w.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// String keeps the secret out of logs.
func (w *WebhookSigner) String() string {
	return "WebhookSigner{secret=****}"
}
