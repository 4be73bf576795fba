package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Shopify webhook headers.
const (
	// HeaderSignature carries the base64 HMAC-SHA256 of the raw request body.
	HeaderSignature = "X-Shopify-Hmac-Sha256"
	// HeaderWebhookID uniquely identifies one delivery attempt's payload;
	// redeliveries of the same event reuse it.
	HeaderWebhookID = "X-Shopify-Webhook-Id"
)

// VerifySignature checks the webhook signature: the base64-encoded
// HMAC-SHA256 of the raw body under the shared secret, compared in constant
// time.
func VerifySignature(secret, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	computed := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(signature))
}
