package webhooks

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84/webhook"
)

// Header names sent with every delivery.
const (
	SignatureHeader = "Lumenpay-Signature"
	EventHeader     = "Lumenpay-Event"
	DeliveryHeader  = "Lumenpay-Delivery"
)

// Sign builds the signature header value for payload. The scheme matches
// Stripe's: v1 is the hex HMAC-SHA256 of "<unix>.<payload>" keyed by secret.
func Sign(secret string, payload []byte, at time.Time) string {
	mac := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac))
}
