package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Razorpay-Signature"

// EventPaymentCaptured is the only event that confirms an order.
const EventPaymentCaptured = "payment.captured"

// ErrInvalidSignature is returned for a missing or mismatching signature.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body in constant time.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Event is the subset of a webhook payload the checkout needs.
type Event struct {
	Event     string
	PaymentID string
	OrderID   string
}

// ParseWebhook extracts the event name and payload.payment.entity ids.
func ParseWebhook(body []byte) (*Event, error) {
	var ev Event
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := d.Str()
			ev.Event = v
			return err
		case "payload":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "payment" {
					return d.Skip()
				}
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "entity" {
						return d.Skip()
					}
					return d.Obj(func(d *jx.Decoder, key string) error {
						switch key {
						case "id":
							v, err := d.Str()
							ev.PaymentID = v
							return err
						case "order_id":
							if d.Next() == jx.Null {
								return d.Null()
							}
							v, err := d.Str()
							ev.OrderID = v
							return err
						default:
							return d.Skip()
						}
					})
				})
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode webhook")
	}
	return &ev, nil
}
