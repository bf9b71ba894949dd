package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Webhook event names that grant Pro.
const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
)

// ErrMalformedEvent is returned for a verified body that is not a Razorpay event.
var ErrMalformedEvent = errors.New("payment: malformed webhook event")

// Event is the subset of a Razorpay webhook the API reads.
type Event struct {
	Event     string `json:"event"`
	AccountID string `json:"account_id"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity Entity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity Entity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// Entity covers the fields shared by payment and order entities.
type Entity struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Email    string `json:"email"`
	Notes    Notes  `json:"notes"`
}

// Notes are the key/value pairs attached at order creation. Razorpay sends
// an empty array instead of an object when there are none.
type Notes map[string]string

// UnmarshalJSON accepts an object or an empty array.
func (n *Notes) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "[]" || trimmed == "null" {
		*n = Notes{}
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(Notes, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		} else if v != nil {
			out[k] = fmt.Sprint(v)
		}
	}
	*n = out
	return nil
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.Event == "" {
		return nil, ErrMalformedEvent
	}
	return &evt, nil
}

// GrantsPro reports whether the event completes a purchase.
func (e *Event) GrantsPro() bool {
	return e.Event == EventPaymentCaptured || e.Event == EventOrderPaid
}

// Buyer returns the user id and email recorded on the payment, falling back
// to the order entity.
func (e *Event) Buyer() (userID, email string) {
	for _, ent := range e.entities() {
		if userID == "" {
			userID = strings.TrimSpace(ent.Notes["user_id"])
		}
		if email == "" {
			email = strings.TrimSpace(ent.Email)
		}
		if email == "" {
			email = strings.TrimSpace(ent.Notes["email"])
		}
	}
	return userID, email
}

// FallbackID identifies the event when the delivery header is missing.
func (e *Event) FallbackID() string {
	for _, ent := range e.entities() {
		if ent.ID != "" {
			return e.Event + ":" + ent.ID
		}
	}
	return ""
}

func (e *Event) entities() []Entity {
	var out []Entity
	if e.Payload.Payment != nil {
		out = append(out, e.Payload.Payment.Entity)
	}
	if e.Payload.Order != nil {
		out = append(out, e.Payload.Order.Entity)
	}
	return out
}
