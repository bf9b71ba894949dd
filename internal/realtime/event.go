// Package realtime carries balance-changed events from the credit ledger to
// subscribed clients.
package realtime

import (
	"context"
	"time"

	"github.com/kue-app/backend/internal/credits"
)

// BalanceEvent is published whenever a credit account row changes.
type BalanceEvent struct {
	UserID       string          `json:"user_id"`
	Credits      credits.Balance `json:"credits_remaining"`
	IsPro        bool            `json:"is_pro"`
	NextRefillAt time.Time       `json:"next_refill_at"`
	Version      int64           `json:"version"`
}

// EventFromAccount snapshots an account into an event.
func EventFromAccount(acc credits.Account) BalanceEvent {
	return BalanceEvent{
		UserID:       acc.UserID,
		Credits:      acc.Credits,
		IsPro:        acc.IsPro,
		NextRefillAt: acc.NextRefillAt,
		Version:      acc.Version,
	}
}

// Broker fans balance events out to subscribers keyed by user id.
type Broker interface {
	Publish(ctx context.Context, evt BalanceEvent) error
	// Subscribe returns a channel of events for userID and a function that
	// ends the subscription. The channel is closed once the subscription ends
	// or ctx is cancelled.
	Subscribe(ctx context.Context, userID string) (<-chan BalanceEvent, func(), error)
}

// LedgerPublisher adapts a Broker to the ledger's publisher hook.
type LedgerPublisher struct {
	broker Broker
}

var _ credits.Publisher = (*LedgerPublisher)(nil)

// NewLedgerPublisher creates a publisher that forwards account changes to broker.
func NewLedgerPublisher(broker Broker) *LedgerPublisher {
	return &LedgerPublisher{broker: broker}
}

// PublishBalance implements credits.Publisher.
func (p *LedgerPublisher) PublishBalance(ctx context.Context, acc credits.Account) error {
	return p.broker.Publish(ctx, EventFromAccount(acc))
}

func channelFor(userID string) string {
	return "credits:" + userID
}

// offer delivers evt to a buffered channel of size one. An unread event is
// replaced only by one with an equal or higher version, so publishes that
// arrive out of order never hide the newest balance from a slow reader.
func offer(ch chan BalanceEvent, evt BalanceEvent) {
	for {
		select {
		case ch <- evt:
			return
		default:
		}
		select {
		case pending := <-ch:
			if pending.Version > evt.Version {
				evt = pending
			}
		default:
		}
	}
}
