package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kue-app/backend/internal/credits"
	"github.com/kue-app/backend/internal/logger"
	"github.com/kue-app/backend/internal/models"
	"github.com/kue-app/backend/internal/repository"
)

// Outcome says what a verified delivery did.
type Outcome string

const (
	OutcomeUpgraded    Outcome = "upgraded"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeUnknownUser Outcome = "unknown_user"
)

// Upgrader grants Pro. credits.Ledger satisfies it.
type Upgrader interface {
	UpgradeToPro(ctx context.Context, userID string) (credits.Account, error)
}

// UserLookup resolves a payment email to a user.
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// WebhookProcessor verifies, deduplicates and applies Razorpay webhooks.
type WebhookProcessor struct {
	secret   string
	events   EventStore
	users    UserLookup
	upgrader Upgrader
	now      func() time.Time
	log      zerolog.Logger
}

// NewWebhookProcessor creates a processor.
func NewWebhookProcessor(secret string, events EventStore, users UserLookup, upgrader Upgrader) *WebhookProcessor {
	return &WebhookProcessor{
		secret:   secret,
		events:   events,
		users:    users,
		upgrader: upgrader,
		now:      time.Now,
		log:      logger.Component("webhook"),
	}
}

// Handle processes one delivery. Nothing is read from body before the
// signature checks out. deliveryID is the X-Razorpay-Event-Id header and may
// be empty.
func (p *WebhookProcessor) Handle(ctx context.Context, body []byte, signature, deliveryID string) (Outcome, error) {
	if err := VerifySignature(body, signature, p.secret); err != nil {
		p.log.Warn().Int("bytes", len(body)).Msg("rejected webhook with invalid signature")
		return "", err
	}

	evt, err := ParseEvent(body)
	if err != nil {
		return "", err
	}

	id := deliveryID
	if id == "" {
		id = evt.FallbackID()
	}

	if id != "" {
		seen, err := p.events.Seen(ctx, id)
		if err != nil {
			return "", err
		}
		if seen {
			p.log.Info().Str("event_id", id).Str("event", evt.Event).Msg("duplicate webhook delivery")
			return OutcomeDuplicate, nil
		}
	}

	outcome, err := p.apply(ctx, evt)
	if err != nil {
		return "", err
	}

	// Recorded only after success so a failed upgrade is retried on redelivery.
	if id != "" {
		if err := p.events.Record(ctx, id, evt.Event, p.now().UTC()); err != nil {
			p.log.Warn().Err(err).Str("event_id", id).Msg("failed to record webhook delivery")
		}
	}
	return outcome, nil
}

func (p *WebhookProcessor) apply(ctx context.Context, evt *Event) (Outcome, error) {
	if !evt.GrantsPro() {
		p.log.Debug().Str("event", evt.Event).Msg("ignoring webhook event")
		return OutcomeIgnored, nil
	}

	userID, email := evt.Buyer()
	if userID == "" && email != "" {
		u, err := p.users.GetByEmail(ctx, email)
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
		case err != nil:
			return "", fmt.Errorf("failed to resolve payer: %w", err)
		default:
			userID = u.ID
		}
	}
	if userID == "" {
		p.log.Warn().Str("event", evt.Event).Str("payment", evt.FallbackID()).Msg("payment for unknown user")
		return OutcomeUnknownUser, nil
	}

	if _, err := p.upgrader.UpgradeToPro(ctx, userID); err != nil {
		return "", fmt.Errorf("failed to upgrade user: %w", err)
	}
	p.log.Info().Str("user_id", userID).Str("event", evt.Event).Msg("payment captured, user upgraded")
	return OutcomeUpgraded, nil
}
