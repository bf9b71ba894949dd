package client

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kue-app/backend/internal/api/handlers"
	"github.com/kue-app/backend/internal/logger"
)

var (
	// ErrNoProfile is returned when no profile is selected.
	ErrNoProfile = errors.New("client: no profile selected")
	// ErrAlreadyBilled is returned for Generate on text that was already billed.
	ErrAlreadyBilled = errors.New("client: text already billed, regenerate instead")
	// ErrNotBilled is returned for Regenerate on text that was never billed.
	ErrNotBilled = errors.New("client: nothing to regenerate for this text")
	// ErrStaleResponse is returned when the profile or session changed while
	// the request was in flight. The response was not applied.
	ErrStaleResponse = errors.New("client: response for an abandoned session")
)

// API is the subset of Client the arbiter needs.
type API interface {
	Balance(ctx context.Context) (*handlers.BalanceView, error)
	Generate(ctx context.Context, req handlers.GenerateRequest) (*handlers.GenerateResponse, error)
	Stream(ctx context.Context, fn func(handlers.BalanceView)) error
}

// UpgradePrompter is shown the balance when a billable generation is refused.
type UpgradePrompter interface {
	PromptUpgrade(ctx context.Context, balance handlers.BalanceView)
}

// Tone selects the reply voice. Custom is used only with the custom tone.
type Tone struct {
	Name   string
	Custom string
}

// Arbiter runs generation requests against the API and keeps a QuotaView in
// step with the results and with the live balance stream.
type Arbiter struct {
	api      API
	view     *QuotaView
	prompter UpgradePrompter
	log      zerolog.Logger
}

// NewArbiter creates an arbiter. prompter may be nil.
func NewArbiter(api API, view *QuotaView, prompter UpgradePrompter) *Arbiter {
	return &Arbiter{
		api:      api,
		view:     view,
		prompter: prompter,
		log:      logger.Component("arbiter"),
	}
}

// View returns the arbiter's quota view.
func (a *Arbiter) View() *QuotaView {
	return a.view
}

// Refresh fetches the authoritative balance and reconciles it.
func (a *Arbiter) Refresh(ctx context.Context) error {
	b, err := a.api.Balance(ctx)
	if err != nil {
		return err
	}
	a.view.Reconcile(*b)
	return nil
}

// Watch reconciles every pushed balance until ctx ends or the stream fails.
func (a *Arbiter) Watch(ctx context.Context) error {
	return a.api.Stream(ctx, func(b handlers.BalanceView) {
		if !a.view.Reconcile(b) {
			a.log.Debug().Int64("version", b.Version).Msg("ignored stale balance push")
		}
	})
}

// RequestGeneration asks for replies to text. A quota rejection, advisory or
// from the server, goes to the upgrade prompt and leaves the view unchanged,
// as does any other failure.
func (a *Arbiter) RequestGeneration(ctx context.Context, text string, tone Tone, isRegeneration bool) (*handlers.GenerateResponse, error) {
	ticket := a.view.Ticket()
	if ticket.ProfileID == "" {
		return nil, ErrNoProfile
	}

	a.view.SetInput(text)
	snap := a.view.Snapshot()
	switch {
	case isRegeneration && !snap.CanRegenerate:
		return nil, ErrNotBilled
	case !isRegeneration && snap.State == Billed:
		return nil, ErrAlreadyBilled
	case !isRegeneration && !snap.CanGenerate:
		a.promptUpgrade(ctx, handlers.BalanceView{
			CreditsRemaining: snap.Credits,
			IsPro:            snap.IsPro,
			NextRefillAt:     snap.NextRefillAt,
			Version:          snap.Version,
		})
		return nil, ErrQuotaExceeded
	}

	resp, err := a.api.Generate(ctx, handlers.GenerateRequest{
		Message:        text,
		ProfileID:      ticket.ProfileID,
		Tone:           tone.Name,
		CustomTone:     tone.Custom,
		IsRegeneration: isRegeneration,
		RequestID:      uuid.New().String(),
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				if b, ok := apiErr.Balance(); ok {
					a.view.Reconcile(b)
					a.promptUpgrade(ctx, b)
					return nil, err
				}
			}
			a.promptUpgrade(ctx, handlers.BalanceView{})
		}
		return nil, err
	}

	if !a.view.IsCurrent(ticket) {
		a.log.Debug().Str("request_id", resp.RequestID).Msg("discarding response for abandoned session")
		// The balance is still authoritative.
		a.view.Reconcile(resp.Credits)
		return nil, ErrStaleResponse
	}

	a.view.ApplyGenerationResult(text, isRegeneration, resp.Credits)
	return resp, nil
}

func (a *Arbiter) promptUpgrade(ctx context.Context, b handlers.BalanceView) {
	if a.prompter != nil {
		a.prompter.PromptUpgrade(ctx, b)
	}
}
