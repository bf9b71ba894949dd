package credits

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/kue-app/backend/internal/logger"
)

// Ledger is the server-side quota arbiter. It delegates persistence to a
// Store and announces every resulting balance change to a Publisher.
type Ledger struct {
	store     Store
	publisher Publisher
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithPublisher sets where balance changes are announced.
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// NewLedger creates a ledger over store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		now:   time.Now,
		log:   logger.Component("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Balance returns the authoritative account, self-healing and refilling it
// as a side effect.
func (l *Ledger) Balance(ctx context.Context, userID string) (Account, error) {
	d, err := l.store.GetOrCreate(ctx, userID, l.now().UTC())
	if err != nil {
		return Account{}, err
	}
	l.announce(ctx, d)
	return d.Account, nil
}

// AuthorizeAndBill decides whether a generation may run and bills it when it
// is a non-regeneration request from a non-pro account.
func (l *Ledger) AuthorizeAndBill(ctx context.Context, userID string, isRegeneration bool) (Decision, error) {
	d, err := l.store.Authorize(ctx, userID, isRegeneration, l.now().UTC())
	if err != nil && !errors.Is(err, ErrQuotaExceeded) {
		return Decision{}, err
	}

	// A rejected call may still have self-healed or refilled the row.
	l.announce(ctx, d)

	if err != nil {
		l.log.Info().Str("user_id", userID).Msg("generation rejected: quota exceeded")
		return d, err
	}

	l.log.Debug().
		Str("user_id", userID).
		Bool("regeneration", isRegeneration).
		Bool("billed", d.Billed).
		Str("credits", d.Account.Credits.String()).
		Msg("generation authorized")
	return d, nil
}

// UpgradeToPro grants unlimited credits.
func (l *Ledger) UpgradeToPro(ctx context.Context, userID string) (Account, error) {
	acc, err := l.store.UpgradeToPro(ctx, userID, l.now().UTC())
	if err != nil {
		return Account{}, err
	}
	l.log.Info().Str("user_id", userID).Msg("account upgraded to pro")
	l.publish(ctx, acc)
	return acc, nil
}

func (l *Ledger) announce(ctx context.Context, d Decision) {
	if d.Mutated() {
		l.publish(ctx, d.Account)
	}
}

func (l *Ledger) publish(ctx context.Context, acc Account) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishBalance(ctx, acc); err != nil {
		l.log.Warn().Err(err).Str("user_id", acc.UserID).Msg("failed to publish balance change")
	}
}
