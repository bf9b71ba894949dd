package credits

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQuotaExceeded is returned when a non-pro account has no credits left
	// for a billable generation.
	ErrQuotaExceeded = errors.New("credits: quota exceeded")
	// ErrInvalidUser is returned for an empty user id.
	ErrInvalidUser = errors.New("credits: invalid user id")
)

// Store persists credit accounts. Implementations must make Authorize's
// check-and-decrement atomic per user.
type Store interface {
	// GetOrCreate loads the account, creating it with the free policy when
	// absent and applying a due refill. The Decision flags report what changed.
	GetOrCreate(ctx context.Context, userID string, now time.Time) (Decision, error)

	// Authorize runs the billing decision. A rejected call returns the
	// decision alongside ErrQuotaExceeded.
	Authorize(ctx context.Context, userID string, isRegeneration bool, now time.Time) (Decision, error)

	// UpgradeToPro marks the account pro with an unlimited balance,
	// creating it if needed.
	UpgradeToPro(ctx context.Context, userID string, now time.Time) (Account, error)
}

// Publisher receives every account state that results from a mutation.
type Publisher interface {
	PublishBalance(ctx context.Context, acc Account) error
}
