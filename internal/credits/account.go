// Package credits implements the authoritative credit ledger: per-user
// balances, lazy refills, pro upgrades and the billing decision made for
// every reply generation.
package credits

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const unlimitedLiteral = "unlimited"

// Balance is a credit count, or the unlimited sentinel held by pro accounts.
type Balance struct {
	Remaining int
	Unlimited bool
}

// Limited returns a finite balance. Negative values are clamped to zero.
func Limited(n int) Balance {
	if n < 0 {
		n = 0
	}
	return Balance{Remaining: n}
}

// UnlimitedBalance returns the pro sentinel.
func UnlimitedBalance() Balance {
	return Balance{Unlimited: true}
}

// CanSpend reports whether a billable generation may be admitted.
func (b Balance) CanSpend() bool {
	return b.Unlimited || b.Remaining > 0
}

func (b Balance) String() string {
	if b.Unlimited {
		return unlimitedLiteral
	}
	return fmt.Sprintf("%d", b.Remaining)
}

// MarshalJSON encodes a finite balance as a number and the sentinel as "unlimited".
func (b Balance) MarshalJSON() ([]byte, error) {
	if b.Unlimited {
		return json.Marshal(unlimitedLiteral)
	}
	return json.Marshal(b.Remaining)
}

// UnmarshalJSON accepts a number, "unlimited" or null (treated as unlimited).
func (b *Balance) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = UnlimitedBalance()
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != unlimitedLiteral {
			return fmt.Errorf("credits: invalid balance %q", s)
		}
		*b = UnlimitedBalance()
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("credits: invalid balance: %w", err)
	}
	*b = Limited(n)
	return nil
}

// Account is one user's row in the ledger.
type Account struct {
	UserID       string    `json:"user_id"`
	Credits      Balance   `json:"credits_remaining"`
	IsPro        bool      `json:"is_pro"`
	NextRefillAt time.Time `json:"next_refill_at"`
	// Version increases by one on every mutation of the row.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Policy holds the free-tier parameters.
type Policy struct {
	FreeCredits    int
	RefillInterval time.Duration
}

// DefaultPolicy returns 5 credits refilled every 20 hours.
func DefaultPolicy() Policy {
	return Policy{
		FreeCredits:    5,
		RefillInterval: 20 * time.Hour,
	}
}

// newAccount builds the self-healed row for a user seen for the first time.
func (p Policy) newAccount(userID string, now time.Time) Account {
	return Account{
		UserID:       userID,
		Credits:      Limited(p.FreeCredits),
		NextRefillAt: now.Add(p.RefillInterval),
		Version:      1,
		UpdatedAt:    now,
	}
}

// refill resets a due non-pro account in place and reports whether it did.
func (p Policy) refill(acc *Account, now time.Time) bool {
	if acc.IsPro || now.Before(acc.NextRefillAt) {
		return false
	}
	acc.Credits = Limited(p.FreeCredits)
	acc.NextRefillAt = now.Add(p.RefillInterval)
	acc.Version++
	acc.UpdatedAt = now
	return true
}

// RefillIn returns how long until the account's next refill, never negative.
func (a Account) RefillIn(now time.Time) time.Duration {
	d := a.NextRefillAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Decision is the outcome of an authorize-and-bill call.
type Decision struct {
	Allowed    bool    `json:"allowed"`
	Billed     bool    `json:"billed"`
	SelfHealed bool    `json:"self_healed"`
	Refilled   bool    `json:"refilled"`
	Account    Account `json:"account"`
}

// Mutated reports whether the call changed the stored row.
func (d Decision) Mutated() bool {
	return d.Billed || d.SelfHealed || d.Refilled
}
