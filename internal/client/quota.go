package client

import (
	"strings"
	"sync"
	"time"

	"github.com/kue-app/backend/internal/api/handlers"
	"github.com/kue-app/backend/internal/credits"
)

// State is the billing state of the current input text.
type State int

const (
	// Unbilled text has not yet consumed a credit: Generate is the action.
	Unbilled State = iota
	// Billed text already consumed a credit: only the free Regenerate is offered.
	Billed
)

func (s State) String() string {
	if s == Billed {
		return "billed"
	}
	return "unbilled"
}

// Ticket identifies the profile and session a request was issued for.
type Ticket struct {
	ProfileID string
	session   uint64
}

// QuotaView is the client's cached, advisory copy of the credit account plus
// the billed/unbilled state of the text being composed.
type QuotaView struct {
	mu sync.Mutex

	credits      credits.Balance
	isPro        bool
	nextRefillAt time.Time
	version      int64
	loaded       bool

	input      string
	lastBilled string
	hasBilled  bool

	profileID string
	session   uint64
}

// NewQuotaView creates an empty view. Nothing is billable until the first
// authoritative balance is reconciled.
func NewQuotaView() *QuotaView {
	return &QuotaView{}
}

// Snapshot is a consistent read of the view.
type Snapshot struct {
	Credits       credits.Balance
	IsPro         bool
	NextRefillAt  time.Time
	Version       int64
	State         State
	CanGenerate   bool
	CanRegenerate bool
	LastBilled    string
	ProfileID     string
}

// Snapshot returns the current state.
func (v *QuotaView) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot{
		Credits:       v.credits,
		IsPro:         v.isPro,
		NextRefillAt:  v.nextRefillAt,
		Version:       v.version,
		State:         v.stateLocked(v.input),
		CanGenerate:   v.canGenerateLocked(v.input),
		CanRegenerate: v.stateLocked(v.input) == Billed,
		LastBilled:    v.lastBilled,
		ProfileID:     v.profileID,
	}
}

// SetInput records the text being composed. The billed state follows from
// an exact comparison with the last billed text.
func (v *QuotaView) SetInput(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.input = text
}

// State reports whether the current input was already billed.
func (v *QuotaView) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked(v.input)
}

// CanGenerate reports whether a billable Generate is offered for the input.
func (v *QuotaView) CanGenerate() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.canGenerateLocked(v.input)
}

// CanRegenerate reports whether the free Regenerate is offered for the input.
// It does not depend on the displayed credits.
func (v *QuotaView) CanRegenerate() bool {
	return v.State() == Billed
}

// SelectProfile switches to another profile and starts a new session.
// In-flight responses issued for the previous session are discarded.
func (v *QuotaView) SelectProfile(profileID string) Ticket {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.profileID = profileID
	v.session++
	v.input = ""
	v.lastBilled = ""
	v.hasBilled = false
	return Ticket{ProfileID: profileID, session: v.session}
}

// Ticket returns the current profile and session.
func (v *QuotaView) Ticket() Ticket {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Ticket{ProfileID: v.profileID, session: v.session}
}

// IsCurrent reports whether t still names the displayed profile and session.
func (v *QuotaView) IsCurrent(t Ticket) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return t.session == v.session && t.ProfileID == v.profileID
}

// ApplyGenerationSuccess records a successful generation for text. A billable
// success decrements the displayed credits by one, floored at zero, and marks
// text as billed. Regeneration changes nothing.
func (v *QuotaView) ApplyGenerationSuccess(text string, isRegeneration bool) {
	if isRegeneration {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.isPro && !v.credits.Unlimited {
		v.credits = credits.Limited(v.credits.Remaining - 1)
	}
	v.lastBilled = text
	v.hasBilled = true
}

// ApplyGenerationResult records a successful generation for text together
// with the balance the server returned for it. The server balance replaces
// the optimistic decrement unless a newer authoritative balance was applied
// while the request was in flight; that balance already includes this
// request's charge, so the view is left as is.
func (v *QuotaView) ApplyGenerationResult(text string, isRegeneration bool, b handlers.BalanceView) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !isRegeneration {
		v.lastBilled = text
		v.hasBilled = true
	}
	v.reconcileLocked(b)
}

// Reconcile overwrites the cached account with an authoritative balance. A
// value older than the one already applied is ignored; anything else replaces
// whatever optimistic math happened since. It reports whether b was applied.
func (v *QuotaView) Reconcile(b handlers.BalanceView) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reconcileLocked(b)
}

func (v *QuotaView) reconcileLocked(b handlers.BalanceView) bool {
	if v.loaded && b.Version < v.version {
		return false
	}
	v.credits = b.CreditsRemaining
	v.isPro = b.IsPro
	if b.IsPro {
		v.credits = credits.UnlimitedBalance()
	}
	v.nextRefillAt = b.NextRefillAt
	v.version = b.Version
	v.loaded = true
	return true
}

// RefillIn returns max(0, nextRefillAt-now). Pro accounts never refill.
func (v *QuotaView) RefillIn(now time.Time) time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.isPro || !v.loaded {
		return 0
	}
	if d := v.nextRefillAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// IsPro reports the cached pro flag.
func (v *QuotaView) IsPro() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.isPro
}

func (v *QuotaView) stateLocked(text string) State {
	if v.hasBilled && text == v.lastBilled {
		return Billed
	}
	return Unbilled
}

func (v *QuotaView) canGenerateLocked(text string) bool {
	if strings.TrimSpace(text) == "" || v.stateLocked(text) == Billed {
		return false
	}
	// Before the first fetch the server decides.
	return !v.loaded || v.isPro || v.credits.CanSpend()
}
