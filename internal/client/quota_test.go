package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kue-app/backend/internal/api/handlers"
	"github.com/kue-app/backend/internal/credits"
)

func balance(remaining int, version int64) handlers.BalanceView {
	return handlers.BalanceView{
		CreditsRemaining: credits.Limited(remaining),
		NextRefillAt:     time.Now().Add(time.Hour),
		Version:          version,
	}
}

func TestQuotaView_EditReenablesGenerate(t *testing.T) {
	v := NewQuotaView()
	v.SelectProfile("p1")
	v.Reconcile(balance(3, 1))

	v.SetInput("hi")
	assert.Equal(t, Unbilled, v.State())
	assert.True(t, v.CanGenerate())
	assert.False(t, v.CanRegenerate())

	v.ApplyGenerationSuccess("hi", false)
	assert.Equal(t, Billed, v.State())
	assert.False(t, v.CanGenerate())
	assert.True(t, v.CanRegenerate())

	v.SetInput("hi!")
	assert.Equal(t, Unbilled, v.State())
	assert.True(t, v.CanGenerate())
	assert.False(t, v.CanRegenerate())

	// Exact comparison, no normalization.
	v.SetInput("hi ")
	assert.Equal(t, Unbilled, v.State())

	v.SetInput("hi")
	assert.Equal(t, Billed, v.State())
}

func TestQuotaView_OptimisticDecrementFloorsAtZero(t *testing.T) {
	v := NewQuotaView()
	v.Reconcile(balance(1, 1))

	v.ApplyGenerationSuccess("a", false)
	assert.Equal(t, 0, v.Snapshot().Credits.Remaining)
	v.ApplyGenerationSuccess("b", false)
	assert.Equal(t, 0, v.Snapshot().Credits.Remaining)
}

func TestQuotaView_RegenerationLeavesCredits(t *testing.T) {
	v := NewQuotaView()
	v.Reconcile(balance(2, 1))
	v.ApplyGenerationSuccess("hi", false)

	for i := 0; i < 5; i++ {
		v.ApplyGenerationSuccess("hi", true)
	}
	snap := v.Snapshot()
	assert.Equal(t, 1, snap.Credits.Remaining)
	assert.Equal(t, "hi", snap.LastBilled)
}

func TestQuotaView_RegenerateAllowedAtZero(t *testing.T) {
	v := NewQuotaView()
	v.Reconcile(balance(1, 1))
	v.SetInput("hi")
	v.ApplyGenerationSuccess("hi", false)

	assert.Equal(t, 0, v.Snapshot().Credits.Remaining)
	assert.True(t, v.CanRegenerate())

	v.SetInput("hello")
	assert.False(t, v.CanGenerate(), "no credits left for new text")
}

func TestQuotaView_ReconcileOverwritesOptimisticMath(t *testing.T) {
	v := NewQuotaView()
	v.Reconcile(balance(5, 1))
	v.ApplyGenerationSuccess("hi", false)
	assert.Equal(t, 4, v.Snapshot().Credits.Remaining)

	// Another device spent credits meanwhile.
	assert.True(t, v.Reconcile(balance(2, 3)))
	assert.Equal(t, 2, v.Snapshot().Credits.Remaining)

	// An older push arriving late is ignored.
	assert.False(t, v.Reconcile(balance(4, 2)))
	assert.Equal(t, 2, v.Snapshot().Credits.Remaining)
	assert.Equal(t, int64(3), v.Snapshot().Version)
}

func TestQuotaView_Pro(t *testing.T) {
	v := NewQuotaView()
	v.Reconcile(balance(0, 1))
	v.SetInput("hi")
	assert.False(t, v.CanGenerate())

	v.Reconcile(handlers.BalanceView{CreditsRemaining: credits.UnlimitedBalance(), IsPro: true, Version: 2})
	assert.True(t, v.CanGenerate())
	assert.Equal(t, time.Duration(0), v.RefillIn(time.Now()))

	v.ApplyGenerationSuccess("hi", false)
	assert.True(t, v.Snapshot().Credits.Unlimited)
	assert.Equal(t, Billed, v.State())
}

func TestQuotaView_UnloadedDefersToServer(t *testing.T) {
	v := NewQuotaView()
	v.SetInput("hi")
	assert.True(t, v.CanGenerate())

	v.SetInput("   ")
	assert.False(t, v.CanGenerate())
}

func TestQuotaView_SelectProfileStartsNewSession(t *testing.T) {
	v := NewQuotaView()
	first := v.SelectProfile("p1")
	v.Reconcile(balance(3, 1))
	v.SetInput("hi")
	v.ApplyGenerationSuccess("hi", false)

	second := v.SelectProfile("p2")
	assert.False(t, v.IsCurrent(first))
	assert.True(t, v.IsCurrent(second))

	v.SetInput("hi")
	assert.Equal(t, Unbilled, v.State())
	assert.Equal(t, 2, v.Snapshot().Credits.Remaining, "balance survives a profile switch")

	// Re-selecting the same profile is still a new session.
	third := v.SelectProfile("p2")
	assert.False(t, v.IsCurrent(second))
	assert.True(t, v.IsCurrent(third))
}

func TestQuotaView_RefillIn(t *testing.T) {
	v := NewQuotaView()
	now := time.Now()
	v.Reconcile(handlers.BalanceView{CreditsRemaining: credits.Limited(1), NextRefillAt: now.Add(90 * time.Second), Version: 1})

	assert.Equal(t, 90*time.Second, v.RefillIn(now))
	assert.Equal(t, time.Duration(0), v.RefillIn(now.Add(2*time.Minute)))
}

func TestQuotaView_ApplyGenerationResult(t *testing.T) {
	tests := []struct {
		name        string
		response    handlers.BalanceView
		wantCredits int
		wantVersion int64
	}{
		{"response is newest", balance(3, 6), 3, 6},
		{"newer push already applied", balance(3, 4), 2, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewQuotaView()
			v.Reconcile(balance(2, 5))
			v.SetInput("hi")

			v.ApplyGenerationResult("hi", false, tt.response)

			snap := v.Snapshot()
			assert.Equal(t, tt.wantCredits, snap.Credits.Remaining)
			assert.Equal(t, tt.wantVersion, snap.Version)
			assert.Equal(t, Billed, snap.State)
		})
	}
}
