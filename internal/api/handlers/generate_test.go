package handlers_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kue-app/backend/internal/ai"
	"github.com/kue-app/backend/internal/api/handlers"
	"github.com/kue-app/backend/internal/credits"
)

type generateFixture struct {
	handler   http.Handler
	store     *credits.MemoryStore
	ledger    *credits.Ledger
	generator *fakeGenerator
	profiles  *fakeProfiles
	profileID string
}

func newGenerateFixture(t *testing.T) *generateFixture {
	t.Helper()
	f := &generateFixture{
		store:     credits.NewMemoryStore(credits.DefaultPolicy()),
		generator: &fakeGenerator{},
		profiles:  newFakeProfiles(),
	}
	f.ledger = credits.NewLedger(f.store)
	f.profileID = f.profiles.add("u1", "Sam").ID

	h := handlers.NewGenerateHandler(f.ledger, f.generator, f.profiles)
	f.handler = newMux("u1", func(r chi.Router) {
		r.Post("/generate", h.Generate)
	})
	return f
}

func (f *generateFixture) seed(remaining int) {
	f.store.Put(credits.Account{
		UserID:       "u1",
		Credits:      credits.Limited(remaining),
		NextRefillAt: time.Now().Add(10 * time.Hour),
		Version:      1,
	})
}

func (f *generateFixture) body(message string, regen bool) string {
	return fmt.Sprintf(`{"message":%q,"profile_id":%q,"tone":"casual","is_regeneration":%t}`, message, f.profileID, regen)
}

func TestGenerate_BillsNewUserAfterSelfHeal(t *testing.T) {
	f := newGenerateFixture(t)

	rec := do(t, f.handler, http.MethodPost, "/generate", f.body("hi", false))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp handlers.GenerateResponse
	decodeEnvelope(t, rec, &resp)
	assert.True(t, resp.Billed)
	assert.NotEmpty(t, resp.RequestID)
	assert.Len(t, resp.Replies, 3)
	assert.Equal(t, credits.Limited(4), resp.Credits.CreditsRemaining)
	assert.Equal(t, int64(2), resp.Credits.Version)
}

func TestGenerate_EchoesClientRequestID(t *testing.T) {
	f := newGenerateFixture(t)

	body := fmt.Sprintf(`{"message":"hi","profile_id":%q,"request_id":"req-42"}`, f.profileID)
	rec := do(t, f.handler, http.MethodPost, "/generate", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.GenerateResponse
	decodeEnvelope(t, rec, &resp)
	assert.Equal(t, "req-42", resp.RequestID)
}

func TestGenerate_RegenerateThenExhausted(t *testing.T) {
	f := newGenerateFixture(t)
	f.seed(1)

	rec := do(t, f.handler, http.MethodPost, "/generate", f.body("hi", false))
	require.Equal(t, http.StatusOK, rec.Code)
	var first handlers.GenerateResponse
	decodeEnvelope(t, rec, &first)
	assert.True(t, first.Billed)
	assert.Equal(t, 0, first.Credits.CreditsRemaining.Remaining)

	rec = do(t, f.handler, http.MethodPost, "/generate", f.body("hi", true))
	require.Equal(t, http.StatusOK, rec.Code)
	var regen handlers.GenerateResponse
	decodeEnvelope(t, rec, &regen)
	assert.False(t, regen.Billed)
	assert.Equal(t, 0, regen.Credits.CreditsRemaining.Remaining)

	rec = do(t, f.handler, http.MethodPost, "/generate", f.body("hello", false))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var rejected struct {
		RequestID string               `json:"request_id"`
		Credits   handlers.BalanceView `json:"credits"`
	}
	env := decodeEnvelope(t, rec, &rejected)
	assert.Equal(t, "quota_exceeded", env.Code)
	assert.NotEmpty(t, rejected.RequestID)
	assert.Equal(t, 0, rejected.Credits.CreditsRemaining.Remaining)

	assert.Equal(t, 2, f.generator.count(), "rejected request must not reach the generator")
	assert.True(t, f.generator.calls[1].IsRegeneration)
}

func TestGenerate_UpstreamFailureKeepsCharge(t *testing.T) {
	f := newGenerateFixture(t)
	f.seed(3)
	f.generator.err = ai.ErrEmptyResponse

	rec := do(t, f.handler, http.MethodPost, "/generate", f.body("hi", false))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	env := decodeEnvelope(t, rec, nil)
	assert.Equal(t, "upstream_failure", env.Code)

	acc, err := f.ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, acc.Credits.Remaining)
}

func TestGenerate_UnknownProfileIsNotCharged(t *testing.T) {
	f := newGenerateFixture(t)

	body := `{"message":"hi","profile_id":"missing"}`
	rec := do(t, f.handler, http.MethodPost, "/generate", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, f.store.Len(), "ledger must not be touched")
	assert.Equal(t, 0, f.generator.count())
}

func TestGenerate_OtherUsersProfileIsNotFound(t *testing.T) {
	f := newGenerateFixture(t)
	other := f.profiles.add("u2", "Alex")

	body := fmt.Sprintf(`{"message":"hi","profile_id":%q}`, other.ID)
	rec := do(t, f.handler, http.MethodPost, "/generate", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerate_ProfileLoadFailure(t *testing.T) {
	f := newGenerateFixture(t)
	f.profiles.failWith = errBoom

	rec := do(t, f.handler, http.MethodPost, "/generate", f.body("hi", false))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 0, f.store.Len())
}

func TestGenerate_PassesProfileAndTone(t *testing.T) {
	f := newGenerateFixture(t)

	body := fmt.Sprintf(`{"message":"hi","profile_id":%q,"tone":"custom","custom_tone":"  dry wit  "}`, f.profileID)
	rec := do(t, f.handler, http.MethodPost, "/generate", body)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, 1, f.generator.count())
	got := f.generator.calls[0]
	assert.Equal(t, "Sam", got.Profile.Name)
	assert.Equal(t, ai.ToneCustom, got.Tone)
	assert.Equal(t, "dry wit", got.CustomTone)
}

func TestGenerate_Validation(t *testing.T) {
	f := newGenerateFixture(t)
	long := make([]byte, handlers.MaxMessageLength+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"malformed json", `{"message":`},
		{"unknown field", fmt.Sprintf(`{"message":"hi","profile_id":%q,"credits":99}`, f.profileID)},
		{"blank message", fmt.Sprintf(`{"message":"   ","profile_id":%q}`, f.profileID)},
		{"message too long", fmt.Sprintf(`{"message":%q,"profile_id":%q}`, string(long), f.profileID)},
		{"missing profile", `{"message":"hi"}`},
		{"bad tone", fmt.Sprintf(`{"message":"hi","profile_id":%q,"tone":"sarcastic"}`, f.profileID)},
		{"custom tone missing", fmt.Sprintf(`{"message":"hi","profile_id":%q,"tone":"custom"}`, f.profileID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, f.handler, http.MethodPost, "/generate", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, f.generator.count())
}

func TestGenerate_ProIsNeverBilled(t *testing.T) {
	f := newGenerateFixture(t)
	_, err := f.ledger.UpgradeToPro(context.Background(), "u1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rec := do(t, f.handler, http.MethodPost, "/generate", f.body(fmt.Sprintf("msg %d", i), false))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp handlers.GenerateResponse
		decodeEnvelope(t, rec, &resp)
		assert.False(t, resp.Billed)
		assert.True(t, resp.Credits.CreditsRemaining.Unlimited)
		assert.True(t, resp.Credits.IsPro)
	}
}
