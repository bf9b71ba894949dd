package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kue-app/backend/internal/api/handlers"
	"github.com/kue-app/backend/internal/credits"
)

type fakeAPI struct {
	balance  handlers.BalanceView
	generate func(req handlers.GenerateRequest) (*handlers.GenerateResponse, error)
	pushes   []handlers.BalanceView
	requests []handlers.GenerateRequest
}

func (f *fakeAPI) Balance(context.Context) (*handlers.BalanceView, error) {
	b := f.balance
	return &b, nil
}

func (f *fakeAPI) Generate(_ context.Context, req handlers.GenerateRequest) (*handlers.GenerateResponse, error) {
	f.requests = append(f.requests, req)
	return f.generate(req)
}

func (f *fakeAPI) Stream(_ context.Context, fn func(handlers.BalanceView)) error {
	for _, b := range f.pushes {
		fn(b)
	}
	return nil
}

type recordingPrompter struct {
	prompts []handlers.BalanceView
}

func (p *recordingPrompter) PromptUpgrade(_ context.Context, b handlers.BalanceView) {
	p.prompts = append(p.prompts, b)
}

func okResponse(remaining int, version int64, billed bool) func(handlers.GenerateRequest) (*handlers.GenerateResponse, error) {
	return func(req handlers.GenerateRequest) (*handlers.GenerateResponse, error) {
		return &handlers.GenerateResponse{
			RequestID: req.RequestID,
			Replies:   []string{"sure"},
			Billed:    billed,
			Credits:   balance(remaining, version),
		}, nil
	}
}

func newTestArbiter(api *fakeAPI) (*Arbiter, *recordingPrompter) {
	p := &recordingPrompter{}
	a := NewArbiter(api, NewQuotaView(), p)
	a.View().SelectProfile("p1")
	return a, p
}

func TestArbiter_FailedGenerateLeavesStateUnchanged(t *testing.T) {
	api := &fakeAPI{
		balance: balance(3, 1),
		generate: func(handlers.GenerateRequest) (*handlers.GenerateResponse, error) {
			return nil, &APIError{StatusCode: http.StatusBadGateway, Code: "upstream_failure"}
		},
	}
	a, prompter := newTestArbiter(api)
	require.NoError(t, a.Refresh(context.Background()))

	_, err := a.RequestGeneration(context.Background(), "hi", Tone{Name: "casual"}, false)
	require.Error(t, err)

	snap := a.View().Snapshot()
	assert.Equal(t, "", snap.LastBilled)
	assert.Equal(t, Unbilled, snap.State)
	assert.Equal(t, 3, snap.Credits.Remaining)
	assert.Empty(t, prompter.prompts)

	// The manual retry is still a billable Generate.
	api.generate = okResponse(2, 2, true)
	_, err = a.RequestGeneration(context.Background(), "hi", Tone{Name: "casual"}, false)
	require.NoError(t, err)
	assert.Equal(t, "hi", a.View().Snapshot().LastBilled)
}

func TestArbiter_ServerQuotaRejectionPromptsUpgrade(t *testing.T) {
	data, _ := json.Marshal(map[string]interface{}{"request_id": "r1", "credits": balance(0, 7)})
	api := &fakeAPI{
		balance: balance(1, 6),
		generate: func(handlers.GenerateRequest) (*handlers.GenerateResponse, error) {
			return nil, &APIError{StatusCode: http.StatusPaymentRequired, Code: "quota_exceeded", Data: data}
		},
	}
	a, prompter := newTestArbiter(api)
	require.NoError(t, a.Refresh(context.Background()))

	_, err := a.RequestGeneration(context.Background(), "hello", Tone{Name: "casual"}, false)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	require.Len(t, prompter.prompts, 1)
	assert.Equal(t, int64(7), prompter.prompts[0].Version)

	snap := a.View().Snapshot()
	assert.Equal(t, "", snap.LastBilled)
	assert.Equal(t, 0, snap.Credits.Remaining, "authoritative balance from the rejection is applied")
}

func TestArbiter_AdvisoryBlockWithoutCredits(t *testing.T) {
	api := &fakeAPI{balance: balance(0, 1)}
	a, prompter := newTestArbiter(api)
	require.NoError(t, a.Refresh(context.Background()))

	_, err := a.RequestGeneration(context.Background(), "hi", Tone{Name: "casual"}, false)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Len(t, prompter.prompts, 1)
	assert.Empty(t, api.requests, "blocked locally")
}

func TestArbiter_GuardsBilledState(t *testing.T) {
	api := &fakeAPI{balance: balance(3, 1), generate: okResponse(2, 2, true)}
	a, _ := newTestArbiter(api)
	require.NoError(t, a.Refresh(context.Background()))
	ctx := context.Background()

	_, err := a.RequestGeneration(ctx, "hi", Tone{Name: "casual"}, true)
	assert.ErrorIs(t, err, ErrNotBilled)

	_, err = a.RequestGeneration(ctx, "hi", Tone{Name: "casual"}, false)
	require.NoError(t, err)

	_, err = a.RequestGeneration(ctx, "hi", Tone{Name: "casual"}, false)
	assert.ErrorIs(t, err, ErrAlreadyBilled)

	api.generate = okResponse(2, 2, false)
	_, err = a.RequestGeneration(ctx, "hi", Tone{Name: "custom", Custom: "dry"}, true)
	require.NoError(t, err)

	require.Len(t, api.requests, 2)
	last := api.requests[1]
	assert.True(t, last.IsRegeneration)
	assert.Equal(t, "p1", last.ProfileID)
	assert.Equal(t, "dry", last.CustomTone)
	assert.NotEqual(t, api.requests[0].RequestID, last.RequestID)
}

func TestArbiter_DiscardsResponseForAbandonedProfile(t *testing.T) {
	api := &fakeAPI{balance: balance(3, 1)}
	a, _ := newTestArbiter(api)
	require.NoError(t, a.Refresh(context.Background()))

	api.generate = func(req handlers.GenerateRequest) (*handlers.GenerateResponse, error) {
		// The user switches profile while the request is in flight.
		a.View().SelectProfile("p2")
		return okResponse(2, 2, true)(req)
	}

	_, err := a.RequestGeneration(context.Background(), "hi", Tone{Name: "casual"}, false)
	assert.ErrorIs(t, err, ErrStaleResponse)

	snap := a.View().Snapshot()
	assert.Equal(t, "", snap.LastBilled)
	assert.Equal(t, "p2", snap.ProfileID)
	assert.Equal(t, 2, snap.Credits.Remaining, "the server balance still applies")
}

func TestArbiter_NewerPushDuringGenerateWins(t *testing.T) {
	api := &fakeAPI{balance: balance(4, 5)}
	a, _ := newTestArbiter(api)
	require.NoError(t, a.Refresh(context.Background()))

	api.generate = func(req handlers.GenerateRequest) (*handlers.GenerateResponse, error) {
		// Another device bills after this request; its push lands first.
		require.True(t, a.View().Reconcile(balance(2, 7)))
		return okResponse(3, 6, true)(req)
	}

	_, err := a.RequestGeneration(context.Background(), "hi", Tone{Name: "casual"}, false)
	require.NoError(t, err)

	snap := a.View().Snapshot()
	assert.Equal(t, 2, snap.Credits.Remaining)
	assert.Equal(t, int64(7), snap.Version)
	assert.Equal(t, Billed, snap.State)
}

func TestArbiter_RequiresProfile(t *testing.T) {
	a := NewArbiter(&fakeAPI{}, NewQuotaView(), nil)
	_, err := a.RequestGeneration(context.Background(), "hi", Tone{}, false)
	assert.ErrorIs(t, err, ErrNoProfile)
}

func TestArbiter_WatchAppliesNewerPushes(t *testing.T) {
	api := &fakeAPI{
		balance: balance(5, 1),
		pushes:  []handlers.BalanceView{balance(4, 2), balance(5, 1), {CreditsRemaining: credits.UnlimitedBalance(), IsPro: true, Version: 3}},
	}
	a, _ := newTestArbiter(api)
	require.NoError(t, a.Refresh(context.Background()))
	require.NoError(t, a.Watch(context.Background()))

	snap := a.View().Snapshot()
	assert.True(t, snap.IsPro)
	assert.True(t, snap.Credits.Unlimited)
	assert.Equal(t, int64(3), snap.Version)
}

func TestAPIError_Is(t *testing.T) {
	assert.True(t, errors.Is(&APIError{StatusCode: http.StatusPaymentRequired}, ErrQuotaExceeded))
	assert.True(t, errors.Is(&APIError{StatusCode: http.StatusUnauthorized}, ErrUnauthorized))
	assert.False(t, errors.Is(&APIError{StatusCode: http.StatusBadGateway}, ErrQuotaExceeded))

	_, ok := (&APIError{StatusCode: http.StatusPaymentRequired}).Balance()
	assert.False(t, ok)
}
