package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kue-app/backend/internal/ai"
	"github.com/kue-app/backend/internal/auth"
	"github.com/kue-app/backend/internal/models"
	"github.com/kue-app/backend/internal/repository"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Code  string          `json:"code"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

// asUser injects an authenticated user the way auth.Authenticate would.
func asUser(id string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithUser(r.Context(), &models.User{ID: id, Email: id + "@example.com"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []ai.ReplyRequest
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, req ai.ReplyRequest) (*ai.ReplyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return &ai.ReplyResult{
		Replies: []string{"reply to " + req.Message, "another", "third"},
		Model:   "fake",
	}, nil
}

func (g *fakeGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// fakeProfiles is an in-memory ProfileStore.
type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]models.Profile
	failWith error
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[string]models.Profile)}
}

func (f *fakeProfiles) add(userID, name string) models.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := models.Profile{ID: uuid.New().String(), UserID: userID, Name: name, Category: "work"}
	f.profiles[p.ID] = p
	return p
}

func (f *fakeProfiles) Get(_ context.Context, userID, id string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	p, ok := f.profiles[id]
	if !ok || p.UserID != userID {
		return nil, repository.ErrProfileNotFound
	}
	return &p, nil
}

func (f *fakeProfiles) List(_ context.Context, userID string) ([]models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Profile{}
	for _, p := range f.profiles {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProfiles) Create(_ context.Context, userID string, in models.ProfileInput) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := models.Profile{ID: uuid.New().String(), UserID: userID}
	in.Apply(&p)
	f.profiles[p.ID] = p
	return &p, nil
}

func (f *fakeProfiles) Update(_ context.Context, userID, id string, in models.ProfileInput) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok || p.UserID != userID {
		return nil, repository.ErrProfileNotFound
	}
	in.Apply(&p)
	f.profiles[id] = p
	return &p, nil
}

func (f *fakeProfiles) Delete(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok || p.UserID != userID {
		return repository.ErrProfileNotFound
	}
	delete(f.profiles, id)
	return nil
}

var errBoom = errors.New("boom")

// newMux mounts routes under a user-injecting middleware so chi URL params resolve.
func newMux(userID string, mount func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(asUser(userID))
	mount(r)
	return r
}
