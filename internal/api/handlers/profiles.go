package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kue-app/backend/internal/api/request"
	"github.com/kue-app/backend/internal/api/response"
	"github.com/kue-app/backend/internal/auth"
	"github.com/kue-app/backend/internal/logger"
	"github.com/kue-app/backend/internal/models"
	"github.com/kue-app/backend/internal/repository"
)

// ProfileStore is the user-scoped profile CRUD.
type ProfileStore interface {
	ProfileReader
	List(ctx context.Context, userID string) ([]models.Profile, error)
	Create(ctx context.Context, userID string, in models.ProfileInput) (*models.Profile, error)
	Update(ctx context.Context, userID, id string, in models.ProfileInput) (*models.Profile, error)
	Delete(ctx context.Context, userID, id string) error
}

// ProfileHandler handles chat profile endpoints
type ProfileHandler struct {
	store ProfileStore
	log   zerolog.Logger
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(store ProfileStore) *ProfileHandler {
	return &ProfileHandler{store: store, log: logger.Component("profiles")}
}

// List handles GET /api/v1/profiles
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.List(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	response.Success(w, profiles)
}

// Get handles GET /api/v1/profiles/{id}
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Get(r.Context(), auth.GetUserID(r.Context()), request.GetURLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	response.Success(w, p)
}

// Create handles POST /api/v1/profiles
func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeProfileInput(w, r)
	if !ok {
		return
	}
	p, err := h.store.Create(r.Context(), auth.GetUserID(r.Context()), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	response.Created(w, p)
}

// Update handles PUT /api/v1/profiles/{id}
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeProfileInput(w, r)
	if !ok {
		return
	}
	p, err := h.store.Update(r.Context(), auth.GetUserID(r.Context()), request.GetURLParam(r, "id"), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	response.Success(w, p)
}

// Delete handles DELETE /api/v1/profiles/{id}
func (h *ProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), auth.GetUserID(r.Context()), request.GetURLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	response.NoContent(w)
}

func decodeProfileInput(w http.ResponseWriter, r *http.Request) (models.ProfileInput, bool) {
	var in models.ProfileInput
	if err := request.DecodeJSON(w, r, &in); err != nil {
		response.BadRequest(w, err.Error())
		return in, false
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return in, false
	}
	return in, true
}

func (h *ProfileHandler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrProfileNotFound) {
		response.NotFound(w, "Profile not found")
		return
	}
	h.log.Error().Err(err).Msg("profile operation failed")
	response.InternalError(w, "")
}
