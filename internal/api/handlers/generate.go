package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kue-app/backend/internal/ai"
	"github.com/kue-app/backend/internal/api/request"
	"github.com/kue-app/backend/internal/api/response"
	"github.com/kue-app/backend/internal/auth"
	"github.com/kue-app/backend/internal/credits"
	"github.com/kue-app/backend/internal/logger"
	"github.com/kue-app/backend/internal/models"
	"github.com/kue-app/backend/internal/repository"
)

// MaxMessageLength bounds the pasted message.
const MaxMessageLength = 4000

// ReplyGenerator produces reply suggestions.
type ReplyGenerator interface {
	Generate(ctx context.Context, req ai.ReplyRequest) (*ai.ReplyResult, error)
}

// ProfileReader loads one profile for the owner.
type ProfileReader interface {
	Get(ctx context.Context, userID, id string) (*models.Profile, error)
}

// GenerateRequest is the body of POST /api/v1/generate.
type GenerateRequest struct {
	Message        string `json:"message"`
	ProfileID      string `json:"profile_id"`
	Tone           string `json:"tone"`
	CustomTone     string `json:"custom_tone"`
	IsRegeneration bool   `json:"is_regeneration"`
	RequestID      string `json:"request_id,omitempty"`
}

// GenerateResponse is returned on success.
type GenerateResponse struct {
	RequestID string       `json:"request_id"`
	Replies   []string     `json:"replies"`
	Analysis  *ai.Analysis `json:"analysis,omitempty"`
	Degraded  bool         `json:"degraded"`
	Billed    bool         `json:"billed"`
	Credits   BalanceView  `json:"credits"`
}

// GenerateHandler runs the server-side quota decision and the reply generator.
type GenerateHandler struct {
	ledger    Ledger
	generator ReplyGenerator
	profiles  ProfileReader
	log       zerolog.Logger
}

// NewGenerateHandler creates a generate handler
func NewGenerateHandler(ledger Ledger, generator ReplyGenerator, profiles ProfileReader) *GenerateHandler {
	return &GenerateHandler{
		ledger:    ledger,
		generator: generator,
		profiles:  profiles,
		log:       logger.Component("generate"),
	}
}

// Generate handles POST /api/v1/generate
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)

	var req GenerateRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	tone, msg := validateGenerate(&req)
	if msg != "" {
		response.BadRequest(w, msg)
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	// Resolve the profile before billing so a bad id costs nothing.
	profile, err := h.profiles.Get(ctx, userID, req.ProfileID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			response.NotFound(w, "Profile not found")
			return
		}
		h.log.Error().Err(err).Str("request_id", req.RequestID).Msg("failed to load profile")
		response.InternalError(w, "Failed to load profile")
		return
	}

	decision, err := h.ledger.AuthorizeAndBill(ctx, userID, req.IsRegeneration)
	if err != nil {
		if errors.Is(err, credits.ErrQuotaExceeded) {
			response.QuotaExceeded(w, map[string]interface{}{
				"request_id": req.RequestID,
				"credits":    NewBalanceView(decision.Account, time.Now()),
			})
			return
		}
		h.log.Error().Err(err).Str("request_id", req.RequestID).Str("user_id", userID).Msg("quota check failed")
		response.InternalError(w, "Failed to check credits")
		return
	}

	result, err := h.generator.Generate(ctx, ai.ReplyRequest{
		Message: req.Message,
		Profile: ai.Dossier{
			Name:          profile.Name,
			Category:      profile.Category,
			RoleTitle:     profile.RoleTitle,
			Context:       profile.Context,
			ScreenshotURL: profile.ScreenshotURL,
		},
		Tone:           tone,
		CustomTone:     req.CustomTone,
		IsRegeneration: req.IsRegeneration,
	})
	if err != nil {
		// The credit stays spent; the user retries manually.
		h.log.Error().Err(err).
			Str("request_id", req.RequestID).
			Str("user_id", userID).
			Bool("billed", decision.Billed).
			Msg("reply generation failed")
		response.UpstreamFailure(w, "Could not generate replies, please try again")
		return
	}

	h.log.Info().
		Str("request_id", req.RequestID).
		Str("user_id", userID).
		Bool("regeneration", req.IsRegeneration).
		Bool("billed", decision.Billed).
		Str("credits", decision.Account.Credits.String()).
		Msg("generation served")

	response.Success(w, GenerateResponse{
		RequestID: req.RequestID,
		Replies:   result.Replies,
		Analysis:  result.Analysis,
		Degraded:  result.Degraded,
		Billed:    decision.Billed,
		Credits:   NewBalanceView(decision.Account, time.Now()),
	})
}

// validateGenerate checks the body and returns the parsed tone, or a message
// for a 400 response.
func validateGenerate(req *GenerateRequest) (ai.Tone, string) {
	if strings.TrimSpace(req.Message) == "" {
		return "", "message is required"
	}
	if utf8.RuneCountInString(req.Message) > MaxMessageLength {
		return "", "message is too long"
	}
	req.ProfileID = strings.TrimSpace(req.ProfileID)
	if req.ProfileID == "" {
		return "", "profile_id is required"
	}

	tone, ok := ai.ParseTone(req.Tone)
	if !ok {
		return "", "tone must be one of casual, formal, friendly, professional, custom"
	}
	if tone == ai.ToneCustom {
		req.CustomTone = strings.TrimSpace(req.CustomTone)
		if req.CustomTone == "" {
			return "", "custom_tone is required when tone is custom"
		}
		if utf8.RuneCountInString(req.CustomTone) > ai.MaxCustomToneLength {
			return "", "custom_tone is too long"
		}
	}
	return tone, ""
}
