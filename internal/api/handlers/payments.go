package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kue-app/backend/internal/api/request"
	"github.com/kue-app/backend/internal/api/response"
	"github.com/kue-app/backend/internal/auth"
	"github.com/kue-app/backend/internal/logger"
	"github.com/kue-app/backend/internal/payment"
)

// maxWebhookBytes bounds a webhook body.
const maxWebhookBytes = 1 << 20

// OrderCreator registers checkout orders.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req payment.OrderRequest) (*payment.Order, error)
}

// WebhookProcessor applies verified gateway events.
type WebhookProcessor interface {
	Handle(ctx context.Context, body []byte, signature, deliveryID string) (payment.Outcome, error)
}

// PaymentHandler serves plans, order creation and the gateway webhook.
type PaymentHandler struct {
	catalog  *payment.Catalog
	orders   OrderCreator
	webhooks WebhookProcessor
	log      zerolog.Logger
}

// NewPaymentHandler creates a payment handler
func NewPaymentHandler(catalog *payment.Catalog, orders OrderCreator, webhooks WebhookProcessor) *PaymentHandler {
	return &PaymentHandler{
		catalog:  catalog,
		orders:   orders,
		webhooks: webhooks,
		log:      logger.Component("payments"),
	}
}

// CreateOrderRequest is the body of POST /api/v1/payments/orders.
type CreateOrderRequest struct {
	Plan string `json:"plan"`
}

// ListPlans handles GET /api/v1/plans
func (h *PaymentHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.catalog.List())
}

// CreateOrder handles POST /api/v1/payments/orders. Completion is reported
// only by the webhook, never by the checkout return.
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req CreateOrderRequest
	if err := request.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, request.ErrEmptyBody) {
		response.BadRequest(w, err.Error())
		return
	}

	plan, err := h.catalog.Lookup(req.Plan)
	if err != nil {
		response.BadRequest(w, "Unknown plan")
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), payment.OrderRequest{
		Plan:   plan,
		UserID: user.ID,
		Email:  user.Email,
	})
	if err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			response.Error(w, http.StatusServiceUnavailable, "payments_unavailable", "Payments are not configured")
			return
		}
		h.log.Error().Err(err).Str("user_id", user.ID).Str("plan", plan.ID).Msg("order creation failed")
		response.UpstreamFailure(w, "Could not create the order, please try again")
		return
	}

	h.log.Info().Str("user_id", user.ID).Str("order_id", order.ID).Str("plan", plan.ID).Msg("order created")
	response.Created(w, order)
}

// RazorpayWebhook handles POST /api/v1/webhooks/razorpay
func (h *PaymentHandler) RazorpayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		response.BadRequest(w, "Unreadable body")
		return
	}

	outcome, err := h.webhooks.Handle(r.Context(), body,
		r.Header.Get("X-Razorpay-Signature"), r.Header.Get("X-Razorpay-Event-Id"))
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		response.Unauthorized(w, "Invalid signature")
		return
	case errors.Is(err, payment.ErrMalformedEvent):
		response.BadRequest(w, "Malformed event")
		return
	case err != nil:
		// A non-2xx makes the gateway redeliver.
		h.log.Error().Err(err).Msg("webhook processing failed")
		response.InternalError(w, "")
		return
	}

	response.Success(w, map[string]string{"status": string(outcome)})
}
