package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kue-app/backend/internal/api/response"
	"github.com/kue-app/backend/internal/auth"
	"github.com/kue-app/backend/internal/credits"
	"github.com/kue-app/backend/internal/logger"
	"github.com/kue-app/backend/internal/realtime"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// Ledger is the credit ledger as seen by the HTTP layer.
type Ledger interface {
	Balance(ctx context.Context, userID string) (credits.Account, error)
	AuthorizeAndBill(ctx context.Context, userID string, isRegeneration bool) (credits.Decision, error)
}

// BalanceView is the client-facing shape of a credit account.
type BalanceView struct {
	CreditsRemaining credits.Balance `json:"credits_remaining"`
	IsPro            bool            `json:"is_pro"`
	NextRefillAt     time.Time       `json:"next_refill_at"`
	RefillInSeconds  int64           `json:"refill_in_seconds"`
	Version          int64           `json:"version"`
}

// NewBalanceView converts an account.
func NewBalanceView(acc credits.Account, now time.Time) BalanceView {
	return BalanceView{
		CreditsRemaining: acc.Credits,
		IsPro:            acc.IsPro,
		NextRefillAt:     acc.NextRefillAt,
		RefillInSeconds:  int64(acc.RefillIn(now) / time.Second),
		Version:          acc.Version,
	}
}

func viewFromEvent(evt realtime.BalanceEvent, now time.Time) BalanceView {
	return NewBalanceView(credits.Account{
		UserID:       evt.UserID,
		Credits:      evt.Credits,
		IsPro:        evt.IsPro,
		NextRefillAt: evt.NextRefillAt,
		Version:      evt.Version,
	}, now)
}

// StreamMessage is one frame on the balance stream.
type StreamMessage struct {
	Type string      `json:"type"`
	Data BalanceView `json:"data"`
}

// CreditsHandler serves the balance and its live stream.
type CreditsHandler struct {
	ledger   Ledger
	broker   realtime.Broker
	upgrader websocket.Upgrader
	log      zerolog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// NewCreditsHandler creates a credits handler. allowedOrigins gates
// WebSocket upgrades; "*" allows any origin.
func NewCreditsHandler(ledger Ledger, broker realtime.Broker, allowedOrigins []string) *CreditsHandler {
	h := &CreditsHandler{
		ledger:  ledger,
		broker:  broker,
		log:     logger.Component("credits"),
		closing: make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// GetBalance handles GET /api/v1/credits
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())

	acc, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to load balance")
		response.InternalError(w, "Failed to load credits")
		return
	}

	response.Success(w, NewBalanceView(acc, time.Now()))
}

// CloseStreams ends every open balance stream with a normal close frame.
// http.Server.Shutdown does not track hijacked connections, so the server
// calls this from RegisterOnShutdown.
func (h *CreditsHandler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Stream handles GET /api/v1/credits/stream. It subscribes before reading
// the snapshot so no change between the two is lost; clients order frames by
// version.
func (h *CreditsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe, err := h.broker.Subscribe(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to subscribe to balance updates")
		response.InternalError(w, "Live updates unavailable")
		return
	}
	defer unsubscribe()

	acc, err := h.ledger.Balance(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to load balance")
		response.InternalError(w, "Failed to load credits")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reader: only needed for pongs and to notice the client going away.
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v BalanceView) error {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(StreamMessage{Type: "balance", Data: v})
	}

	if err := send(NewBalanceView(acc, time.Now())); err != nil {
		return
	}

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-h.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(streamWriteWait))
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(streamWriteWait))
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := send(viewFromEvent(evt, time.Now())); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
