package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ogulcanaydogan/bi-sentinel/internal/auth"
)

// Handler upgrades authenticated requests to budget-alert sessions.
type Handler struct {
	verifier  auth.Verifier
	evaluator Evaluator
	hub       *Hub
	cfg       Config
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler creates the /ws/budget-alerts handler.
func NewHandler(v auth.Verifier, ev Evaluator, hub *Hub, cfg Config, logger *slog.Logger) *Handler {
	cfg = cfg.withDefaults()
	h := &Handler{
		verifier:  v,
		evaluator: ev,
		hub:       hub,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
		Error: func(w http.ResponseWriter, _ *http.Request, _ int, reason error) {
			writeError(w, http.StatusInternalServerError, reason.Error())
		},
	}
	return h
}

// WithClock replaces the time source used for message timestamps.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Upgrade", "websocket")
		writeError(w, http.StatusUpgradeRequired, "Expected websocket connection")
		return
	}

	userID, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	s := newSession(conn, userID, h.evaluator, h.cfg, h.logger, h.now)
	if err := h.hub.register(s); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(h.cfg.WriteWait))
		conn.Close()
		return
	}
	defer h.hub.unregister(s)

	h.logger.Info("websocket session opened", "session_id", s.id, "user_id", userID)
	s.run(r.Context())
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.cfg.AllowedOrigins, origin)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
