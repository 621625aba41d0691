package http

import (
	"log/slog"
	"net/http"

	gorillaws "github.com/gorilla/websocket"

	"ratecal/internal/config"
	"ratecal/internal/middleware"
	"ratecal/internal/websocket"
)

// WebSocketHandler upgrades clients onto the progress hub.
type WebSocketHandler struct {
	hub      *websocket.Hub
	upgrader *gorillaws.Upgrader
	timing   websocket.Timing
	logger   *slog.Logger
}

// NewWebSocketHandler creates a websocket handler
func NewWebSocketHandler(hub *websocket.Hub, cfg config.WebSocketConfig, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		upgrader: websocket.NewUpgrader(cfg),
		timing:   websocket.TimingFrom(cfg),
		logger:   logger.With(slog.String("handler", "websocket")),
	}
}

// ServeHTTP handles GET /ws. The optional run_id query parameter limits the
// stream to one run.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the handshake error.
		h.logger.WarnContext(r.Context(), "WebSocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", middleware.GetRealIP(r)))
		return
	}

	runID := r.URL.Query().Get("run_id")
	client := websocket.ServeWS(h.hub, websocket.NewConnectionWrapper(conn), runID,
		middleware.GetRequestID(r.Context()), h.timing, h.logger)

	h.logger.InfoContext(r.Context(), "WebSocket client connected",
		slog.String("client_id", client.ID()),
		slog.String("run_id", runID))
}
