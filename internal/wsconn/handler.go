package wsconn

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"mveditor/api/internal/realtime"
)

const workspacePrefix = "/ws/workspace/"

// Handler serves /ws/workspace/{workspace_id}?token=... sessions.
type Handler struct {
	gateway *realtime.Gateway
	opts    Options
	logger  *slog.Logger
}

// NewHandler returns a handler that upgrades requests and runs them through gateway.
func NewHandler(gateway *realtime.Gateway, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{gateway: gateway, opts: opts, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	workspaceID := strings.Trim(strings.TrimPrefix(r.URL.Path, workspacePrefix), "/")
	if !strings.HasPrefix(r.URL.Path, workspacePrefix) || workspaceID == "" || strings.Contains(workspaceID, "/") {
		http.NotFound(w, r)
		return
	}

	conn, err := Accept(w, r, h.opts)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "workspace_id", workspaceID, "error", err)
		return
	}

	err = h.gateway.Serve(r.Context(), conn, workspaceID, r.URL.Query().Get("token"))
	switch {
	case err == nil:
	case errors.Is(err, realtime.ErrMissingCredential), errors.Is(err, realtime.ErrInvalidCredential):
		h.logger.Info("websocket session rejected", "workspace_id", workspaceID, "error", err)
	case errors.Is(err, realtime.ErrShuttingDown):
		h.logger.Info("websocket session refused during shutdown", "workspace_id", workspaceID, "conn_id", conn.ID())
	default:
		h.logger.Warn("websocket session ended", "workspace_id", workspaceID, "conn_id", conn.ID(), "error", err)
	}
}
