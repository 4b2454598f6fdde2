package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// StreamEvents upgrades to a websocket and streams session state changes
// until the client disconnects. Events a slow client cannot keep up with
// are dropped by the bus, never queued unboundedly.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	events, cancel := h.bus.Subscribe()
	defer cancel()

	ctx := ws.CloseRead(r.Context())
	slog.Info("event stream opened", "ip", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, ws, ev); err != nil {
				if !errors.Is(err, ctx.Err()) {
					slog.Debug("event stream write failed", "error", err)
				}
				return
			}
		}
	}
}
