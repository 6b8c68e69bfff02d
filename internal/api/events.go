package api

import (
	"fmt"
	"net/http"

	"ms-buddycart/internal/auth"
)

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// StreamEvents pushes the caller's club notifications (matched, timed out,
// cancelled, delivery requested) as server-sent events until they disconnect.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)

	setupSSEHeaders(w)
	notifications := h.Notifications.Subscribe(ctx, userID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"user_id\":%q}\n\n", userID)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to club events for user: %s", userID))

	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", n.Topic, n.Key, n.Data)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from club events for: %s", userID))
			return
		}
	}
}
