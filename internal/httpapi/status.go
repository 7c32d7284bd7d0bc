package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StreamStatus handles GET /uploads/{id}/status: a server-sent-events feed
// of progress.Record snapshots for the upload (spec §4.10, §6). Browsers
// cannot set headers on an EventSource connection, so the access token may
// arrive via ?token= instead of Authorization (handled by authmw).
func (h *Handlers) StreamStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "internal",
			"message": "streaming unsupported",
		})
		return
	}

	records, unsubscribe := h.progress.Subscribe(id)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if rec.Terminal {
				return
			}
		}
	}
}
