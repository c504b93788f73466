package network

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseKeepAlive is how often an idle stream gets a comment line.
const sseKeepAlive = 15 * time.Second

// HandleEvents streams every tick report published after the client
// connects as server-sent events. A client that falls behind is dropped by
// the broadcaster and its stream ends.
// GET /colony/events
func (a *ColonyAPI) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := a.engine.Subscribe()
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	a.logger.Debug("sse client connected", "remote", r.RemoteAddr)
	defer a.logger.Debug("sse client disconnected", "remote", r.RemoteAddr)

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case report, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(report)
			if err != nil {
				a.logger.Error("failed to encode tick report", "tick", report.Tick, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", report.Tick, data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
