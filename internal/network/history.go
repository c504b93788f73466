package network

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lifesupport/colony/server/internal/events"
	"github.com/lifesupport/colony/server/internal/infra/storage"
	"github.com/lifesupport/colony/server/internal/platform/logger"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// HistoryHandler serves the colony journal for viewers and auditors.
type HistoryHandler struct {
	eventLog *events.EventLog
	recon    *storage.Reconstructor
	runID    string
	logger   *logger.Logger
}

// NewHistoryHandler creates a journal viewer for the current run. recon may
// be nil when storage is disabled; recaps are then built from memory.
func NewHistoryHandler(el *events.EventLog, recon *storage.Reconstructor, runID string, log *logger.Logger) *HistoryHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &HistoryHandler{
		eventLog: el,
		recon:    recon,
		runID:    runID,
		logger:   log,
	}
}

// HistoryResponse is the API response for the journal viewer.
type HistoryResponse struct {
	RunID       string             `json:"runId"`
	LastSeq     int64              `json:"lastSeq"`
	Total       int                `json:"total"`
	FilteredBy  string             `json:"filteredBy,omitempty"`
	GeneratedAt string             `json:"generatedAt"`
	Events      []events.GameEvent `json:"events"`
}

// HandleHistory returns journal events in sequence order. The current run is
// served from memory; other runs, and ranges older than the in-memory
// history, are read from storage when it is enabled.
// GET /colony/history?run=ID&type=TICK&since=N&limit=N
func (h *HistoryHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	eventType := events.EventType(q.Get("type"))
	runID := q.Get("run")
	if runID == "" {
		runID = h.runID
	}

	var since int64
	if s := q.Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			jsonError(w, "Invalid since", http.StatusBadRequest)
			return
		}
		since = v
	}

	limit := defaultHistoryLimit
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			jsonError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(v, maxHistoryLimit)
	}

	var (
		out     []events.GameEvent
		lastSeq int64
	)
	if runID == h.runID {
		out = h.fromMemory(eventType, since, limit)
		lastSeq = h.eventLog.LastSeq()
	}
	if h.recon != nil && (runID != h.runID || h.trimmedBefore(since)) {
		evs, err := h.recon.Page(r.Context(), runID, eventType, since, limit)
		if err != nil {
			h.logger.Error("history lookup failed", "run_id", runID, "error", err)
			jsonError(w, "Failed to load history", http.StatusInternalServerError)
			return
		}
		out = evs
		if runID != h.runID && len(evs) > 0 {
			lastSeq = evs[len(evs)-1].Seq
		}
	} else if runID != h.runID {
		jsonError(w, "Run not found", http.StatusNotFound)
		return
	}
	if out == nil {
		out = []events.GameEvent{}
	}

	jsonSuccess(w, HistoryResponse{
		RunID:       runID,
		LastSeq:     lastSeq,
		Total:       len(out),
		FilteredBy:  string(eventType),
		GeneratedAt: time.Now().Format(time.RFC3339),
		Events:      out,
	})
}

func (h *HistoryHandler) fromMemory(eventType events.EventType, since int64, limit int) []events.GameEvent {
	var src []events.GameEvent
	if eventType != "" {
		src = h.eventLog.GetByType(eventType)
	} else {
		src = h.eventLog.Since(since)
	}
	out := make([]events.GameEvent, 0, min(len(src), limit))
	for _, e := range src {
		if e.Seq <= since {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out
}

// trimmedBefore reports whether events after since have already been
// dropped from the in-memory history.
func (h *HistoryHandler) trimmedBefore(since int64) bool {
	if since >= h.eventLog.LastSeq() {
		return false
	}
	retained := h.eventLog.Since(since)
	return len(retained) == 0 || retained[0].Seq > since+1
}

// HandleEventDetail returns one retained event by sequence number.
// GET /colony/history/{seq}
func (h *HistoryHandler) HandleEventDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	seq, err := strconv.ParseInt(r.PathValue("seq"), 10, 64)
	if err != nil || seq <= 0 {
		jsonError(w, "Invalid sequence number", http.StatusBadRequest)
		return
	}
	for _, e := range h.eventLog.Since(seq - 1) {
		if e.Seq == seq {
			jsonSuccess(w, e)
			return
		}
		break
	}
	jsonError(w, "Event not found", http.StatusNotFound)
}

// HandleRecap summarizes a run. Without storage only the current run is
// available, and only as far back as the in-memory history reaches.
// GET /colony/history/recap?run=ID
func (h *HistoryHandler) HandleRecap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := r.URL.Query().Get("run")
	if runID == "" {
		runID = h.runID
	}

	if h.recon != nil {
		recap, err := h.recon.Recap(r.Context(), runID)
		if err != nil {
			h.logger.Error("recap failed", "run_id", runID, "error", err)
			jsonError(w, "Failed to build recap", http.StatusInternalServerError)
			return
		}
		jsonSuccess(w, recap)
		return
	}

	if runID != h.runID {
		jsonError(w, "Run not found", http.StatusNotFound)
		return
	}
	jsonSuccess(w, storage.BuildRecap(runID, h.eventLog.Replay()))
}

// RegisterRoutes sets up the journal viewer routes.
func (h *HistoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/colony/history", h.HandleHistory)
	mux.HandleFunc("/colony/history/recap", h.HandleRecap)
	mux.HandleFunc("/colony/history/{seq}", h.HandleEventDetail)
}
