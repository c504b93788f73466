// Package network exposes the colony over HTTP, server-sent events and
// WebSocket. It is a thin adapter: every decision is made by the engine.
package network

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/lifesupport/colony/server/internal/engine"
	"github.com/lifesupport/colony/server/internal/platform/logger"
)

// maxBodyBytes bounds request bodies on POST endpoints.
const maxBodyBytes = 4 << 10

const helpText = `=== LIFE SUPPORT ===

ENDPOINTS:
  GET  /colony                 - View colony status
  GET  /colony/config          - Get game configuration
  GET  /colony/buildings       - List available buildings
  POST /colony/build/{type}    - Build a structure (body: {"x":0,"y":0})
  POST /colony/reset           - Reset the game
  POST /colony/tick            - Advance one tick now
  GET  /colony/speed           - Current tick interval
  POST /colony/speed           - Change tick interval (body: {"intervalMs":1000}, 200-30000)
  GET  /colony/events          - SSE stream of game ticks
  GET  /colony/history         - Recent journal (?type=TICK&since=0&limit=100)
  GET  /colony/history/recap   - Summary of the current run
  GET  /ws                     - WebSocket (commands: BUILD, TICK, SPEED, RESET, SNAPSHOT)

BUILDING TYPES:
  SOLAR_PANEL     - Generates energy
  HYDROPONIC_FARM - Grows food (needs water & energy)
  WATER_EXTRACTOR - Extracts water (needs energy)
  MINE            - Extracts minerals (needs energy)
  HABITAT         - Houses colonists (increases capacity)

GOAL: Grow your colony without running out of resources!
`

// ColonyAPI serves the REST surface of the colony.
type ColonyAPI struct {
	engine  *engine.Engine
	ticker  *engine.Ticker
	limiter *IPRateLimiter
	logger  *logger.Logger
}

// NewColonyAPI creates the REST handlers. A nil limiter disables rate
// limiting on mutating endpoints.
func NewColonyAPI(e *engine.Engine, t *engine.Ticker, limiter *IPRateLimiter, log *logger.Logger) *ColonyAPI {
	if log == nil {
		log = logger.Discard()
	}
	return &ColonyAPI{
		engine:  e,
		ticker:  t,
		limiter: limiter,
		logger:  log,
	}
}

// BuildRequest is the body of POST /colony/build/{building}.
type BuildRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// SpeedRequest is the body of POST /colony/speed.
type SpeedRequest struct {
	IntervalMs int64 `json:"intervalMs"`
}

// SpeedResponse reports the effective tick interval.
type SpeedResponse struct {
	IntervalMs  int64  `json:"intervalMs"`
	RequestedMs *int64 `json:"requestedMs,omitempty"`
}

// HandleStatus returns the colony snapshot.
// GET /colony
func (a *ColonyAPI) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonSuccess(w, a.engine.Snapshot())
}

// HandleConfig returns the grid size and catalogs.
// GET /colony/config
func (a *ColonyAPI) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonSuccess(w, a.engine.Catalog())
}

// HandleBuildings lists the building catalog.
// GET /colony/buildings
func (a *ColonyAPI) HandleBuildings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonSuccess(w, a.engine.Catalog().Buildings)
}

// HandleBuild places a building. Domain failures are reported in the body
// with success=false; only malformed requests get a 4xx status.
// POST /colony/build/{building}
func (a *ColonyAPI) HandleBuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BuildRequest
	if !readValidated(w, r, buildRequestValidator, &req) {
		return
	}

	report := a.engine.Build(r.PathValue("building"), req.X, req.Y)
	jsonSuccess(w, report)
}

// HandleReset starts a new colony.
// POST /colony/reset
func (a *ColonyAPI) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonSuccess(w, a.engine.Reset())
}

// HandleTick runs one tick outside the schedule.
// POST /colony/tick
func (a *ColonyAPI) HandleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.ticker != nil {
		jsonSuccess(w, a.ticker.ManualTick())
		return
	}
	jsonSuccess(w, a.engine.Tick())
}

// HandleSpeed reads or changes the tick interval.
// GET|POST /colony/speed
func (a *ColonyAPI) HandleSpeed(w http.ResponseWriter, r *http.Request) {
	if a.ticker == nil {
		jsonError(w, "Tick scheduler not running", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		jsonSuccess(w, SpeedResponse{IntervalMs: a.ticker.Interval().Milliseconds()})
	case http.MethodPost:
		var req SpeedRequest
		if !readValidated(w, r, speedRequestValidator, &req) {
			return
		}
		effective := a.ticker.SetSpeed(req.IntervalMs)
		jsonSuccess(w, SpeedResponse{IntervalMs: effective, RequestedMs: &req.IntervalMs})
	default:
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleHelp returns the plain-text endpoint guide.
// GET /colony/help
func (a *ColonyAPI) HandleHelp(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, helpText)
}

// RegisterRoutes sets up the colony API routes.
func (a *ColonyAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/colony", a.HandleStatus)
	mux.HandleFunc("/colony/config", a.HandleConfig)
	mux.HandleFunc("/colony/buildings", a.HandleBuildings)
	mux.HandleFunc("/colony/build/{building}", a.limited(a.HandleBuild))
	mux.HandleFunc("/colony/reset", a.limited(a.HandleReset))
	mux.HandleFunc("/colony/tick", a.limited(a.HandleTick))
	mux.HandleFunc("/colony/speed", a.limitedWrites(a.HandleSpeed))
	mux.HandleFunc("/colony/events", a.HandleEvents)
	mux.HandleFunc("/colony/help", a.HandleHelp)
}

func (a *ColonyAPI) limited(h http.HandlerFunc) http.HandlerFunc {
	if a.limiter == nil {
		return h
	}
	return a.limiter.Middleware(h)
}

// limitedWrites rate limits only non-GET requests.
func (a *ColonyAPI) limitedWrites(h http.HandlerFunc) http.HandlerFunc {
	limited := a.limited(h)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h(w, r)
			return
		}
		limited(w, r)
	}
}

// readValidated reads a bounded body, validates it and decodes it into dst.
// On failure it writes a 400 and returns false.
func readValidated(w http.ResponseWriter, r *http.Request, schema validator, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	if err := decodeValidated(schema, body, dst); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// jsonError sends an error response.
func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// jsonSuccess sends a success response.
func jsonSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(data)
}
