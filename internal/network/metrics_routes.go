package network

import (
	"net/http"

	"github.com/lifesupport/colony/server/internal/platform/metrics"
	"github.com/lifesupport/colony/server/internal/platform/optimization"
)

// RecommendationsResponse pairs the tuning advice with the config it would
// produce from the active profile.
type RecommendationsResponse struct {
	Recommendations *optimization.Recommendations `json:"recommendations"`
	Current         optimization.Config           `json:"current"`
	Suggested       optimization.Config           `json:"suggested"`
}

// RegisterMetricsRoutes mounts /metrics, /metrics/prometheus and
// /metrics/recommendations for the collector and active tuning profile.
func RegisterMetricsRoutes(mux *http.ServeMux, c *metrics.Collector, tuning *optimization.Config) {
	mux.HandleFunc("/metrics", c.Handler())
	mux.HandleFunc("/metrics/prometheus", c.PrometheusHandler())
	mux.HandleFunc("/metrics/recommendations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		current := *tuning
		suggested := current
		rec := optimization.Analyze(c.Snapshot())
		optimization.ApplyRecommendations(&suggested, rec)
		jsonSuccess(w, RecommendationsResponse{
			Recommendations: rec,
			Current:         current,
			Suggested:       suggested,
		})
	})
}
