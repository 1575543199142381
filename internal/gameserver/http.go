package gameserver

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blockfall/server/internal/telemetry"
)

// registerHTTP mounts the operational endpoints next to the websocket
// handler: Prometheus metrics, a liveness probe, and a JSON status summary.
func (s *Server) registerHTTP() {
	registry := prometheus.NewRegistry()
	registry.MustRegister(telemetry.NewCollector(s.netMetrics, s.syncMetrics))
	s.mgr.RegisterHTTP("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.mgr.RegisterHTTP("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	}))

	s.mgr.RegisterHTTP("/status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := s.Status()
		payload := struct {
			Status
			UptimeSeconds float64 `json:"uptimeSeconds"`
		}{Status: status, UptimeSeconds: status.Uptime.Seconds()}

		data, err := json.Marshal(payload)
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}))
}
