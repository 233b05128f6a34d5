package health

import (
	"encoding/json"
	"net/http"
)

type status struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// HealthzHandler answers 200 {"status":"ok"} when p passes (or is nil) and
// 503 with the failure reason otherwise.
func HealthzHandler(p Probe) http.HandlerFunc {
	return handler(p, "ok")
}

// ReadyzHandler is HealthzHandler reporting "ready".
func ReadyzHandler(p Probe) http.HandlerFunc {
	return handler(p, "ready")
}

func handler(p Probe, okStatus string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, body := http.StatusOK, status{Status: okStatus}
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				code, body = http.StatusServiceUnavailable, status{Status: "unavailable", Reason: err.Error()}
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}
