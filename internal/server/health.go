package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthCheck names a dependency and how to probe it.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		overall := "ok"
		statusCode := http.StatusOK
		components := make([]componentStatus, 0, len(checks))
		for _, check := range checks {
			status := componentStatus{Component: check.Name, Status: "ok"}
			if err := check.Ping(ctx); err != nil {
				status.Status = "degraded"
				status.Error = err.Error()
				overall = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
			components = append(components, status)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     overall,
			"components": components,
		})
	}
}
