// HTTP handlers for metrics and health
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"encoding/json"
	"net/http"
	"time"
)

// Handler serves the registry in Prometheus text format.
func Handler(r *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Gather()))
	})
}

// HealthHandler reports uptime and the result of check. A nil check
// always reports healthy.
func HealthHandler(started time.Time, check func() error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		status := map[string]any{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		}
		code := http.StatusOK
		if check != nil {
			if err := check(); err != nil {
				status["status"] = "degraded"
				status["error"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})
}
