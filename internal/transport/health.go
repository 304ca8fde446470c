// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"net/http"
)

// HealthStatus is the /healthz response body.
type HealthStatus struct {
	Status string `json:"status"` // "ok" or "fail"
	State  string `json:"state"`  // Capture controller state
	Error  string `json:"error,omitempty"`
}

// HealthHandler reports the capture state. check returns the state name and
// the error that stopped capture, if any; a non-nil error answers 503.
func HealthHandler(check func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state, err := check()
		body := HealthStatus{Status: "ok", State: state}
		code := http.StatusOK
		if err != nil {
			body.Status = "fail"
			body.Error = err.Error()
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		}
	}
}
