package handlers

import (
	"encoding/json"
	"net/http"
)

// Health serves a liveness check. The process is healthy whenever it can
// answer; run-level trouble shows up on /status, not here.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
