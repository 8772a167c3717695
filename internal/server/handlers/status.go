package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/seqworks/peakscreen/pkg/pipeline"
)

// ProgressSource yields a point-in-time run snapshot.
type ProgressSource func() pipeline.Progress

var (
	progressMu     sync.RWMutex
	progressSource ProgressSource
)

// SetProgressSource wires the running controller into /status. A nil
// source means no run is in flight.
func SetProgressSource(fn ProgressSource) {
	progressMu.Lock()
	defer progressMu.Unlock()
	progressSource = fn
}

type statusResponse struct {
	Active   bool               `json:"active"`
	Progress *pipeline.Progress `json:"progress,omitempty"`
}

// Status serves the current run progress.
func Status(w http.ResponseWriter, _ *http.Request) {
	progressMu.RLock()
	src := progressSource
	progressMu.RUnlock()

	resp := statusResponse{}
	if src != nil {
		p := src()
		resp.Active = true
		resp.Progress = &p
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
