package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
)

// VersionInfo describes the running binary. Populated from build-time
// ldflags via SetVersionInfo.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

var (
	versionMu   sync.RWMutex
	versionInfo = VersionInfo{Version: "dev"}
)

// SetVersionInfo records build metadata for the /version endpoint.
func SetVersionInfo(v VersionInfo) {
	versionMu.Lock()
	defer versionMu.Unlock()
	if v.Version != "" {
		versionInfo = v
	}
}

// Version serves the build metadata.
func Version(w http.ResponseWriter, _ *http.Request) {
	versionMu.RLock()
	v := versionInfo
	versionMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
