// Package health serves the liveness endpoint of restarter serve.
package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/terrpan/restarter/internal/buildinfo"
)

// Target describes what the service restarts.  It is reported as is;
// nothing here is checked against the control plane.
type Target struct {
	ControlPlane string        `json:"control_plane"`
	Notifier     string        `json:"notifier"`
	Instances    int           `json:"instances"`
	Wait         time.Duration `json:"-"`
}

// Build is the binary's ldflags-injected version plus the Go runtime.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Response is the /healthz body.
type Response struct {
	Status      string    `json:"status"`
	Target      Target    `json:"target"`
	WaitSeconds float64   `json:"wait_seconds"`
	Build       Build     `json:"build"`
	Uptime      string    `json:"uptime"`
	Timestamp   time.Time `json:"timestamp"`
}

// Handler reports liveness.  A restart in flight does not affect it.
func Handler(target Target) http.HandlerFunc {
	started := time.Now()
	build := Build{
		Version:   buildinfo.Version,
		Commit:    buildinfo.Commit,
		BuildTime: buildinfo.BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		_ = json.NewEncoder(w).Encode(Response{
			Status:      "alive",
			Target:      target,
			WaitSeconds: target.Wait.Seconds(),
			Build:       build,
			Uptime:      time.Since(started).Truncate(time.Second).String(),
			Timestamp:   time.Now().UTC(),
		})
	}
}
