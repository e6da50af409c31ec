package health

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// VersionInfo is the body of /version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// LivenessHandler serves /health. It always answers 200 while the process
// is serving.
//
//	{"status": "ok", "timestamp": "2026-03-02T10:30:00Z"}
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return probe(func(r *http.Request) (int, any) {
		return http.StatusOK, c.CheckLiveness(r.Context())
	})
}

// ReadinessHandler serves /ready. Ready and degraded answer 200;
// unhealthy answers 503.
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "attachments": {"status": "ok", "duration_ms": 90000},
//	        "backend:chatgpt": {"status": "ok", "optional": true},
//	        "backend:theb": {"status": "unhealthy", "optional": true, "message": "credential refresh failed: ..."}
//	    },
//	    "timestamp": "2026-03-02T10:30:00Z"
//	}
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return probe(func(r *http.Request) (int, any) {
		status := c.CheckReadiness(r.Context())
		if status.Status == StatusUnhealthy {
			return http.StatusServiceUnavailable, status
		}
		return http.StatusOK, status
	})
}

// VersionHandler serves /version.
func VersionHandler(version, commit, buildTime string) http.HandlerFunc {
	info := VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}
	return probe(func(*http.Request) (int, any) {
		return http.StatusOK, info
	})
}

// probe restricts a handler to GET and HEAD and writes its body as JSON.
func probe(fn func(r *http.Request) (int, any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		code, body := fn(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if r.Method != http.MethodHead {
			_ = json.NewEncoder(w).Encode(body)
		}
	}
}

// Register mounts /health, /ready and /version on mux.
func Register(mux *http.ServeMux, checker *Checker, version, commit, buildTime string) {
	mux.HandleFunc("/health", checker.LivenessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/version", VersionHandler(version, commit, buildTime))
}
