package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/tejjnayak/sandchat/internal/proto"
	"github.com/tejjnayak/sandchat/internal/version"
)

type controller struct {
	*Server
}

func (c *controller) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, proto.Health{
		Status: "ok",
		Model:  c.app.Sandboxes.Model(),
	})
}

func (c *controller) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, proto.VersionInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Backend:   c.cfg.Sandbox.Backend,
		Model:     c.app.Sandboxes.Model(),
	})
}

// decodeJSON reads the request body into v and reports a 400 when it
// cannot.
func (c *controller) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode request")
		return false
	}
	return true
}

func jsonEncode(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(proto.Error{Message: message, Detail: message})
}
