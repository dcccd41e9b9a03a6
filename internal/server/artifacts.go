package server

import (
	"errors"
	"net/http"

	"github.com/tejjnayak/sandchat/internal/artifact"
	"github.com/tejjnayak/sandchat/internal/proto"
)

func (c *controller) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trail := c.app.Audit.Trail(id)
	if trail == nil {
		trail = []proto.AuditStep{}
	}
	jsonEncode(w, proto.AuditReport{
		SessionID: id,
		Trail:     trail,
		Stats:     c.app.Audit.Stats(id),
	})
}

func (c *controller) handleGetArtifacts(w http.ResponseWriter, r *http.Request) {
	list, err := c.app.Artifacts.List()
	if err != nil {
		c.logError(r, "failed to list artifacts", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}
	if list == nil {
		list = []proto.ArtifactInfo{}
	}
	jsonEncode(w, proto.ArtifactList{Artifacts: list})
}

func (c *controller) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, contentType, err := c.app.Artifacts.Read(name)
	if err != nil {
		c.artifactError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(body)
}

func (c *controller) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := c.app.Artifacts.Delete(name); err != nil {
		c.artifactError(w, r, err)
		return
	}
	jsonEncode(w, map[string]string{"status": "deleted", "name": name})
}

func (c *controller) artifactError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		jsonError(w, http.StatusNotFound, "artifact not found")
	case errors.Is(err, artifact.ErrInvalidName):
		jsonError(w, http.StatusBadRequest, "invalid artifact name")
	default:
		c.logError(r, "artifact operation failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "artifact operation failed")
	}
}
