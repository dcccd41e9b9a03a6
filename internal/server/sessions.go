package server

import (
	"bytes"
	"net/http"

	"github.com/tejjnayak/sandchat/internal/export"
	"github.com/tejjnayak/sandchat/internal/proto"
)

const errSessionNotFound = "session not found"

func (c *controller) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, c.app.Sessions.List())
}

func (c *controller) handleGetSessionsSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		jsonEncode(w, c.app.Sessions.List())
		return
	}
	jsonEncode(w, c.app.Sessions.Search(q))
}

func (c *controller) handleGetSessionCurrent(w http.ResponseWriter, r *http.Request) {
	sess, ok := c.app.Sessions.Current()
	if !ok {
		sess = c.app.Sessions.Create(c.cfg.DefaultModel)
	}
	jsonEncode(w, sess.Info())
}

func (c *controller) handlePostReset(w http.ResponseWriter, r *http.Request) {
	sess := c.app.Sessions.Reset(c.cfg.DefaultModel)
	jsonEncode(w, sess.Info())
}

func (c *controller) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := c.app.Sessions.Get(id)
	if !ok {
		jsonError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	jsonEncode(w, sess)
}

func (c *controller) handleGetSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := c.app.Sessions.Get(id); !ok {
		jsonError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	msgs := c.app.Sessions.Messages(id)
	if msgs == nil {
		msgs = []proto.Message{}
	}
	jsonEncode(w, proto.SessionMessages{Messages: msgs})
}

func (c *controller) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req proto.SessionUpdate
	if !c.decodeJSON(w, r, &req) {
		return
	}
	sess, ok := c.app.Sessions.Update(id, req)
	if !ok {
		jsonError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	jsonEncode(w, sess.Info())
}

func (c *controller) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !c.app.DeleteSession(id) {
		jsonError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	jsonEncode(w, proto.SessionDeleted{Status: "deleted", SessionID: id})
}

func (c *controller) handleGetSessionExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := c.app.Sessions.Get(id)
	if !ok {
		jsonError(w, http.StatusNotFound, errSessionNotFound)
		return
	}
	e, err := export.NewExporter(r.URL.Query().Get("format"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc := export.NewDocument(sess)
	var buf bytes.Buffer
	if err := e.Export(doc, &buf); err != nil {
		c.logError(r, "failed to export session", "error", err, "id", id)
		jsonError(w, http.StatusInternalServerError, "failed to export session")
		return
	}
	w.Header().Set("Content-Type", e.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(doc, e)+`"`)
	_, _ = w.Write(buf.Bytes())
}
