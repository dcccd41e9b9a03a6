package server

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tejjnayak/sandchat/internal/knowledge"
	"github.com/tejjnayak/sandchat/internal/proto"
)

// maxUploadMemory bounds the part of a multipart upload held in memory.
const maxUploadMemory = 8 << 20

func (c *controller) knowledgeIndex(w http.ResponseWriter) (*knowledge.Index, bool) {
	if c.app.Knowledge == nil {
		jsonError(w, http.StatusServiceUnavailable, "knowledge index is not available")
		return nil, false
	}
	return c.app.Knowledge, true
}

func (c *controller) handlePostKnowledgeUpload(w http.ResponseWriter, r *http.Request) {
	idx, ok := c.knowledgeIndex(w)
	if !ok {
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		res proto.KnowledgeIngested
		err error
	)
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			jsonError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		res, err = idx.IngestReader(r.Context(), filepath.Base(header.Filename), file)
	default:
		var doc proto.KnowledgeDocument
		if !c.decodeJSON(w, r, &doc) {
			return
		}
		if strings.TrimSpace(doc.Source) == "" {
			jsonError(w, http.StatusUnprocessableEntity, "source is required")
			return
		}
		res, err = idx.Ingest(r.Context(), doc.Source, doc.Content)
	}

	switch {
	case errors.Is(err, knowledge.ErrEmptyDocument), errors.Is(err, knowledge.ErrUnsupportedType):
		jsonError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		c.logError(r, "failed to ingest document", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to ingest document")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		jsonEncode(w, res)
	}
}

func (c *controller) handleGetKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	idx, ok := c.knowledgeIndex(w)
	if !ok {
		return
	}
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		jsonError(w, http.StatusUnprocessableEntity, "q is required")
		return
	}
	k := c.cfg.Knowledge.TopK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, http.StatusUnprocessableEntity, "k must be a positive integer")
			return
		}
		k = n
	}

	results, err := idx.Search(r.Context(), q, k)
	if err != nil {
		c.logError(r, "knowledge search failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "knowledge search failed")
		return
	}
	if results == nil {
		results = []proto.KnowledgeResult{}
	}
	jsonEncode(w, proto.KnowledgeResults{Query: q, Results: results})
}

func (c *controller) handleGetKnowledgeSources(w http.ResponseWriter, r *http.Request) {
	idx, ok := c.knowledgeIndex(w)
	if !ok {
		return
	}
	sources, err := idx.Sources(r.Context())
	if err != nil {
		c.logError(r, "failed to list knowledge sources", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list knowledge sources")
		return
	}
	if sources == nil {
		sources = []string{}
	}
	jsonEncode(w, map[string][]string{"sources": sources})
}
