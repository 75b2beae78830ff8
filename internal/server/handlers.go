package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	ragerrors "github.com/ragdex/ragdex/internal/errors"
	"github.com/ragdex/ragdex/internal/index"
)

// maxUploadBytes caps multipart uploads at 32MB.
const maxUploadBytes = 32 << 20

type ingestRequest struct {
	Texts []string            `json:"texts"`
	Metas []map[string]string `json:"metas,omitempty"`
}

type queryRequest struct {
	Text string `json:"text"`
}

type deleteRequest struct {
	ID     *int64 `json:"id,omitempty"`
	Source string `json:"source,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	n, err := s.index.Ingest(r.Context(), req.Texts, req.Metas)
	if err != nil {
		s.respondIndexError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"ingested": n})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "cannot read upload")
		return
	}

	text, err := s.extractor.ExtractBytes(content, strings.ToLower(filepath.Ext(header.Filename)))
	if err != nil {
		s.logger.Warn("upload_extract_failed",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()))
		s.respondError(w, http.StatusBadRequest, "cannot extract text from upload")
		return
	}

	chunker := s.chunker
	if size := queryInt(r, "size", 0); size > 0 {
		chunker = chunker.WithSize(size, queryInt(r, "overlap", chunker.Overlap))
	}

	chunks := chunker.Split(text)
	if len(chunks) == 0 {
		s.respondError(w, http.StatusBadRequest, "upload contains no extractable text")
		return
	}

	metas := make([]map[string]string, len(chunks))
	for i := range chunks {
		metas[i] = map[string]string{
			"source": header.Filename,
			"chunk":  strconv.Itoa(i),
		}
	}

	n, err := s.index.Ingest(r.Context(), chunks, metas)
	if err != nil {
		s.respondIndexError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"ingested_chunks": n})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	k := queryInt(r, "k", 0)
	results := s.index.Query(r.Context(), req.Text, k)
	if results == nil {
		results = []index.Result{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == nil && req.Source == "" {
		s.respondError(w, http.StatusBadRequest, "provide id or source")
		return
	}

	var removed int
	var err error
	if req.ID != nil {
		removed, err = s.index.RemoveByIDs(r.Context(), []int64{*req.ID})
	} else {
		removed, err = s.index.RemoveBySource(r.Context(), req.Source)
	}
	if err != nil {
		s.respondIndexError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"removed_count": removed})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	samples, err := s.index.Metas(limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"count":   s.index.Count(),
		"samples": samples,
	})
}

func (s *Server) handleIndexGrouped(w http.ResponseWriter, _ *http.Request) {
	groups, err := s.index.GroupedBySource()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"items":         groups,
		"total_sources": len(groups),
		"total_chunks":  s.index.Count(),
	})
}

// respondIndexError maps structured index errors to HTTP status codes.
// Validation problems and aborted rebuilds are the caller's fault;
// everything else is a 500.
func (s *Server) respondIndexError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case ragerrors.IsValidation(err):
		status = http.StatusBadRequest
	case ragerrors.GetCode(err) == ragerrors.ErrCodeRebuildFailed:
		status = http.StatusBadRequest
	case ragerrors.GetCode(err) == ragerrors.ErrCodeEmbedderUnavailable,
		ragerrors.GetCode(err) == ragerrors.ErrCodeEmbeddingFailed:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request_failed", slog.String("error", err.Error()))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// queryInt parses an integer query parameter, returning def when absent or
// malformed.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
