package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/soochol/deinline/internal/deinline"
	"github.com/soochol/deinline/internal/extract"
	"github.com/soochol/deinline/internal/services"
)

const maxDocumentSize = 50 << 20 // 50MB

type extractRequest struct {
	Document   string `json:"document"`
	Replace    string `json:"replace"`
	KeepInline string `json:"keep_inline"`
}

type extractResponse struct {
	Run      *deinline.RunRecord `json:"run"`
	Document string              `json:"document"`
}

// extractDocument rewrites a posted document. The body is either the raw
// document or a JSON extractRequest when Content-Type is application/json.
// POST /api/extract
func (s *Server) extractDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentSize)

	var req extractRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "document too large (max 50MB)", http.StatusBadRequest)
			return
		}
		req.Document = string(body)
	}

	opts := s.extractions.Defaults()
	if req.Replace != "" {
		policy, err := deinline.ParseReplacePolicy(req.Replace)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Policy = policy
	}
	if req.KeepInline != "" {
		keep, err := extract.NewKeepFilter(req.KeepInline)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Keep = keep
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
		return
	}
	defer s.limiter.Release()

	opts.RunID = services.NewRunID()
	job := deinline.Job{
		Name:         "http",
		AssetsDir:    opts.RunID,
		AssetsPrefix: "./assets/" + opts.RunID,
	}
	store, err := s.stores(opts.RunID)
	if err != nil {
		slog.Error("open run store", "run", opts.RunID, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if sub := subjectFrom(r.Context()); sub != "" {
		job.Name = "http:" + sub
	}
	rec, doc, err := s.extractions.Process(r.Context(), store, job, req.Document, opts)
	if err != nil {
		slog.Error("extraction failed", "run", opts.RunID, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(extractResponse{Run: rec, Document: doc})
}
