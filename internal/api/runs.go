package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/soochol/deinline/internal/deinline"
	"github.com/soochol/deinline/internal/report"
	"github.com/soochol/deinline/internal/repository"
	"github.com/soochol/deinline/internal/storage"
)

// listRuns returns all runs with pagination.
// GET /api/runs?limit=20&offset=0&status=partial
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	status := r.URL.Query().Get("status")

	runs, total, err := s.runs.List(r.Context(), limit, offset, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*deinline.RunRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"runs":  runs,
		"total": total,
	})
}

// exportRuns renders the listed runs as an XLSX workbook. Filters match
// listRuns; without a limit every stored run is exported.
// GET /api/runs/export?status=failed
func (s *Server) exportRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := 0, 0
	if r.URL.Query().Get("limit") != "" {
		limit, offset = parsePagination(r)
	}
	runs, _, err := s.runs.List(r.Context(), limit, offset, r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, runs); err != nil {
		slog.Error("export runs", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="runs.xlsx"`)
	w.Write(buf.Bytes())
}

// getRun returns a single run record.
// GET /api/runs/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
		} else {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

type runFile struct {
	Index       int    `json:"index,omitempty"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

// listRunFiles returns the files held in a run's asset store with their
// download URLs. Index is set for files the run record names as extracted.
// GET /api/runs/{id}/files
func (s *Server) listRunFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, store, ok := s.runStore(w, r, id)
	if !ok {
		return
	}

	stored, err := store.List(r.Context())
	if err != nil {
		slog.Error("list run files", "run", id, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	indexes := make(map[string]int, len(run.Images))
	for _, img := range run.Images {
		indexes[img.Filename] = img.Index
	}
	files := make([]runFile, 0, len(stored))
	for _, f := range stored {
		files = append(files, runFile{
			Index:       indexes[f.Filename],
			Filename:    f.Filename,
			ContentType: f.ContentType,
			Size:        f.Size,
			URL:         fmt.Sprintf("/assets/%s/%s", run.ID, f.Filename),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(files)
}

// deleteRunFiles removes every file from a finished run's asset store. The
// run record is kept.
// DELETE /api/runs/{id}/files
func (s *Server) deleteRunFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, store, ok := s.runStore(w, r, id)
	if !ok {
		return
	}
	if run.Status == deinline.RunStatusRunning {
		http.Error(w, "run is still in progress", http.StatusConflict)
		return
	}

	stored, err := store.List(r.Context())
	if err != nil {
		slog.Error("list run files", "run", id, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	deleted := 0
	for _, f := range stored {
		if err := store.Delete(r.Context(), f.Filename); err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Error("delete run file", "run", id, "file", f.Filename, "err", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		deleted++
	}
	slog.Info("run files deleted", "run", id, "count", deleted)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"deleted": deleted})
}

// runStore looks up a run and opens its asset store, writing the error
// response itself when either fails.
func (s *Server) runStore(w http.ResponseWriter, r *http.Request, id string) (*deinline.RunRecord, storage.Storage, bool) {
	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
		} else {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return nil, nil, false
	}
	store, err := s.stores(run.ID)
	if err != nil {
		slog.Error("open run store", "run", id, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return nil, nil, false
	}
	return run, store, true
}

// serveAsset streams one extracted image.
// GET /assets/{id}/{file}
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if _, err := s.runs.Get(r.Context(), id); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	store, err := s.stores(id)
	if err != nil {
		slog.Error("open run store", "run", id, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	name := chi.URLParam(r, "file")
	info, rc, err := store.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
			http.Error(w, "not found", http.StatusNotFound)
		} else {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	escaped := strings.ReplaceAll(info.Filename, `"`, `\"`)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, escaped))
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("serveAsset: copy interrupted", "run", id, "file", name, "err", err)
	}
}

func parsePagination(r *http.Request) (int, int) {
	limit := 20
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}
