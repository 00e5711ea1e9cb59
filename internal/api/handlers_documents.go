package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docintake/internal/pipeline"
	"github.com/dgallion1/docintake/internal/store"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Extra 1MB for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	doc, err := s.svc.Register(r.Context(), pipeline.Upload{
		Name:     sanitizeFilename(header.Filename),
		Body:     bytes.NewReader(data),
		FolderID: r.FormValue("folderId"),
		Category: r.FormValue("category"),
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	resp := map[string]any{"document": doc}
	if r.FormValue("process") == "true" {
		job, err := s.queue.Submit(doc.ID, pipeline.ProcessOptions{})
		if err != nil {
			s.log.Warn("could not queue uploaded document", "doc_id", doc.ID, "error", err)
		} else {
			resp["job"] = jobResponse(job)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.svc.Documents(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	chunks, err := s.svc.Chunks(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if chunks == nil {
		chunks = []store.Chunk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documentId": id, "chunks": chunks})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var opts pipeline.ProcessOptions
	if err := decodeBody(r, &opts); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if force, err := strconv.ParseBool(r.URL.Query().Get("force")); err == nil && force {
		opts.ForceReprocess = true
	}

	if r.URL.Query().Get("async") == "true" {
		job, err := s.queue.Submit(id, opts)
		if err != nil {
			jsonError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusAccepted, jobResponse(job))
		return
	}

	rep, err := s.svc.ProcessDocument(r.Context(), id, opts)
	s.writeReport(w, rep, err)
}

type batchRequest struct {
	DocumentIDs    []string `json:"documentIds"`
	ForceReprocess bool     `json:"forceReprocess"`
}

func (s *Server) handleBatchProcess(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.DocumentIDs) == 0 {
		jsonError(w, "documentIds is required", http.StatusBadRequest)
		return
	}

	res, err := s.svc.ProcessBatch(r.Context(), req.DocumentIDs, pipeline.ProcessOptions{ForceReprocess: req.ForceReprocess})
	code := http.StatusOK
	if err != nil {
		code = errorStatus(err)
	}
	writeJSON(w, code, res)
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.GetQualityReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type reprocessRequest struct {
	Settings pipeline.Settings `json:"settings"`
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	var req reprocessRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	rep, err := s.svc.ReprocessWithSettings(r.Context(), chi.URLParam(r, "id"), req.Settings)
	s.writeReport(w, rep, err)
}

func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.svc.AnalyzeStatement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}
