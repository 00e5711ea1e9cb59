package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docintake/internal/ocr"
	"github.com/dgallion1/docintake/internal/pipeline"
)

func jobResponse(job *pipeline.Job) map[string]any {
	snap := job.Snapshot()
	return map[string]any{
		"jobId":      snap.ID,
		"documentId": snap.DocumentID,
		"status":     snap.Status,
		"pollUrl":    fmt.Sprintf("/api/jobs/%s", snap.ID),
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.queue.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleOCRStats(w http.ResponseWriter, r *http.Request) {
	engines := map[string]ocr.StatsSnapshot{}
	if s.stats != nil {
		engines = s.stats.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"engines":    engines,
		"queueDepth": s.queue.QueueDepth(),
	})
}
