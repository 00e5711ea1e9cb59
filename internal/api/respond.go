package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docintake/internal/ingest"
	"github.com/dgallion1/docintake/internal/pipeline"
)

var kindStatus = map[ingest.Kind]int{
	ingest.KindDocumentNotFound:        http.StatusNotFound,
	ingest.KindUnsupportedDocumentType: http.StatusBadRequest,
	ingest.KindNoExtractableContent:    http.StatusUnprocessableEntity,
	ingest.KindExtractionFailed:        http.StatusInternalServerError,
	ingest.KindPartialBatchFailure:     http.StatusMultiStatus,
}

// errorStatus maps an error to its HTTP status code.
func errorStatus(err error) int {
	if code, ok := kindStatus[ingest.KindOf(err)]; ok {
		return code
	}
	if errors.Is(err, pipeline.ErrOracleUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeFailure reports err as a JSON error body. Typed ingestion errors keep
// their kind and suggestions.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	code := errorStatus(err)
	var ie *ingest.Error
	if errors.As(err, &ie) {
		writeJSON(w, code, map[string]any{
			"error":       ie.Error(),
			"kind":        ie.Kind,
			"suggestions": ie.Suggestions,
		})
		return
	}
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	jsonError(w, err.Error(), code)
}

// writeReport sends an ingestion report. Failed reports carry the error's
// status code with the report itself as the body.
func (s *Server) writeReport(w http.ResponseWriter, rep ingest.Report, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	if ingest.KindOf(err) == "" {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, errorStatus(err), rep)
}

// decodeBody decodes an optional JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
