package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docintake/internal/config"
	"github.com/dgallion1/docintake/internal/extraction"
	"github.com/dgallion1/docintake/internal/ingest"
	"github.com/dgallion1/docintake/internal/ocr"
	"github.com/dgallion1/docintake/internal/pipeline"
	"github.com/dgallion1/docintake/internal/quality"
	"github.com/dgallion1/docintake/internal/store"
)

const testKey = "test-key"

// pageExtractor returns one OCR page per document, except for ids listed
// in failures.
type pageExtractor struct {
	failures map[string]error
}

func (e pageExtractor) Extract(_ context.Context, doc store.Document, _ extraction.Options) ([]ocr.Result, error) {
	if err, ok := e.failures[doc.ID]; ok {
		return nil, err
	}
	text := "Merchant statement for " + doc.Name + " with interchange and monthly fees."
	return []ocr.Result{{
		Text:           text,
		Confidence:     88,
		Method:         "standard",
		ProcessedWords: ocr.CountWords(text),
		Page:           1,
	}}, nil
}

type testServer struct {
	srv   *Server
	store *store.Memory
	queue *pipeline.Queue
}

func newTestServer(t *testing.T, ex pageExtractor) testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	assessor := quality.NewAssessor(config.DefaultPolicy().QualityThresholds)
	svc := pipeline.NewService(pipeline.Deps{
		Store:     st,
		Extractor: ex,
		Manager:   ingest.NewManager(st, assessor, ingest.ManagerOptions{Log: log}),
		Assessor:  assessor,
		UploadDir: t.TempDir(),
		Log:       log,
	})
	q := pipeline.NewQueue(svc, pipeline.QueueOptions{Workers: 1, Log: log})
	q.Start(context.Background())
	t.Cleanup(q.Stop)

	cfg := config.Config{APIKey: testKey, MaxUploadBytes: 1 << 20}
	return testServer{srv: NewServer(svc, q, ocr.NewStats(time.Hour), log, cfg), store: st, queue: q}
}

func (ts testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func (ts testServer) upload(t *testing.T, name, body string) store.Document {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(body))
	mw.WriteField("category", "statements")
	mw.Close()

	rec := ts.do(t, http.MethodPost, "/api/documents", &buf, mw.FormDataContentType())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 from upload, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Document store.Document `json:"document"`
	}
	decode(t, rec, &resp)
	return resp.Document
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth_Public(t *testing.T) {
	ts := newTestServer(t, pageExtractor{})
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("expected ok health, got %d %s", rec.Code, rec.Body)
	}
}

func TestAuth_RejectsMissingAndWrongKey(t *testing.T) {
	ts := newTestServer(t, pageExtractor{})

	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong key, got %d", rec.Code)
	}
}

func TestAuth_AcceptsHeaderForms(t *testing.T) {
	ts := newTestServer(t, pageExtractor{})
	tests := []struct {
		header, value string
		want          int
	}{
		{"Authorization", "bearer " + testKey, http.StatusOK},
		{"X-API-Key", testKey, http.StatusOK},
		{"Authorization", "Basic " + testKey, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
		req.Header.Set(tt.header, tt.value)
		rec := httptest.NewRecorder()
		ts.srv.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s %q: expected %d, got %d", tt.header, tt.value, tt.want, rec.Code)
		}
	}
}

func TestUploadProcessAndChunks(t *testing.T) {
	ts := newTestServer(t, pageExtractor{})
	doc := ts.upload(t, "march.pdf", "%PDF-1.7")
	if doc.ID == "" || doc.Category != "statements" {
		t.Fatalf("unexpected uploaded document %+v", doc)
	}

	rec := ts.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/process", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var rep ingest.Report
	decode(t, rec, &rep)
	if rep.Status != ingest.StatusSuccess || rep.ChunksCreated != 1 {
		t.Errorf("unexpected report %+v", rep)
	}

	rec = ts.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/process", nil, "")
	decode(t, rec, &rep)
	if rep.Status != ingest.StatusAlreadyProcessed {
		t.Errorf("expected already-processed, got %q", rep.Status)
	}

	rec = ts.do(t, http.MethodGet, "/api/documents/"+doc.ID+"/chunks", nil, "")
	var chunks struct {
		Chunks []store.Chunk `json:"chunks"`
	}
	decode(t, rec, &chunks)
	if len(chunks.Chunks) != 1 || !chunks.Chunks[0].Metadata.IsOCRProcessed {
		t.Errorf("expected one OCR chunk, got %+v", chunks.Chunks)
	}

	rec = ts.do(t, http.MethodGet, "/api/documents", nil, "")
	var list struct {
		Count int `json:"count"`
	}
	decode(t, rec, &list)
	if list.Count != 1 {
		t.Errorf("expected 1 document, got %d", list.Count)
	}
}

func TestUpload_Rejections(t *testing.T) {
	ts := newTestServer(t, pageExtractor{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "tool.exe")
	fw.Write([]byte("MZ"))
	mw.Close()
	rec := ts.do(t, http.MethodPost, "/api/documents", &buf, mw.FormDataContentType())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported type, got %d", rec.Code)
	}

	buf.Reset()
	mw = multipart.NewWriter(&buf)
	fw, _ = mw.CreateFormFile("file", "huge.pdf")
	fw.Write(bytes.Repeat([]byte("a"), 1<<20+10))
	mw.Close()
	rec = ts.do(t, http.MethodPost, "/api/documents", &buf, mw.FormDataContentType())
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for oversized file, got %d", rec.Code)
	}
}

func TestProcess_ErrorStatuses(t *testing.T) {
	ts := newTestServer(t, pageExtractor{})
	doc := ts.upload(t, "empty.pdf", "%PDF-1.7")
	rasterErr := ingest.NewError(ingest.KindExtractionFailed, doc.ID, "Rasterization failed", nil)
	rasterErr.Suggestions = []string{"Check that the PDF opens in a viewer"}
	ts.srv.svc = pipeline.NewService(pipeline.Deps{
		Store:     ts.store,
		Extractor: pageExtractor{failures: map[string]error{doc.ID: rasterErr}},
		Manager:   ingest.NewManager(ts.store, quality.NewAssessor(config.DefaultPolicy().QualityThresholds), ingest.ManagerOptions{}),
		Assessor:  quality.NewAssessor(config.DefaultPolicy().QualityThresholds),
	})

	rec := ts.do(t, http.MethodPost, "/api/documents/missing/process", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/process", nil, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var rep ingest.Report
	decode(t, rec, &rep)
	if rep.Status != ingest.StatusFailed || len(rep.Suggestions) == 0 {
		t.Errorf("expected failed report with suggestions, got %+v", rep)
	}

	rec = ts.do(t, http.MethodGet, "/api/documents/missing/quality", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for quality of missing document, got %d", rec.Code)
	}
}

func TestProcess_Async(t *testing.T) {
	ts := newTestServer(t, pageExtractor{})
	doc := ts.upload(t, "april.png", "png")

	rec := ts.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/process?async=true", nil, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	var accepted struct {
		JobID   string `json:"jobId"`
		PollURL string `json:"pollUrl"`
	}
	decode(t, rec, &accepted)
	if accepted.PollURL != "/api/jobs/"+accepted.JobID {
		t.Errorf("unexpected poll url %q", accepted.PollURL)
	}

	deadline := time.Now().Add(2 * time.Second)
	var snap pipeline.JobSnapshot
	for time.Now().Before(deadline) {
		decode(t, ts.do(t, http.MethodGet, accepted.PollURL, nil, ""), &snap)
		if snap.Status == pipeline.StatusCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if snap.Status != pipeline.StatusCompleted || snap.Report == nil || snap.Report.ChunksCreated != 1 {
		t.Errorf("expected completed job with one chunk, got %+v", snap)
	}

	if rec := ts.do(t, http.MethodGet, "/api/jobs/nope", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestBatchProcess_MultiStatus(t *testing.T) {
	ts := newTestServer(t, pageExtractor{})
	a := ts.upload(t, "a.pdf", "%PDF-1.7 a")
	b := ts.upload(t, "b.pdf", "%PDF-1.7 b")

	body := `{"documentIds":["` + a.ID + `","missing","` + b.ID + `"]}`
	rec := ts.do(t, http.MethodPost, "/api/documents/batch/process", strings.NewReader(body), "application/json")
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d: %s", rec.Code, rec.Body)
	}
	var res pipeline.BatchResult
	decode(t, rec, &res)
	if res.Summary.Total != 3 || res.Summary.Processed != 2 || res.Summary.SuccessRate != 67 {
		t.Errorf("unexpected summary %+v", res.Summary)
	}
	if res.Results[1].Kind != ingest.KindDocumentNotFound {
		t.Errorf("expected DocumentNotFound for second item, got %q", res.Results[1].Kind)
	}

	rec = ts.do(t, http.MethodPost, "/api/documents/batch/process", strings.NewReader(`{"documentIds":[]}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty batch, got %d", rec.Code)
	}
}

func TestReprocessAndQuality(t *testing.T) {
	ts := newTestServer(t, pageExtractor{})
	doc := ts.upload(t, "may.pdf", "%PDF-1.7")

	body := `{"settings":{"density":200,"engines":["document"],"maxTokens":500}}`
	rec := ts.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/reprocess", strings.NewReader(body), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	chunks, _ := ts.store.ListChunks(context.Background(), doc.ID)
	if len(chunks) != 1 || chunks[0].Metadata.ReprocessedAt == nil {
		t.Fatalf("expected reprocessed chunk, got %+v", chunks)
	}
	if got := chunks[0].Metadata.CustomSettings["density"]; got != float64(200) {
		t.Errorf("expected density 200 recorded, got %v", got)
	}

	rec = ts.do(t, http.MethodGet, "/api/documents/"+doc.ID+"/quality", nil, "")
	var qr pipeline.QualityReport
	decode(t, rec, &qr)
	if !qr.HasOCRData || qr.QualityAssessment == nil {
		t.Errorf("expected OCR quality data, got %+v", qr)
	}
}

func TestStatement_OracleUnavailable(t *testing.T) {
	ts := newTestServer(t, pageExtractor{})
	doc := ts.upload(t, "june.pdf", "%PDF-1.7")
	rec := ts.do(t, http.MethodPost, "/api/documents/"+doc.ID+"/statement", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without oracle, got %d", rec.Code)
	}
}

func TestOCRStats(t *testing.T) {
	ts := newTestServer(t, pageExtractor{})
	ts.srv.stats.Record("standard", 120*time.Millisecond, false)

	rec := ts.do(t, http.MethodGet, "/api/stats/ocr", nil, "")
	var resp struct {
		Engines map[string]ocr.StatsSnapshot `json:"engines"`
	}
	decode(t, rec, &resp)
	if resp.Engines["standard"].Count != 1 {
		t.Errorf("expected one standard sample, got %+v", resp.Engines)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"../../etc/passwd":  "passwd",
		`C:\Users\a\b.pdf`:  "b.pdf",
		"..":                "_",
		"":                  "unnamed",
		"statement..v2.pdf": "statement_v2.pdf",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q): expected %q, got %q", in, want, got)
		}
	}
}
