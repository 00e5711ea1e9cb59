package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "docintake.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func testDoc(id string) Document {
	return Document{
		ID:          id,
		Name:        "statement.pdf",
		MIMEType:    "application/pdf",
		Size:        1024,
		Path:        "/uploads/" + id + ".pdf",
		Category:    "statements",
		ContentHash: "abc123",
	}
}

func testChunk(docID string, index int, content string) Chunk {
	page := 0
	return Chunk{
		ID:         docID + "-" + content,
		DocumentID: docID,
		ChunkIndex: index,
		Content:    content,
		TokenCount: 3,
		StartChar:  index * 10,
		EndChar:    index*10 + len(content),
		Metadata: Metadata{
			OCRMethod:      "OCR-standard",
			Confidence:     82.5,
			Improvements:   []string{"Text sharpening"},
			IsOCRProcessed: true,
			ExtractedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Page:           &page,
			QualityVerdict: "acceptable",
		},
	}
}

func TestStore_DocumentLifecycle(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			if err := s.PutDocument(ctx, testDoc("doc-1")); err != nil {
				t.Fatalf("PutDocument: %v", err)
			}
			got, err := s.GetDocument(ctx, "doc-1")
			if err != nil {
				t.Fatalf("GetDocument: %v", err)
			}
			if got.Name != "statement.pdf" || got.Size != 1024 || got.ContentHash != "abc123" {
				t.Errorf("unexpected document %+v", got)
			}
			if got.CreatedAt.IsZero() || got.ProcessedAt != nil {
				t.Errorf("expected created set and processed unset, got %+v", got)
			}

			at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
			if err := s.MarkProcessed(ctx, "doc-1", at); err != nil {
				t.Fatalf("MarkProcessed: %v", err)
			}
			got, _ = s.GetDocument(ctx, "doc-1")
			if got.ProcessedAt == nil || !got.ProcessedAt.Equal(at) {
				t.Errorf("expected processedAt %v, got %v", at, got.ProcessedAt)
			}
			if err := s.MarkProcessed(ctx, "missing", at); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}

			if err := s.PutDocument(ctx, testDoc("doc-2")); err != nil {
				t.Fatal(err)
			}
			docs, err := s.ListDocuments(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(docs) != 2 {
				t.Errorf("expected 2 documents, got %d", len(docs))
			}
		})
	}
}

func TestStore_ChunksOrderedAndValidated(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.PutDocument(ctx, testDoc("doc-1")); err != nil {
				t.Fatal(err)
			}
			for _, c := range []Chunk{
				testChunk("doc-1", 2, "third"),
				testChunk("doc-1", 0, "first"),
				testChunk("doc-1", 1, "second"),
			} {
				if err := s.InsertChunk(ctx, c); err != nil {
					t.Fatalf("InsertChunk: %v", err)
				}
			}

			chunks, err := s.ListChunks(ctx, "doc-1")
			if err != nil {
				t.Fatalf("ListChunks: %v", err)
			}
			var contents []string
			for _, c := range chunks {
				contents = append(contents, c.Content)
			}
			if strings.Join(contents, ",") != "first,second,third" {
				t.Errorf("expected ordered chunks, got %v", contents)
			}
			md := chunks[0].Metadata
			if md.OCRMethod != "OCR-standard" || !md.IsOCRProcessed || md.Page == nil || *md.Page != 0 {
				t.Errorf("metadata did not round trip: %+v", md)
			}

			dup := testChunk("doc-1", 1, "again")
			if err := s.InsertChunk(ctx, dup); err == nil {
				t.Error("expected duplicate chunk index to fail")
			}

			bad := testChunk("doc-1", 3, "bad")
			bad.Metadata.OCRMethod = ""
			if err := s.InsertChunk(ctx, bad); err == nil {
				t.Error("expected invalid metadata to be rejected")
			}

			if err := s.DeleteChunks(ctx, "doc-1"); err != nil {
				t.Fatal(err)
			}
			chunks, _ = s.ListChunks(ctx, "doc-1")
			if len(chunks) != 0 {
				t.Errorf("expected no chunks after delete, got %d", len(chunks))
			}
		})
	}
}

func TestStore_ReplaceChunksIsAtomic(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.PutDocument(ctx, testDoc("doc-1")); err != nil {
				t.Fatal(err)
			}
			for i, content := range []string{"old-a", "old-b"} {
				if err := s.InsertChunk(ctx, testChunk("doc-1", i, content)); err != nil {
					t.Fatal(err)
				}
			}

			r := s.(Replacer)
			bad := testChunk("doc-1", 1, "new-b")
			bad.Metadata.Confidence = 250
			err := r.ReplaceChunks(ctx, "doc-1", []Chunk{testChunk("doc-1", 0, "new-a"), bad})
			if err == nil {
				t.Fatal("expected invalid confidence to fail the replacement")
			}
			chunks, _ := s.ListChunks(ctx, "doc-1")
			if len(chunks) != 2 || chunks[0].Content != "old-a" {
				t.Fatalf("expected old chunks to survive, got %+v", chunks)
			}

			if err := r.ReplaceChunks(ctx, "doc-1", []Chunk{testChunk("doc-1", 0, "new-a")}); err != nil {
				t.Fatalf("ReplaceChunks: %v", err)
			}
			chunks, _ = s.ListChunks(ctx, "doc-1")
			if len(chunks) != 1 || chunks[0].Content != "new-a" {
				t.Errorf("expected replaced chunk set, got %+v", chunks)
			}
		})
	}
}

func TestSQL_MigrationsAreRecorded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docintake.db")
	s, err := OpenSQLite(context.Background(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenSQLite(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 recorded migrations, got %d", n)
	}
}

func TestSQL_Rebind(t *testing.T) {
	s := &SQL{dialect: DialectPostgres}
	got := s.rebind("SELECT * FROM chunks WHERE document_id = ? AND chunk_index = ?")
	want := "SELECT * FROM chunks WHERE document_id = $1 AND chunk_index = $2"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	s.dialect = DialectSQLite
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Errorf("expected sqlite query unchanged, got %q", got)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "", nil); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	s, err := Open(context.Background(), "memory", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Errorf("expected *Memory, got %T", s)
	}
}
