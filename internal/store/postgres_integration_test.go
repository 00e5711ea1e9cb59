//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgres_Integration(t *testing.T) {
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("docintake_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	s, err := OpenPostgres(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer s.Close()

	if err := s.PutDocument(ctx, testDoc("doc-1")); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}
	for i, content := range []string{"old-a", "old-b"} {
		if err := s.InsertChunk(ctx, testChunk("doc-1", i, content)); err != nil {
			t.Fatalf("InsertChunk: %v", err)
		}
	}
	if err := s.ReplaceChunks(ctx, "doc-1", []Chunk{testChunk("doc-1", 0, "new-a")}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	chunks, err := s.ListChunks(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].Content != "new-a" {
		t.Errorf("expected replaced chunk set, got %+v", chunks)
	}

	at := time.Now().UTC().Truncate(time.Microsecond)
	if err := s.MarkProcessed(ctx, "doc-1", at); err != nil {
		t.Fatal(err)
	}
	doc, err := s.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.ProcessedAt == nil || !doc.ProcessedAt.Equal(at) {
		t.Errorf("expected processedAt %v, got %v", at, doc.ProcessedAt)
	}
}
