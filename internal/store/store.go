// Package store persists documents and their chunks.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// Document is an uploaded file.
type Document struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	MIMEType    string     `json:"mimeType"`
	Size        int64      `json:"size"`
	Path        string     `json:"path"`
	FolderID    string     `json:"folderId,omitempty"`
	Category    string     `json:"category,omitempty"`
	ContentHash string     `json:"contentHash,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// Chunk is one stored piece of a document's extracted text.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	ChunkIndex int       `json:"chunkIndex"`
	Content    string    `json:"content"`
	TokenCount int       `json:"tokenCount"`
	StartChar  int       `json:"startChar"`
	EndChar    int       `json:"endChar"`
	Metadata   Metadata  `json:"metadata"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store is the document and chunk table.
type Store interface {
	GetDocument(ctx context.Context, id string) (Document, error)
	PutDocument(ctx context.Context, doc Document) error
	ListDocuments(ctx context.Context) ([]Document, error)
	MarkProcessed(ctx context.Context, id string, at time.Time) error

	DeleteChunks(ctx context.Context, documentID string) error
	InsertChunk(ctx context.Context, c Chunk) error
	// ListChunks returns chunks ordered by ChunkIndex.
	ListChunks(ctx context.Context, documentID string) ([]Chunk, error)

	Close() error
}

// Replacer is implemented by stores that can swap a document's chunk set in
// one transaction.
type Replacer interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error
}
