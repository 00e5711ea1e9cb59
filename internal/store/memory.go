package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store. Chunks are kept in encoded form so that
// reads and writes go through the same metadata validation as SQL.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]Document
	chunks map[string][]storedChunk
}

type storedChunk struct {
	chunk    Chunk
	metadata []byte
}

var (
	_ Store    = (*Memory)(nil)
	_ Replacer = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		docs:   make(map[string]Document),
		chunks: make(map[string][]storedChunk),
	}
}

func (m *Memory) GetDocument(_ context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, nil
}

func (m *Memory) PutDocument(_ context.Context, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.docs[doc.ID]; ok {
		doc.CreatedAt = prev.CreatedAt
	} else if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	m.docs[doc.ID] = doc
	return nil
}

func (m *Memory) ListDocuments(_ context.Context) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) MarkProcessed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	at = at.UTC()
	doc.ProcessedAt = &at
	doc.UpdatedAt = at
	m.docs[id] = doc
	return nil
}

func (m *Memory) DeleteChunks(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, documentID)
	return nil
}

func (m *Memory) InsertChunk(_ context.Context, c Chunk) error {
	sc, err := encodeChunk(c)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.chunks[c.DocumentID] {
		if existing.chunk.ChunkIndex == c.ChunkIndex {
			return fmt.Errorf("chunk %d of document %s already exists", c.ChunkIndex, c.DocumentID)
		}
	}
	m.chunks[c.DocumentID] = append(m.chunks[c.DocumentID], sc)
	return nil
}

func (m *Memory) ReplaceChunks(_ context.Context, documentID string, chunks []Chunk) error {
	encoded := make([]storedChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("chunk %s belongs to document %s", c.ID, c.DocumentID)
		}
		sc, err := encodeChunk(c)
		if err != nil {
			return err
		}
		encoded = append(encoded, sc)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[documentID] = encoded
	return nil
}

func (m *Memory) ListChunks(_ context.Context, documentID string) ([]Chunk, error) {
	m.mu.RLock()
	stored := append([]storedChunk(nil), m.chunks[documentID]...)
	m.mu.RUnlock()

	out := make([]Chunk, 0, len(stored))
	for _, sc := range stored {
		md, err := DecodeMetadata(sc.metadata)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", sc.chunk.ID, err)
		}
		c := sc.chunk
		c.Metadata = md
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (m *Memory) Close() error { return nil }

func encodeChunk(c Chunk) (storedChunk, error) {
	if err := checkChunk(c); err != nil {
		return storedChunk{}, err
	}
	md, err := EncodeMetadata(c.Metadata)
	if err != nil {
		return storedChunk{}, fmt.Errorf("chunk %d: %w", c.ChunkIndex, err)
	}
	c.Metadata = Metadata{}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return storedChunk{chunk: c, metadata: md}, nil
}

// checkChunk enforces the row-level invariants shared by all backends.
func checkChunk(c Chunk) error {
	switch {
	case c.ID == "":
		return fmt.Errorf("chunk id is required")
	case c.DocumentID == "":
		return fmt.Errorf("chunk document id is required")
	case c.Content == "":
		return fmt.Errorf("chunk %d has empty content", c.ChunkIndex)
	case c.ChunkIndex < 0:
		return fmt.Errorf("chunk index %d is negative", c.ChunkIndex)
	case c.StartChar >= c.EndChar:
		return fmt.Errorf("chunk %d: start %d is not before end %d", c.ChunkIndex, c.StartChar, c.EndChar)
	}
	return nil
}
