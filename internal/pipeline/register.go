package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dgallion1/docintake/internal/ingest"
	"github.com/dgallion1/docintake/internal/store"
	"github.com/dgallion1/docintake/internal/textlayer"
)

// Upload is a file to register as a document.
type Upload struct {
	Name     string
	Body     io.Reader
	FolderID string
	Category string
}

// Supported reports whether a file name has an extension the pipeline can
// read: PDFs, images and the text-layer formats.
func Supported(name string) bool {
	mime := textlayer.MIMEForFilename(name)
	if textlayer.IsImage(mime) {
		return true
	}
	_, ok := textlayer.FormatFor(mime)
	return ok
}

// Register copies an upload into the upload directory and records it. The
// MIME type comes from the file extension.
func (s *Service) Register(ctx context.Context, up Upload) (store.Document, error) {
	name := filepath.Base(up.Name)
	if !Supported(name) {
		return store.Document{}, ingest.NewError(ingest.KindUnsupportedDocumentType, "",
			fmt.Sprintf("Unsupported file type %q", filepath.Ext(name)), nil)
	}
	data, err := io.ReadAll(up.Body)
	if err != nil {
		return store.Document{}, fmt.Errorf("read upload: %w", err)
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return store.Document{}, fmt.Errorf("create upload dir: %w", err)
	}

	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id+strings.ToLower(filepath.Ext(name)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return store.Document{}, fmt.Errorf("save upload: %w", err)
	}

	doc := store.Document{
		ID:          id,
		Name:        name,
		MIMEType:    textlayer.MIMEForFilename(name),
		Size:        int64(len(data)),
		Path:        path,
		FolderID:    up.FolderID,
		Category:    up.Category,
		ContentHash: ContentHashHex(data),
	}
	if err := s.store.PutDocument(ctx, doc); err != nil {
		os.Remove(path)
		return store.Document{}, err
	}
	s.log.Info("document registered", "doc_id", id, "name", name, "size", doc.Size, "mime", doc.MIMEType)
	return s.store.GetDocument(ctx, id)
}

// Documents lists every registered document.
func (s *Service) Documents(ctx context.Context) ([]store.Document, error) {
	return s.store.ListDocuments(ctx)
}

// Chunks returns a document's stored chunks in index order.
func (s *Service) Chunks(ctx context.Context, id string) ([]store.Chunk, error) {
	if _, err := s.document(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListChunks(ctx, id)
}
