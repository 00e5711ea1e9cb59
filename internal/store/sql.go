package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/dgallion1/docintake/internal/store/migrations"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// timeLayout is fixed width so that TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQL is a Store over database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
	closeFn func()
}

var (
	_ Store    = (*SQL)(nil)
	_ Replacer = (*SQL)(nil)
)

// Open opens the store named by driver ("sqlite", "postgres" or "memory").
func Open(ctx context.Context, driver, dsn string, log *slog.Logger) (Store, error) {
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "":
		return OpenSQLite(ctx, dsn, log)
	case "postgres":
		return OpenPostgres(ctx, dsn, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, path string, log *slog.Logger) (*SQL, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; transactions would otherwise contend on the file lock.
	db.SetMaxOpenConns(1)

	return newSQL(ctx, db, DialectSQLite, log, nil)
}

func newSQL(ctx context.Context, db *sql.DB, dialect Dialect, log *slog.Logger, closeFn func()) (*SQL, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &SQL{db: db, dialect: dialect, log: log, closeFn: closeFn}
	if err := s.migrate(ctx, migrations.FS); err != nil {
		s.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQL) Close() error {
	err := s.db.Close()
	if s.closeFn != nil {
		s.closeFn()
	}
	return err
}

// migrate applies every NNN_name.up.sql newer than the recorded version.
func (s *SQL) migrate(ctx context.Context, fsys fs.FS) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range strings.Split(string(content), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("executing migration %s: %w", name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
			version, formatTime(time.Now())); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Debug("applied migration", "name", name)
	}
	return nil
}

// rebind rewrites ? placeholders to $N for Postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const documentColumns = "id, name, mime_type, size, path, folder_id, category, content_hash, created_at, updated_at, processed_at"

func (s *SQL) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+documentColumns+" FROM documents WHERE id = ?"), id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

func (s *SQL) PutDocument(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			mime_type = excluded.mime_type,
			size = excluded.size,
			path = excluded.path,
			folder_id = excluded.folder_id,
			category = excluded.category,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at,
			processed_at = excluded.processed_at`),
		doc.ID, doc.Name, doc.MIMEType, doc.Size, doc.Path,
		nullString(doc.FolderID), nullString(doc.Category), nullString(doc.ContentHash),
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt), nullTime(doc.ProcessedAt))
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

func (s *SQL) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+documentColumns+" FROM documents ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQL) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind("UPDATE documents SET processed_at = ?, updated_at = ? WHERE id = ?"),
		formatTime(at), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("marking document processed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQL) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM chunks WHERE document_id = ?"), documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQL) InsertChunk(ctx context.Context, c Chunk) error {
	return s.insertChunk(ctx, s.db, c)
}

func (s *SQL) insertChunk(ctx context.Context, ex execer, c Chunk) error {
	if err := checkChunk(c); err != nil {
		return err
	}
	md, err := EncodeMetadata(c.Metadata)
	if err != nil {
		return fmt.Errorf("chunk %d: %w", c.ChunkIndex, err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err = ex.ExecContext(ctx, s.rebind(`
		INSERT INTO chunks (id, document_id, chunk_index, content, token_count, start_char, end_char, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.DocumentID, c.ChunkIndex, c.Content, c.TokenCount, c.StartChar, c.EndChar, string(md), formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
	}
	return nil
}

// ReplaceChunks deletes and re-inserts a document's chunks in one
// transaction.
func (s *SQL) ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM chunks WHERE document_id = ?"), documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	for _, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("chunk %s belongs to document %s", c.ID, c.DocumentID)
		}
		if err := s.insertChunk(ctx, tx, c); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQL) ListChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, document_id, chunk_index, content, token_count, start_char, end_char, metadata, created_at
		FROM chunks WHERE document_id = ? ORDER BY chunk_index`), documentID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c         Chunk
			md        string
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.TokenCount,
			&c.StartChar, &c.EndChar, &md, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if c.Metadata, err = DecodeMetadata([]byte(md)); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("chunk %s created_at: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var (
		doc                            Document
		folderID, category, hash, proc sql.NullString
		createdAt, updatedAt           string
	)
	if err := row.Scan(&doc.ID, &doc.Name, &doc.MIMEType, &doc.Size, &doc.Path,
		&folderID, &category, &hash, &createdAt, &updatedAt, &proc); err != nil {
		return Document{}, err
	}
	doc.FolderID = folderID.String
	doc.Category = category.String
	doc.ContentHash = hash.String

	var err error
	if doc.CreatedAt, err = parseTime(createdAt); err != nil {
		return Document{}, err
	}
	if doc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Document{}, err
	}
	if proc.Valid {
		t, err := parseTime(proc.String)
		if err != nil {
			return Document{}, err
		}
		doc.ProcessedAt = &t
	}
	return doc, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
