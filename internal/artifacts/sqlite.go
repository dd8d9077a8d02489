package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/tessellate-ai/loom/pkg/models"
)

// SQLRepository stores artifact metadata in SQLite and artifact data
// in a Store backend.
type SQLRepository struct {
	db     *sql.DB
	store  Store
	logger *slog.Logger
}

// OpenSQLite opens (or creates) a SQLite-backed repository at path.
// ":memory:" gives an ephemeral database.
func OpenSQLite(path string, store Store, logger *slog.Logger) (*SQLRepository, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open artifact database: %w", err)
	}
	repo, err := NewSQLRepository(db, store, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLRepository wraps an existing database handle and ensures the
// schema exists.
func NewSQLRepository(db *sql.DB, store Store, logger *slog.Logger) (*SQLRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	repo := &SQLRepository{db: db, store: store, logger: logger}
	if err := repo.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *SQLRepository) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			mime_type TEXT,
			path TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("create artifacts schema: %w", err)
	}
	return nil
}

// Close closes the store and the database.
func (r *SQLRepository) Close() error {
	if err := r.store.Close(); err != nil {
		return err
	}
	return r.db.Close()
}

// Create persists the artifact's bytes and metadata.
func (r *SQLRepository) Create(ctx context.Context, artifact *models.Artifact, data io.Reader) (*models.Artifact, error) {
	if artifact == nil {
		return nil, fmt.Errorf("artifact is required")
	}
	stored := *artifact
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	ref, size, err := r.store.Put(ctx, stored.ID, data, stored.MimeType)
	if err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}
	stored.Path = ref
	stored.SizeBytes = size

	var metaJSON []byte
	if len(stored.Metadata) > 0 {
		metaJSON, err = json.Marshal(stored.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode artifact metadata: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, session_id, name, mime_type, path, size_bytes, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.SessionID, stored.Name, stored.MimeType,
		stored.Path, stored.SizeBytes, nullableString(metaJSON), stored.CreatedAt)
	if err != nil {
		if delErr := r.store.Delete(ctx, stored.ID); delErr != nil {
			r.logger.Warn("cleanup after failed artifact insert", "id", stored.ID, "error", delErr)
		}
		return nil, fmt.Errorf("insert artifact: %w", err)
	}

	r.logger.Info("artifact stored",
		"id", stored.ID,
		"session_id", stored.SessionID,
		"name", stored.Name,
		"size", stored.SizeBytes)

	return &stored, nil
}

// Get returns artifact metadata by id.
func (r *SQLRepository) Get(ctx context.Context, id string) (*models.Artifact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, name, mime_type, path, size_bytes, metadata, created_at
		FROM artifacts WHERE id = ?`, id)
	return scanArtifact(row)
}

// Open returns a reader over the artifact's bytes.
func (r *SQLRepository) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return r.store.Get(ctx, id)
}

// List returns artifacts matching the filter, newest first.
func (r *SQLRepository) List(ctx context.Context, filter Filter) ([]*models.Artifact, error) {
	query := `
		SELECT id, session_id, name, mime_type, path, size_bytes, metadata, created_at
		FROM artifacts WHERE 1=1`
	var args []any

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.MimeType != "" {
		query += " AND mime_type = ?"
		args = append(args, filter.MimeType)
	}
	if !filter.CreatedAfter.IsZero() {
		query += " AND created_at > ?"
		args = append(args, filter.CreatedAfter)
	}
	if !filter.CreatedBefore.IsZero() {
		query += " AND created_at < ?"
		args = append(args, filter.CreatedBefore)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var result []*models.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, artifact)
	}
	return result, rows.Err()
}

// Delete removes the artifact and its bytes.
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if err := r.store.Delete(ctx, id); err != nil {
		r.logger.Warn("delete artifact bytes", "id", id, "error", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*models.Artifact, error) {
	var a models.Artifact
	var mimeType, metaJSON sql.NullString
	err := row.Scan(&a.ID, &a.SessionID, &a.Name, &mimeType, &a.Path,
		&a.SizeBytes, &metaJSON, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	a.MimeType = mimeType.String
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("decode artifact metadata: %w", err)
		}
	}
	return &a, nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
