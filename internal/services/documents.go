package services

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"documind/internal/models"
)

// DocumentService stores uploaded PDFs on disk and records them in the database.
type DocumentService struct {
	db        *sql.DB
	uploadDir string
}

func NewDocumentService(db *sql.DB, uploadDir string) *DocumentService {
	return &DocumentService{db: db, uploadDir: uploadDir}
}

func (s *DocumentService) Create(ctx context.Context, original string, pageCount int, data []byte) (*models.Document, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure upload dir: %w", err)
	}

	name := uuid.NewString() + filepath.Ext(original)
	storedPath := filepath.Join(s.uploadDir, name)
	if err := os.WriteFile(storedPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (original_name, stored_path, page_count, uploaded_at)
		VALUES (?, ?, ?, ?);
	`, original, storedPath, pageCount, now)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	id, _ := res.LastInsertId()

	return &models.Document{
		ID:           id,
		OriginalName: original,
		StoredPath:   storedPath,
		PageCount:    pageCount,
		UploadedAt:   now,
	}, nil
}

func (s *DocumentService) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, original_name, stored_path, page_count, uploaded_at
		FROM documents WHERE id = ?;
	`, id)
	var doc models.Document
	if err := row.Scan(
		&doc.ID,
		&doc.OriginalName,
		&doc.StoredPath,
		&doc.PageCount,
		&doc.UploadedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("document %d not found", id)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}
