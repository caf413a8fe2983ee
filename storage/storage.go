// Package storage keeps uploaded evidence files on the local filesystem or
// in S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"caseintake-backend/config"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a stored file does not exist
var ErrNotFound = errors.New("stored file not found")

// Storage interface for evidence file storage operations
type Storage interface {
	// Upload stores a file under the case and returns the storage path
	Upload(ctx context.Context, caseID string, fileID uuid.UUID, filename string, data io.Reader) (string, error)

	// Download retrieves a file by storage path
	Download(ctx context.Context, storagePath string) (io.ReadCloser, error)

	// Delete removes a file by storage path
	Delete(ctx context.Context, storagePath string) error
}

// Backend types
const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// NewStorage creates a storage backend from cfg
func NewStorage(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case TypeLocal, "":
		return NewLocalStorage(cfg.LocalPath)
	case TypeS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("AWS_S3_BUCKET is required for S3 storage")
		}
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// storagePath builds cases/<case>/<id>_<name><ext>. The file id keeps names
// unique within a case.
func storagePath(caseID string, fileID uuid.UUID, filename string) string {
	ext := filepath.Ext(filename)
	base := sanitize(strings.TrimSuffix(filepath.Base(filename), ext))
	return path.Join("cases", sanitize(caseID), fmt.Sprintf("%s_%s%s", fileID.String(), base, sanitize(ext)))
}

func sanitize(s string) string {
	return strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_").Replace(s)
}

// ContentType guesses a MIME type from the file extension
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
