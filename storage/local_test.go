package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"caseintake-backend/config"

	"github.com/google/uuid"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	id := uuid.New()
	path, err := s.Upload(ctx, "case-1", id, "fence photos.pdf", strings.NewReader("pdf-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	want := "cases/case-1/" + id.String() + "_fence_photos.pdf"
	if path != want {
		t.Fatalf("storage path = %q, want %q", path, want)
	}

	r, err := s.Download(ctx, path)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "pdf-bytes" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := s.Delete(ctx, path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, path); err != nil {
		t.Fatalf("deleting a missing file should succeed, got %v", err)
	}
	if _, err := s.Download(ctx, path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalStorageRejectsEscapingPaths(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	if _, err := s.Download(context.Background(), "../../etc/passwd"); err == nil {
		t.Fatalf("expected error for a path outside the base directory")
	}

	path, err := s.Upload(context.Background(), "../other", uuid.New(), "../../x.txt", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if strings.Contains(path, "..") {
		t.Fatalf("storage path escapes the case directory: %q", path)
	}
}

func TestNewStorage(t *testing.T) {
	s, err := NewStorage(context.Background(), config.StorageConfig{Type: TypeLocal, LocalPath: t.TempDir()})
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	if _, ok := s.(*LocalStorage); !ok {
		t.Fatalf("expected local storage, got %T", s)
	}
	if _, err := NewStorage(context.Background(), config.StorageConfig{Type: TypeS3}); err == nil {
		t.Fatalf("expected error for S3 without a bucket")
	}
	if _, err := NewStorage(context.Background(), config.StorageConfig{Type: "ftp"}); err == nil {
		t.Fatalf("expected error for unknown storage type")
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("Contract.PDF"); got != "application/pdf" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := ContentType("notes"); got != "application/octet-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
}
