package models

import (
	"time"

	"github.com/google/uuid"
)

// File represents an uploaded evidence file
type File struct {
	ID          uuid.UUID `json:"id"`
	CaseID      string    `json:"case_id"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}
