package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"caseintake-backend/models"
	"caseintake-backend/service"
	"caseintake-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// FileStore records uploaded evidence files
type FileStore interface {
	Create(ctx context.Context, file *models.File) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.File, error)
	ListByCaseID(ctx context.Context, caseID string) ([]*models.File, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// FileHandler handles evidence uploads and downloads
type FileHandler struct {
	intake           *service.IntakeService
	files            FileStore
	storage          storage.Storage
	maxFileSize      int64
	allowedMimeTypes map[string]bool
}

// NewFileHandler creates a new file handler
func NewFileHandler(intake *service.IntakeService, files FileStore, store storage.Storage) *FileHandler {
	allowed := make(map[string]bool)
	for _, mimeType := range []string{
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"image/jpeg",
		"image/png",
	} {
		allowed[mimeType] = true
	}
	return &FileHandler{
		intake:           intake,
		files:            files,
		storage:          store,
		maxFileSize:      10 * 1024 * 1024, // 10MB
		allowedMimeTypes: allowed,
	}
}

// RegisterRoutes mounts the file routes on api
func (h *FileHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/intake/:caseId/evidence", h.UploadEvidence)
	api.GET("/intake/:caseId/evidence", h.ListEvidence)
	api.GET("/files/:id", h.GetFile)
	api.DELETE("/files/:id", h.DeleteFile)
}

// UploadEvidence handles POST /api/intake/:caseId/evidence. The stored file
// is appended to the draft's evidence list as a user edit.
func (h *FileHandler) UploadEvidence(c *gin.Context) {
	ctx := c.Request.Context()
	session, err := h.intake.Session(ctx, c.Param("caseId"))
	if err != nil {
		writeError(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "MISSING_FILE", "File is required")
		return
	}
	if fileHeader.Size > h.maxFileSize {
		errorJSON(c, http.StatusBadRequest, "FILE_TOO_LARGE",
			fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize))
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = storage.ContentType(fileHeader.Filename)
	}
	if !h.allowedMimeTypes[mimeType] && !strings.HasPrefix(mimeType, "text/") {
		errorJSON(c, http.StatusBadRequest, "INVALID_FILE_TYPE",
			"File type not allowed. Allowed types: PDF, TXT, DOC, DOCX, JPEG, PNG")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
		return
	}
	defer file.Close()

	fileID := uuid.New()
	storagePath, err := h.storage.Upload(ctx, session.CaseID(), fileID, fileHeader.Filename, file)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "UPLOAD_FAILED", fmt.Sprintf("Failed to upload file: %v", err))
		return
	}

	record := &models.File{
		ID:          fileID,
		CaseID:      session.CaseID(),
		Filename:    fileHeader.Filename,
		MimeType:    mimeType,
		Size:        fileHeader.Size,
		StoragePath: storagePath,
	}
	if err := h.files.Create(ctx, record); err != nil {
		if delErr := h.storage.Delete(ctx, storagePath); delErr != nil {
			log.Printf("Warning: Failed to clean up %s: %v", storagePath, delErr)
		}
		errorJSON(c, http.StatusInternalServerError, "DATABASE_ERROR", fmt.Sprintf("Failed to save file record: %v", err))
		return
	}

	err = session.Merger().AppendEvidence(ctx, models.Evidence{
		Title:    fileHeader.Filename,
		URL:      "/api/files/" + fileID.String(),
		Notes:    c.PostForm("notes"),
		Category: c.PostForm("category"),
	})
	if err != nil {
		// the file is stored; only the draft link is missing
		log.Printf("Warning: Failed to attach %s to draft %s: %v", fileID, session.CaseID(), err)
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"file":    record,
			"session": session.Snapshot(ctx),
		},
	})
}

// ListEvidence handles GET /api/intake/:caseId/evidence
func (h *FileHandler) ListEvidence(c *gin.Context) {
	caseID := c.Param("caseId")
	if err := h.intake.ValidateCaseID(caseID); err != nil {
		writeError(c, err)
		return
	}

	files, err := h.files.ListByCaseID(c.Request.Context(), caseID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    files,
	})
}

// GetFile handles GET /api/files/:id
func (h *FileHandler) GetFile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_ID", "Invalid file ID format")
		return
	}

	file, err := h.files.GetByID(c.Request.Context(), id)
	if err != nil {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", "File not found")
		return
	}

	reader, err := h.storage.Download(c.Request.Context(), file.StoragePath)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "DOWNLOAD_FAILED", fmt.Sprintf("Failed to download file: %v", err))
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.DataFromReader(http.StatusOK, file.Size, file.MimeType, reader, nil)
}

// DeleteFile handles DELETE /api/files/:id. The draft's evidence list is
// left to the user.
func (h *FileHandler) DeleteFile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_ID", "Invalid file ID format")
		return
	}

	ctx := c.Request.Context()
	file, err := h.files.GetByID(ctx, id)
	if err != nil {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", "File not found")
		return
	}
	if err := h.storage.Delete(ctx, file.StoragePath); err != nil {
		errorJSON(c, http.StatusInternalServerError, "DELETE_FAILED", err.Error())
		return
	}
	if err := h.files.Delete(ctx, id); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"id": id},
	})
}
