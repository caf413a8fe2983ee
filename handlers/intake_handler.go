package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"caseintake-backend/models"
	"caseintake-backend/repository"
	"caseintake-backend/service"

	"github.com/gin-gonic/gin"
)

// IntakeHandler handles HTTP requests for AI-assisted intake sessions
type IntakeHandler struct {
	intake *service.IntakeService
}

// NewIntakeHandler creates a new intake handler
func NewIntakeHandler(intake *service.IntakeService) *IntakeHandler {
	return &IntakeHandler{intake: intake}
}

// RegisterRoutes mounts the intake routes on api
func (h *IntakeHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/fields", h.ListFields)

	intake := api.Group("/intake/:caseId")
	{
		intake.GET("", h.GetSession)
		intake.DELETE("", h.ResetSession)
		intake.PUT("/fields/:field", h.EditField)
		intake.POST("/fields/:field/apply", h.ApplyField)
		intake.POST("/ai-fields", h.ApplyAIFields)
		intake.POST("/messages", h.SendMessage)
		intake.POST("/plan", h.GeneratePlan)
		intake.GET("/plan", h.GetPlan)
		intake.GET("/events", h.Events)
	}
}

// FieldValueRequest carries one field value. Value may be a string or, for
// list fields, an array.
type FieldValueRequest struct {
	Value json.RawMessage `json:"value"`
}

// ApplyAIFieldsRequest carries AI-proposed values keyed by extraction key
type ApplyAIFieldsRequest struct {
	UpdatedFields map[string]json.RawMessage `json:"updated_fields" binding:"required"`
}

// SendMessageRequest is one user chat turn
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// ListFields handles GET /api/fields
func (h *IntakeHandler) ListFields(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"fields":   h.intake.Fields().Fields(),
			"required": h.intake.Fields().Required(),
		},
	})
}

// GetSession handles GET /api/intake/:caseId
func (h *IntakeHandler) GetSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    session.Snapshot(c.Request.Context()),
	})
}

// ResetSession handles DELETE /api/intake/:caseId
func (h *IntakeHandler) ResetSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	session.Reset(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    session.Snapshot(c.Request.Context()),
	})
}

// EditField handles PUT /api/intake/:caseId/fields/:field
func (h *IntakeHandler) EditField(c *gin.Context) {
	h.setField(c, false)
}

// ApplyField handles POST /api/intake/:caseId/fields/:field/apply
func (h *IntakeHandler) ApplyField(c *gin.Context) {
	h.setField(c, true)
}

func (h *IntakeHandler) setField(c *gin.Context, suggestion bool) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req FieldValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if len(req.Value) == 0 {
		req.Value = json.RawMessage("null")
	}

	ctx := c.Request.Context()
	var err error
	if suggestion {
		err = session.Merger().ApplyOneField(ctx, c.Param("field"), req.Value)
	} else {
		err = session.Merger().EditField(ctx, c.Param("field"), req.Value)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    session.Snapshot(ctx),
	})
}

// ApplyAIFields handles POST /api/intake/:caseId/ai-fields
func (h *IntakeHandler) ApplyAIFields(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req ApplyAIFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	ctx := c.Request.Context()
	applied := session.Merger().ApplyAIFields(ctx, req.UpdatedFields)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"applied": applied,
			"session": session.Snapshot(ctx),
		},
	})
}

// SendMessage handles POST /api/intake/:caseId/messages
func (h *IntakeHandler) SendMessage(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	ctx := c.Request.Context()
	turn, err := session.SendToAI(ctx, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"turn":    turn,
			"session": session.Snapshot(ctx),
		},
	})
}

// GeneratePlan handles POST /api/intake/:caseId/plan
func (h *IntakeHandler) GeneratePlan(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	record, err := session.GenerateCase(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    record,
	})
}

// GetPlan handles GET /api/intake/:caseId/plan
func (h *IntakeHandler) GetPlan(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	record, err := session.LatestPlan(c.Request.Context())
	if err == nil && record == nil {
		err = repository.ErrCasePlanNotFound
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    record,
	})
}

// DraftEvent is the payload of a "draft" server-sent event
type DraftEvent struct {
	CaseID        string           `json:"case_id"`
	Draft         models.CaseDraft `json:"draft"`
	Progress      int              `json:"progress"`
	MissingFields []string         `json:"missing_fields"`
}

// Events handles GET /api/intake/:caseId/events. It sends the current
// session snapshot and then one "draft" event per draft change until the
// client disconnects.
func (h *IntakeHandler) Events(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	required := h.intake.Fields().Required()
	updates := make(chan models.CaseDraft, 16)
	id := session.Store().Subscribe(func(caseID string, draft models.CaseDraft) {
		select {
		case updates <- draft:
		default:
			// slow client; it catches up on the next change
		}
	})
	defer session.Store().Unsubscribe(id)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("snapshot", session.Snapshot(ctx))
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case draft := <-updates:
			c.SSEvent("draft", DraftEvent{
				CaseID:        session.CaseID(),
				Draft:         draft,
				Progress:      service.CalculateProgress(draft, required),
				MissingFields: service.MissingFields(draft, required),
			})
			return true
		}
	})
}

func (h *IntakeHandler) session(c *gin.Context) (*service.ChatSession, bool) {
	session, err := h.intake.Session(c.Request.Context(), c.Param("caseId"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return session, true
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// writeError maps service errors to the JSON error envelope
func writeError(c *gin.Context, err error) {
	var remoteErr *service.RemoteError
	var missingErr *service.MissingFieldsError

	switch {
	case errors.As(err, &missingErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"error": gin.H{
				"code":           "MISSING_FIELDS",
				"message":        missingErr.Error(),
				"missing_fields": missingErr.Keys,
			},
		})
	case errors.As(err, &remoteErr):
		errorJSON(c, http.StatusBadGateway, "AI_UNAVAILABLE", remoteErr.Message())
	case errors.Is(err, service.ErrInvalidCaseID):
		errorJSON(c, http.StatusBadRequest, "INVALID_CASE_ID", "Invalid case id")
	case errors.Is(err, service.ErrEmptyMessage):
		errorJSON(c, http.StatusBadRequest, "EMPTY_MESSAGE", "Message is empty")
	case errors.Is(err, service.ErrUnknownField):
		errorJSON(c, http.StatusNotFound, "UNKNOWN_FIELD", err.Error())
	case errors.Is(err, service.ErrInvalidFieldValue):
		errorJSON(c, http.StatusBadRequest, "INVALID_FIELD_VALUE", err.Error())
	case errors.Is(err, service.ErrTurnInProgress), errors.Is(err, service.ErrPlanInProgress):
		errorJSON(c, http.StatusConflict, "IN_PROGRESS", err.Error())
	case errors.Is(err, service.ErrPlannerDisabled):
		errorJSON(c, http.StatusServiceUnavailable, "PLANNER_DISABLED", err.Error())
	case errors.Is(err, repository.ErrCasePlanNotFound), errors.Is(err, repository.ErrFileNotFound):
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		errorJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
