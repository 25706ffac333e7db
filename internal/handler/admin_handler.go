package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/repository"
	"github.com/stemsi/exstem-analytics/internal/response"
	"github.com/stemsi/exstem-analytics/internal/scoring"
	"github.com/stemsi/exstem-analytics/internal/service"
	"github.com/stemsi/exstem-analytics/internal/validator"
)

// AdminHandler handles exam definitions, sheet uploads and recompute control.
type AdminHandler struct {
	examService     *service.ExamService
	snapshotService *service.SnapshotService
	log             zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(examService *service.ExamService, snapshotService *service.SnapshotService, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		examService:     examService,
		snapshotService: snapshotService,
		log:             log.With().Str("component", "admin_handler").Logger(),
	}
}

// GetDefinition godoc
// GET /api/v1/admin/exams/:exam_id/definition
func (h *AdminHandler) GetDefinition(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	def, err := h.examService.GetDefinition(c.Request.Context(), examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"definition": def})
}

// PutDefinition godoc
// PUT /api/v1/admin/exams/:exam_id/definition
// Creates or replaces the key, booklet rotations, coefficients and topic
// catalogue of an exam. Every snapshot of the exam becomes stale.
func (h *AdminHandler) PutDefinition(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.UpsertExamDefinitionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	def, err := h.examService.SaveDefinition(c.Request.Context(), examID, &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidDefinition) {
			if ve, ok := scoring.AsValidation(err); ok {
				response.FailWithDetails(c, http.StatusUnprocessableEntity, response.ErrInvalidDefinition, ve)
				return
			}
			response.FailWithDetails(c, http.StatusUnprocessableEntity, response.ErrInvalidDefinition, gin.H{"detail": err.Error()})
			return
		}
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Save definition failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"definition": def})
}

// SubmitSheets godoc
// POST /api/v1/admin/exams/:exam_id/sheets
// Accepts scanned answer sheets. Invalid sheets are reported per student.
func (h *AdminHandler) SubmitSheets(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitSheetsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sum, err := h.examService.SubmitSheets(c.Request.Context(), examID, &req)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Submit sheets failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	status := http.StatusOK
	if sum.Queued {
		status = http.StatusAccepted
	}
	response.Success(c, status, sum)
}

// InvalidateExam godoc
// POST /api/v1/admin/exams/:exam_id/invalidate
func (h *AdminHandler) InvalidateExam(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	n, err := h.snapshotService.InvalidateExam(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"invalidated": n})
}

// InvalidateStudent godoc
// POST /api/v1/admin/exams/:exam_id/students/:student_id/invalidate
func (h *AdminHandler) InvalidateStudent(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	studentID, err := strconv.Atoi(c.Param("student_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.snapshotService.InvalidateStudent(c.Request.Context(), examID, studentID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"invalidated": 1})
}

// RecomputeStale godoc
// POST /api/v1/admin/analytics/recompute
// Runs one stale-snapshot sweep and reports what it did.
func (h *AdminHandler) RecomputeStale(c *gin.Context) {
	sum, err := h.snapshotService.RecomputeStaleSnapshots(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Recompute sweep failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, sum)
}
