package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-analytics/internal/middleware"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/response"
	"github.com/stemsi/exstem-analytics/internal/service"
	"github.com/stemsi/exstem-analytics/internal/validator"
)

// AnalyticsHandler serves student analytics and coach commentary.
type AnalyticsHandler struct {
	snapshotService *service.SnapshotService
	coachService    *service.CoachService
}

// NewAnalyticsHandler creates a new AnalyticsHandler.
func NewAnalyticsHandler(snapshotService *service.SnapshotService, coachService *service.CoachService) *AnalyticsHandler {
	return &AnalyticsHandler{
		snapshotService: snapshotService,
		coachService:    coachService,
	}
}

// GetStudentAnalytics godoc
// GET /api/v1/exams/:exam_id/students/:student_id/analytics
// Returns the student's snapshot, computing it when missing or out of date.
func (h *AnalyticsHandler) GetStudentAnalytics(c *gin.Context) {
	examID, studentID, ok := parseStudentPath(c)
	if !ok {
		return
	}

	res := h.snapshotService.GetStudentAnalytics(c.Request.Context(), examID, studentID)
	if !res.Success {
		failAnalytics(c, res.Error)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// GetCommentary godoc
// POST /api/v1/exams/:exam_id/students/:student_id/coach/:role
// Returns AI commentary for the role, or fallback text when the AI is down.
func (h *AnalyticsHandler) GetCommentary(c *gin.Context) {
	examID, studentID, ok := parseStudentPath(c)
	if !ok {
		return
	}

	aud, ok := service.ParseAudience(c.Param("role"))
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidRole)
		return
	}
	// Teacher notes are not shown to students.
	_, forTeacher := aud.(service.Teacher)
	if claims := middleware.GetClaims(c); forTeacher && claims != nil && claims.TokenType == service.TokenTypeStudent {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	var req model.CoachRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	res := h.snapshotService.GetStudentAnalytics(c.Request.Context(), examID, studentID)
	if !res.Success {
		failAnalytics(c, res.Error)
		return
	}

	commentary := h.coachService.GetCommentary(c.Request.Context(), res.Snapshot, aud, req)
	status := http.StatusOK
	if commentary.Status == model.CommentaryGenerating {
		status = http.StatusAccepted
	}
	response.Success(c, status, gin.H{
		"commentary": commentary,
		"freshness":  res.Freshness,
	})
}

func parseStudentPath(c *gin.Context) (uuid.UUID, int, bool) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, 0, false
	}
	studentID, err := strconv.Atoi(c.Param("student_id"))
	if err != nil || studentID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, 0, false
	}
	return examID, studentID, true
}

func failAnalytics(c *gin.Context, e *service.AnalyticsError) {
	switch e.Kind {
	case service.KindNotFound:
		response.FailWithDetails(c, http.StatusNotFound, response.ErrNotFound, e)
	case service.KindValidation:
		response.FailWithDetails(c, http.StatusUnprocessableEntity, response.ErrValidation, e)
	default:
		response.FailWithDetails(c, http.StatusServiceUnavailable, response.ErrAnalyticsUnavailable, e)
	}
}
