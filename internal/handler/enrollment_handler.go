package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campushq/registrar-api/internal/models"
	"github.com/campushq/registrar-api/internal/service"
	appErrors "github.com/campushq/registrar-api/pkg/errors"
	"github.com/campushq/registrar-api/pkg/response"
)

// EnrollmentHandler exposes the registration state machine over HTTP.
type EnrollmentHandler struct {
	service *service.EnrollmentService
}

// NewEnrollmentHandler constructs the handler.
func NewEnrollmentHandler(svc *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// A student may only act on their own record; advisors and admins act on
// anyone and bypass the drop deadline.
func (h *EnrollmentHandler) authorize(c *gin.Context, studentID string) (actorID string, override bool, ok bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false, false
	}
	if claims.Role == models.RoleStudent {
		if claims.UserID != studentID {
			response.Error(c, appErrors.ErrForbidden)
			return "", false, false
		}
		return claims.UserID, false, true
	}
	return claims.UserID, true, true
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param sectionId query string false "Filter by section"
// @Param termId query string false "Filter by term"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	filter.StudentID = c.Query("studentId")
	filter.SectionID = c.Query("sectionId")
	filter.TermID = c.Query("termId")
	if status := c.Query("status"); status != "" {
		filter.Status = models.EnrollmentStatus(status)
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	enrollments, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Register godoc
// @Summary Register a student into a section
// @Description Grants a seat when available, otherwise appends to the waitlist
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	actorID, _, ok := h.authorize(c, req.StudentID)
	if !ok {
		return
	}
	result, err := h.service.Register(c.Request.Context(), actorID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Drop godoc
// @Summary Drop an enrollment
// @Description Frees the seat and promotes eligible waitlisted students
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.DropRequest true "Drop payload"
// @Success 204
// @Failure 422 {object} response.Envelope
// @Router /enrollments/drop [post]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	var req service.DropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	actorID, override, ok := h.authorize(c, req.StudentID)
	if !ok {
		return
	}
	if err := h.service.Drop(c.Request.Context(), actorID, override, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RemoveFromWaitlist godoc
// @Summary Remove a student from a section waitlist
// @Tags Enrollments
// @Produce json
// @Param id path string true "Section ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /sections/{id}/waitlist/{studentId} [delete]
func (h *EnrollmentHandler) RemoveFromWaitlist(c *gin.Context) {
	sectionID := c.Param("id")
	studentID := c.Param("studentId")
	actorID, _, ok := h.authorize(c, studentID)
	if !ok {
		return
	}
	if err := h.service.RemoveFromWaitlist(c.Request.Context(), actorID, studentID, sectionID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Timetable godoc
// @Summary Get a student's weekly timetable
// @Tags Enrollments
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/timetable [get]
func (h *EnrollmentHandler) Timetable(c *gin.Context) {
	studentID := c.Param("id")
	if _, _, ok := h.authorize(c, studentID); !ok {
		return
	}
	sections, err := h.service.Timetable(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sections, nil)
}
