package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-request-api/internal/dto"
	"github.com/noah-isme/uni-request-api/internal/middleware"
	"github.com/noah-isme/uni-request-api/internal/models"
	"github.com/noah-isme/uni-request-api/internal/service"
	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
	"github.com/noah-isme/uni-request-api/pkg/response"
)

type studentRequestService interface {
	CreateRequest(ctx context.Context, req dto.CreateStudentRequestRequest, actor *models.JWTClaims) (*models.StudentRequestDetail, error)
	ListRequests(ctx context.Context, query dto.StudentRequestQuery, actor *models.JWTClaims) ([]models.StudentRequestDetail, *response.Pagination, error)
	GetRequest(ctx context.Context, id int64, actor *models.JWTClaims) (*models.StudentRequestDetail, error)
	GetWorkflowStatus(ctx context.Context, id int64, actor *models.JWTClaims) (*models.RequestWorkflowStatus, error)
	UpdateRequestStatus(ctx context.Context, id int64, req dto.UpdateStudentRequestStatusRequest, actor *models.JWTClaims) (*models.StudentRequestDetail, error)
	ReassignRequest(ctx context.Context, id int64, req dto.ReassignStudentRequestRequest, actor *models.JWTClaims) (*models.StudentRequestDetail, error)
	DeleteRequest(ctx context.Context, id int64, actor *models.JWTClaims) error
	AddComment(ctx context.Context, id int64, req dto.CreateRequestCommentRequest, actor *models.JWTClaims) (*models.RequestComment, error)
	ListComments(ctx context.Context, id int64, actor *models.JWTClaims) ([]models.RequestComment, error)
	ExportRequests(ctx context.Context, query dto.StudentRequestQuery, format string, actor *models.JWTClaims) (*service.ExportFile, error)
}

type escalationTrigger interface {
	TriggerEscalation(ctx context.Context) (models.EscalationSummary, error)
}

// StudentRequestHandler exposes REST endpoints for student requests and complaints.
type StudentRequestHandler struct {
	service    studentRequestService
	escalation escalationTrigger
}

// NewStudentRequestHandler constructs the handler. escalation may be nil when
// the scheduler is disabled.
func NewStudentRequestHandler(service studentRequestService, escalation escalationTrigger) *StudentRequestHandler {
	return &StudentRequestHandler{service: service, escalation: escalation}
}

// Create godoc
// @Summary Submit a request or complaint
// @Tags StudentRequests
// @Accept json
// @Produce json
// @Param payload body dto.CreateStudentRequestRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /student-requests [post]
func (h *StudentRequestHandler) Create(c *gin.Context) {
	var req dto.CreateStudentRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}
	created, err := h.service.CreateRequest(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List godoc
// @Summary List student requests visible to the caller
// @Tags StudentRequests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param category query string false "Category"
// @Param type query string false "REQUEST or COMPLAINT"
// @Param priority query string false "Priority"
// @Param assignedTo query int false "Assignee user id (staff only)"
// @Param q query string false "Search in title"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /student-requests [get]
func (h *StudentRequestHandler) List(c *gin.Context) {
	query, err := parseRequestQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, pagination, err := h.service.ListRequests(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export the request register
// @Tags StudentRequests
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /student-requests/export [get]
func (h *StudentRequestHandler) Export(c *gin.Context) {
	query, err := parseRequestQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.ExportRequests(c.Request.Context(), query, c.DefaultQuery("format", service.ExportFormatCSV), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

// Get godoc
// @Summary Get a student request
// @Tags StudentRequests
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /student-requests/{id} [get]
func (h *StudentRequestHandler) Get(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	item, err := h.service.GetRequest(c.Request.Context(), id, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Workflow godoc
// @Summary Get the workflow view of a request
// @Tags StudentRequests
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /student-requests/{id}/workflow [get]
func (h *StudentRequestHandler) Workflow(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	status, err := h.service.GetWorkflowStatus(c.Request.Context(), id, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// UpdateStatus godoc
// @Summary Move a request through the workflow
// @Tags StudentRequests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.UpdateStudentRequestStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /student-requests/{id}/status [patch]
func (h *StudentRequestHandler) UpdateStatus(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.UpdateStudentRequestStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid status payload"))
		return
	}
	req.Status = models.RequestStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	updated, err := h.service.UpdateRequestStatus(c.Request.Context(), id, req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// Reassign godoc
// @Summary Reassign a request to another staff member
// @Tags StudentRequests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.ReassignStudentRequestRequest true "New assignee"
// @Success 200 {object} response.Envelope
// @Router /student-requests/{id}/assignee [patch]
func (h *StudentRequestHandler) Reassign(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ReassignStudentRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid reassignment payload"))
		return
	}
	updated, err := h.service.ReassignRequest(c.Request.Context(), id, req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// Delete godoc
// @Summary Delete an unprocessed request
// @Tags StudentRequests
// @Param id path int true "Request ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /student-requests/{id} [delete]
func (h *StudentRequestHandler) Delete(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.DeleteRequest(c.Request.Context(), id, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddComment godoc
// @Summary Comment on a request
// @Tags StudentRequests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.CreateRequestCommentRequest true "Comment"
// @Success 201 {object} response.Envelope
// @Router /student-requests/{id}/comments [post]
func (h *StudentRequestHandler) AddComment(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateRequestCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid comment payload"))
		return
	}
	comment, err := h.service.AddComment(c.Request.Context(), id, req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

// ListComments godoc
// @Summary List the comment thread of a request
// @Tags StudentRequests
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /student-requests/{id}/comments [get]
func (h *StudentRequestHandler) ListComments(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	comments, err := h.service.ListComments(c.Request.Context(), id, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comments, nil)
}

// RunEscalation godoc
// @Summary Run the overdue escalation sweep now
// @Tags StudentRequests
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /student-requests/escalations/run [post]
func (h *StudentRequestHandler) RunEscalation(c *gin.Context) {
	if h.escalation == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "escalation is not configured"))
		return
	}
	summary, err := h.escalation.TriggerEscalation(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

func parseRequestQuery(c *gin.Context) (dto.StudentRequestQuery, error) {
	page, size := pageQuery(c)
	query := dto.StudentRequestQuery{
		Category: models.RequestCategory(strings.ToUpper(strings.TrimSpace(c.Query("category")))),
		Type:     models.RequestType(strings.ToUpper(strings.TrimSpace(c.Query("type")))),
		Priority: models.RequestPriority(strings.ToUpper(strings.TrimSpace(c.Query("priority")))),
		Search:   strings.TrimSpace(c.DefaultQuery("q", c.Query("search"))),
		Page:     page,
		PageSize: size,
	}
	for _, status := range splitUpper(c.Query("status")) {
		query.Status = append(query.Status, models.RequestStatus(status))
	}
	if raw := strings.TrimSpace(c.Query("assignedTo")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return query, appErrors.Clone(appErrors.ErrValidation, "invalid assignedTo")
		}
		query.AssignedTo = &id
	}
	return query, nil
}
