package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-request-api/internal/dto"
	"github.com/noah-isme/uni-request-api/internal/models"
	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
	"github.com/noah-isme/uni-request-api/pkg/response"
)

const auditResourceStudentRequest = "student_request"

type studentRequestStore interface {
	Create(ctx context.Context, req *models.StudentRequest) error
	GetDetail(ctx context.Context, id int64) (*models.StudentRequestDetail, error)
	List(ctx context.Context, filter models.StudentRequestFilter) ([]models.StudentRequestDetail, int, error)
	UpdateStatus(ctx context.Context, id int64, from, to models.RequestStatus, at time.Time) error
	Delete(ctx context.Context, id int64) error
}

type commentStore interface {
	Create(ctx context.Context, comment *models.RequestComment) error
	ListByRequest(ctx context.Context, requestID int64) ([]models.RequestComment, error)
}

type requestRouter interface {
	AutoAssignRequest(ctx context.Context, requestID int64) (*models.StaffCandidate, error)
	ReassignRequest(ctx context.Context, requestID, newAssigneeID int64) error
}

type requestWorkflow interface {
	ProcessStatusChange(ctx context.Context, requestID int64, newStatus models.RequestStatus, actingUserID int64) (*models.StudentRequestDetail, error)
	GetRequestWorkflowStatus(ctx context.Context, requestID int64) (*models.RequestWorkflowStatus, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type requestExporter interface {
	Export(format string, items []models.StudentRequestDetail, generatedAt time.Time) (*ExportFile, error)
}

// StudentRequestServiceDeps groups collaborators of the request service.
type StudentRequestServiceDeps struct {
	Requests    studentRequestStore
	Comments    commentStore
	Users       userLookup
	Routing     requestRouter
	Workflow    requestWorkflow
	Notifier    Notifier
	Audit       auditLogger
	Exporter    requestExporter
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
	ExportLimit int
}

// StudentRequestService is the entry point for student request use-cases.
type StudentRequestService struct {
	requests    studentRequestStore
	comments    commentStore
	users       userLookup
	routing     requestRouter
	workflow    requestWorkflow
	notifier    Notifier
	audit       auditLogger
	exporter    requestExporter
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	exportLimit int
	now         func() time.Time
}

// NewStudentRequestService constructs the service.
func NewStudentRequestService(deps StudentRequestServiceDeps) *StudentRequestService {
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ExportLimit <= 0 {
		deps.ExportLimit = 1000
	}
	return &StudentRequestService{
		requests:    deps.Requests,
		comments:    deps.Comments,
		users:       deps.Users,
		routing:     deps.Routing,
		workflow:    deps.Workflow,
		notifier:    deps.Notifier,
		audit:       deps.Audit,
		exporter:    deps.Exporter,
		metrics:     deps.Metrics,
		validator:   deps.Validator,
		logger:      deps.Logger,
		exportLimit: deps.ExportLimit,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest stores a new request for an active student and routes it.
func (s *StudentRequestService) CreateRequest(ctx context.Context, req dto.CreateStudentRequestRequest, actor *models.JWTClaims) (*models.StudentRequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can submit requests")
	}
	student, err := s.users.FindByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can submit requests")
	}
	if !student.Active {
		return nil, appErrors.ErrInactiveAccount
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	category := req.Category
	if category == "" {
		category = ClassifyCategory(req.Title)
	}
	priority := req.Priority
	if priority == "" {
		priority = DefaultPriority(req.Type)
	}
	record := &models.StudentRequest{
		StudentID:   student.ID,
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		Category:    category,
		Priority:    priority,
		Status:      models.StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.requests.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}
	s.metrics.ObserveRequestCreated(record.Type, record.Category)
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestCreate, record.ID, nil, record)

	if _, err := s.routing.AutoAssignRequest(ctx, record.ID); err != nil {
		s.logger.Error("auto assignment failed", zap.Int64("request_id", record.ID), zap.Error(err))
	}
	return s.reload(ctx, record.ID)
}

// UpdateRequestStatus moves a request through the workflow on behalf of student service or admin users.
func (s *StudentRequestService) UpdateRequestStatus(ctx context.Context, id int64, req dto.UpdateStudentRequestStatusRequest, actor *models.JWTClaims) (*models.StudentRequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsManagement() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only student service or admin can change request status")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}

	before, err := s.workflow.ProcessStatusChange(ctx, id, req.Status, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.requests.UpdateStatus(ctx, id, before.Status, req.Status, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request status was changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request status")
	}
	s.metrics.ObserveTransition(before.Status, req.Status)
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestStatus, id,
		map[string]models.RequestStatus{"status": before.Status},
		map[string]interface{}{"status": req.Status, "note": req.Note},
	)

	if note := strings.TrimSpace(req.Note); note != "" {
		comment := &models.RequestComment{RequestID: id, AuthorID: actor.UserID, AuthorName: actor.FullName, Content: note, CreatedAt: s.now()}
		if err := s.comments.Create(ctx, comment); err != nil {
			s.logger.Warn("status note not stored", zap.Int64("request_id", id), zap.Error(err))
		}
	}
	return s.reload(ctx, id)
}

// AddComment appends a comment and notifies the other party.
func (s *StudentRequestService) AddComment(ctx context.Context, id int64, req dto.CreateRequestCommentRequest, actor *models.JWTClaims) (*models.RequestComment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	detail, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	isOwner := detail.StudentID == actor.UserID
	if !isOwner && !actor.Role.IsManagement() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot comment on this request")
	}
	req.Content = strings.TrimSpace(req.Content)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}

	comment := &models.RequestComment{
		RequestID:  id,
		AuthorID:   actor.UserID,
		AuthorName: actor.FullName,
		Content:    req.Content,
		CreatedAt:  s.now(),
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add comment")
	}

	if isOwner {
		if detail.AssignedTo != nil {
			s.notify(ctx, NotificationInput{
				Title:    "New comment from student",
				Message:  fmt.Sprintf("%s commented on %q.", detail.StudentName, detail.Title),
				Type:     models.NotificationInfo,
				Priority: models.NotificationNormal,
			}, *detail.AssignedTo)
		}
	} else {
		s.notify(ctx, NotificationInput{
			Title:    "New comment on your request",
			Message:  fmt.Sprintf("%s commented on %q.", actor.FullName, detail.Title),
			Type:     models.NotificationInfo,
			Priority: models.NotificationNormal,
		}, detail.StudentID)
	}
	return comment, nil
}

// ListComments returns the comment thread in creation order.
func (s *StudentRequestService) ListComments(ctx context.Context, id int64, actor *models.JWTClaims) ([]models.RequestComment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	detail, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, detail) {
		return nil, appErrors.ErrForbidden
	}
	comments, err := s.comments.ListByRequest(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list comments")
	}
	return comments, nil
}

// DeleteRequest removes an unprocessed request. Only ADMIN or the owning student may delete.
func (s *StudentRequestService) DeleteRequest(ctx context.Context, id int64, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	detail, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if actor.Role != models.RoleAdmin && detail.StudentID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot delete this request")
	}
	if detail.Status.IsProcessed() {
		return appErrors.ErrRequestProcessed
	}
	if err := s.requests.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrRequestProcessed
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete request")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestDelete, id, detail.StudentRequest, nil)
	return nil
}

// ReassignRequest hands a request to another active staff member. ADMIN may
// reassign any request; staff may reassign requests currently assigned to them.
func (s *StudentRequestService) ReassignRequest(ctx context.Context, id int64, req dto.ReassignStudentRequestRequest, actor *models.JWTClaims) (*models.StudentRequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reassignment payload")
	}
	detail, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	isAssignee := detail.AssignedTo != nil && *detail.AssignedTo == actor.UserID
	if actor.Role != models.RoleAdmin && !isAssignee {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only an admin or the current assignee can reassign")
	}
	assignee, err := s.users.FindByID(ctx, req.AssigneeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignee not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignee")
	}
	if !assignee.Active || !assignee.Role.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignee must be an active staff member")
	}
	if err := s.routing.ReassignRequest(ctx, id, assignee.ID); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestReassign, id,
		map[string]*int64{"assigned_to": detail.AssignedTo},
		map[string]int64{"assigned_to": assignee.ID},
	)
	return s.reload(ctx, id)
}

// GetRequest returns a request visible to the actor.
func (s *StudentRequestService) GetRequest(ctx context.Context, id int64, actor *models.JWTClaims) (*models.StudentRequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	detail, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, detail) {
		return nil, appErrors.ErrForbidden
	}
	return detail, nil
}

// GetWorkflowStatus returns the workflow view of a request visible to the actor.
func (s *StudentRequestService) GetWorkflowStatus(ctx context.Context, id int64, actor *models.JWTClaims) (*models.RequestWorkflowStatus, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	status, err := s.workflow.GetRequestWorkflowStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, status.Request) {
		return nil, appErrors.ErrForbidden
	}
	return status, nil
}

// ListRequests returns requests scoped to the actor's role.
func (s *StudentRequestService) ListRequests(ctx context.Context, query dto.StudentRequestQuery, actor *models.JWTClaims) ([]models.StudentRequestDetail, *response.Pagination, error) {
	filter, err := scopedFilter(query, actor)
	if err != nil {
		return nil, nil, err
	}
	items, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return items, paginationFor(query.Page, query.PageSize, total), nil
}

// ExportRequests renders the filtered request register as CSV or PDF.
func (s *StudentRequestService) ExportRequests(ctx context.Context, query dto.StudentRequestQuery, format string, actor *models.JWTClaims) (*ExportFile, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsManagement() {
		return nil, appErrors.ErrForbidden
	}
	filter, err := scopedFilter(query, actor)
	if err != nil {
		return nil, err
	}
	const batch = 100
	filter.PageSize = batch
	items := make([]models.StudentRequestDetail, 0, batch)
	for page := 1; len(items) < s.exportLimit; page++ {
		filter.Page = page
		chunk, total, err := s.requests.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
		}
		items = append(items, chunk...)
		if len(chunk) < batch || len(items) >= total {
			break
		}
	}
	if len(items) > s.exportLimit {
		items = items[:s.exportLimit]
	}
	return s.exporter.Export(format, items, s.now())
}

func scopedFilter(query dto.StudentRequestQuery, actor *models.JWTClaims) (models.StudentRequestFilter, error) {
	if actor == nil {
		return models.StudentRequestFilter{}, appErrors.ErrUnauthorized
	}
	filter := models.StudentRequestFilter{
		Status:   query.Status,
		Category: query.Category,
		Type:     query.Type,
		Priority: query.Priority,
		Search:   query.Search,
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	switch actor.Role {
	case models.RoleStudent:
		id := actor.UserID
		filter.StudentID = &id
	case models.RoleProfessor:
		id := actor.UserID
		filter.AssignedTo = &id
	case models.RoleStudentService, models.RoleAdmin:
		filter.AssignedTo = query.AssignedTo
	default:
		return filter, appErrors.ErrForbidden
	}
	return filter, nil
}

func canView(actor *models.JWTClaims, req *models.StudentRequestDetail) bool {
	if actor == nil || req == nil {
		return false
	}
	if actor.Role.IsManagement() || req.StudentID == actor.UserID {
		return true
	}
	return req.AssignedTo != nil && *req.AssignedTo == actor.UserID
}

func (s *StudentRequestService) load(ctx context.Context, id int64) (*models.StudentRequestDetail, error) {
	detail, err := s.requests.GetDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student request")
	}
	return detail, nil
}

func (s *StudentRequestService) reload(ctx context.Context, id int64) (*models.StudentRequestDetail, error) {
	return s.load(ctx, id)
}

func (s *StudentRequestService) notify(ctx context.Context, input NotificationInput, recipientID int64) {
	if _, err := s.notifier.CreateNotification(ctx, input, recipientID); err != nil {
		s.logger.Warn("notification failed", zap.Int64("recipient_id", recipientID), zap.Error(err))
	}
}

func (s *StudentRequestService) emitAudit(ctx context.Context, userID int64, action string, resourceID int64, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   auditResourceStudentRequest,
		ResourceID: &resourceID,
		OldValues:  marshalAudit(oldValues),
		NewValues:  marshalAudit(newValues),
		IPAddress:  "system",
		UserAgent:  "student-request-service",
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}

func marshalAudit(v interface{}) []byte {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
