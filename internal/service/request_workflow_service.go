package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-request-api/internal/models"
	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
)

type workflowStore interface {
	GetDetail(ctx context.Context, id int64) (*models.StudentRequestDetail, error)
}

// allowedTransitions lists, per status, the statuses it may move to.
var allowedTransitions = map[models.RequestStatus][]models.RequestStatus{
	models.StatusPending:  {models.StatusInReview, models.StatusRejected},
	models.StatusInReview: {models.StatusApproved, models.StatusRejected, models.StatusPending},
	models.StatusApproved: {},
	models.StatusRejected: {models.StatusInReview},
}

var progressByStatus = map[models.RequestStatus]int{
	models.StatusPending:  25,
	models.StatusInReview: 50,
	models.StatusApproved: 100,
	models.StatusRejected: 100,
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to models.RequestStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from the given one.
func NextStatuses(from models.RequestStatus) []models.RequestStatus {
	next := allowedTransitions[from]
	out := make([]models.RequestStatus, len(next))
	copy(out, next)
	return out
}

// RequestWorkflowService validates status changes and emits their side effects.
type RequestWorkflowService struct {
	repo       workflowStore
	recipients recipientSource
	notifier   Notifier
	logger     *zap.Logger
	now        func() time.Time
}

// NewRequestWorkflowService constructs the workflow service.
func NewRequestWorkflowService(repo workflowStore, recipients recipientSource, notifier Notifier, logger *zap.Logger) *RequestWorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestWorkflowService{
		repo:       repo,
		recipients: recipients,
		notifier:   notifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ProcessStatusChange validates the transition of a request to newStatus and
// sends the notifications that go with it. The status itself is persisted by
// the caller. The loaded request is returned with its previous status.
func (s *RequestWorkflowService) ProcessStatusChange(ctx context.Context, requestID int64, newStatus models.RequestStatus, actingUserID int64) (*models.StudentRequestDetail, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(req.Status, newStatus) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot change status from %s to %s", req.Status, newStatus))
	}

	s.logger.Info("request status change",
		zap.Int64("request_id", req.ID),
		zap.String("from", string(req.Status)),
		zap.String("to", string(newStatus)),
		zap.Int64("acting_user_id", actingUserID),
	)

	switch newStatus {
	case models.StatusInReview:
		s.onInReview(ctx, req, actingUserID)
	case models.StatusApproved:
		s.onApproved(ctx, req, actingUserID)
	case models.StatusRejected:
		s.onRejected(ctx, req, actingUserID)
	}
	return req, nil
}

func (s *RequestWorkflowService) onInReview(ctx context.Context, req *models.StudentRequestDetail, actor int64) {
	s.notifyOne(ctx, NotificationInput{
		Title:    "Request under review",
		Message:  fmt.Sprintf("Your %s %q is now being reviewed.", strings.ToLower(describeType(req.Type)), req.Title),
		Type:     models.NotificationInfo,
		Priority: models.NotificationNormal,
	}, req.StudentID)

	if req.Type == models.RequestTypeComplaint {
		s.notifyRoles(ctx, []models.UserRole{models.RoleAdmin, models.RoleStudentService}, actor, NotificationInput{
			Title:    "Complaint under review",
			Message:  fmt.Sprintf("Complaint #%d %q from %s has entered review.", req.ID, req.Title, req.StudentName),
			Type:     models.NotificationWarning,
			Priority: models.NotificationHigh,
		})
	}
}

func (s *RequestWorkflowService) onApproved(ctx context.Context, req *models.StudentRequestDetail, actor int64) {
	s.notifyOne(ctx, NotificationInput{
		Title:    "Request approved",
		Message:  fmt.Sprintf("Your %s %q has been approved.", strings.ToLower(describeType(req.Type)), req.Title),
		Type:     models.NotificationSuccess,
		Priority: models.NotificationHigh,
	}, req.StudentID)

	switch req.Category {
	case models.CategoryAcademic:
		message := fmt.Sprintf("Academic request #%d %q from %s was approved.", req.ID, req.Title, req.StudentName)
		if strings.Contains(strings.ToLower(req.Title), "grade") {
			message += " A grade record may need to be updated."
		}
		s.notifyRoles(ctx, []models.UserRole{models.RoleProfessor}, actor, NotificationInput{
			Title:    "Academic request approved",
			Message:  message,
			Type:     models.NotificationInfo,
			Priority: models.NotificationNormal,
		})
	case models.CategoryFinancial:
		s.notifyRoles(ctx, []models.UserRole{models.RoleStudentService}, actor, NotificationInput{
			Title:    "Financial request approved",
			Message:  fmt.Sprintf("Financial request #%d %q from %s was approved and needs payment processing.", req.ID, req.Title, req.StudentName),
			Type:     models.NotificationInfo,
			Priority: models.NotificationNormal,
		})
	case models.CategoryAdministrative:
		s.notifyRoles(ctx, []models.UserRole{models.RoleStudentService}, actor, NotificationInput{
			Title:    "Administrative request approved",
			Message:  fmt.Sprintf("Administrative request #%d %q from %s was approved and needs processing.", req.ID, req.Title, req.StudentName),
			Type:     models.NotificationInfo,
			Priority: models.NotificationNormal,
		})
	}
}

func (s *RequestWorkflowService) onRejected(ctx context.Context, req *models.StudentRequestDetail, actor int64) {
	s.notifyOne(ctx, NotificationInput{
		Title:    "Request rejected",
		Message:  fmt.Sprintf("Your %s %q has been rejected.", strings.ToLower(describeType(req.Type)), req.Title),
		Type:     models.NotificationError,
		Priority: models.NotificationHigh,
	}, req.StudentID)

	if req.Type == models.RequestTypeComplaint {
		s.notifyRoles(ctx, []models.UserRole{models.RoleAdmin}, actor, NotificationInput{
			Title:    "Complaint rejected",
			Message:  fmt.Sprintf("Complaint #%d %q from %s was rejected and needs administrator attention.", req.ID, req.Title, req.StudentName),
			Type:     models.NotificationWarning,
			Priority: models.NotificationHigh,
		})
	}
}

func (s *RequestWorkflowService) notifyOne(ctx context.Context, input NotificationInput, recipientID int64) {
	if _, err := s.notifier.CreateNotification(ctx, input, recipientID); err != nil {
		s.logger.Warn("notification failed", zap.Int64("recipient_id", recipientID), zap.Error(err))
	}
}

// notifyRoles fans input out to the roles, skipping the acting user.
func (s *RequestWorkflowService) notifyRoles(ctx context.Context, roles []models.UserRole, actor int64, input NotificationInput) {
	ids, err := s.recipients.ResolveRecipients(ctx, roles, nil)
	if err != nil {
		s.logger.Warn("recipient resolution failed", zap.Any("roles", roles), zap.Error(err))
		return
	}
	s.notifier.NotifyMany(ctx, input, excludeID(ids, actor))
}

// GetRequestWorkflowStatus returns the request with its derived workflow view.
func (s *RequestWorkflowService) GetRequestWorkflowStatus(ctx context.Context, requestID int64) (*models.RequestWorkflowStatus, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &models.RequestWorkflowStatus{
		Request:  req,
		Workflow: DeriveWorkflow(&req.StudentRequest, s.now()),
	}, nil
}

// DeriveWorkflow computes the workflow view of a request at now.
func DeriveWorkflow(req *models.StudentRequest, now time.Time) models.RequestWorkflow {
	wf := models.RequestWorkflow{
		Progress:             progressByStatus[req.Status],
		NextPossibleStatuses: NextStatuses(req.Status),
		DaysSinceCreated:     int(now.Sub(req.CreatedAt) / (24 * time.Hour)),
	}
	if req.DueDate != nil {
		wf.IsOverdue = req.DueDate.Before(now)
		days := int(math.Ceil(req.DueDate.Sub(now).Hours() / 24))
		wf.DaysUntilDue = &days
	}
	return wf
}

func (s *RequestWorkflowService) load(ctx context.Context, requestID int64) (*models.StudentRequestDetail, error) {
	req, err := s.repo.GetDetail(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student request")
	}
	return req, nil
}
