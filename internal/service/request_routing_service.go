package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-request-api/internal/models"
	"github.com/noah-isme/uni-request-api/internal/repository"
	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
)

type routingStore interface {
	GetDetail(ctx context.Context, id int64) (*models.StudentRequestDetail, error)
	AssignWithinPool(ctx context.Context, params repository.AssignParams, choose repository.CandidateChooser) (*models.StaffCandidate, error)
	ListOverdue(ctx context.Context, now time.Time) ([]models.StudentRequestDetail, error)
	Reassign(ctx context.Context, id, assigneeID int64, at time.Time) error
}

type recipientSource interface {
	ResolveRecipients(ctx context.Context, roles []models.UserRole, facultyScope *int64) ([]int64, error)
	ResolveActiveRecipients(ctx context.Context, roles []models.UserRole, facultyScope *int64) ([]int64, error)
}

// RoutingRule names the staff pool a category is routed to.
type RoutingRule struct {
	TargetRole    models.UserRole
	FacultyScoped bool
}

var routingRules = map[models.RequestCategory]RoutingRule{
	models.CategoryAcademic:       {TargetRole: models.RoleProfessor, FacultyScoped: true},
	models.CategoryAdministrative: {TargetRole: models.RoleStudentService, FacultyScoped: true},
	models.CategoryFinancial:      {TargetRole: models.RoleStudentService, FacultyScoped: true},
	models.CategoryDisciplinary:   {TargetRole: models.RoleAdmin, FacultyScoped: false},
	models.CategoryTechnical:      {TargetRole: models.RoleAdmin, FacultyScoped: false},
}

var defaultRoutingRule = RoutingRule{TargetRole: models.RoleStudentService, FacultyScoped: true}

// RouteFor returns the routing rule of a category.
func RouteFor(category models.RequestCategory) RoutingRule {
	if rule, ok := routingRules[category]; ok {
		return rule
	}
	return defaultRoutingRule
}

const complaintDueDays = 3

var dueDaysByCategory = map[models.RequestCategory]int{
	models.CategoryAcademic:       5,
	models.CategoryAdministrative: 7,
	models.CategoryFinancial:      10,
	models.CategoryDisciplinary:   3,
	models.CategoryTechnical:      5,
}

const defaultDueDays = 7

// DueDays returns the number of days a request has until it is due.
func DueDays(reqType models.RequestType, category models.RequestCategory) int {
	if reqType == models.RequestTypeComplaint {
		return complaintDueDays
	}
	if days, ok := dueDaysByCategory[category]; ok {
		return days
	}
	return defaultDueDays
}

// DueDate computes the due date of a request routed at base.
func DueDate(base time.Time, reqType models.RequestType, category models.RequestCategory) time.Time {
	return base.Add(time.Duration(DueDays(reqType, category)) * 24 * time.Hour)
}

// selectLeastLoaded picks the candidate with the fewest open requests, lowest id first on ties.
func selectLeastLoaded(candidates []models.StaffCandidate) (models.StaffCandidate, bool) {
	if len(candidates) == 0 {
		return models.StaffCandidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.OpenRequests < best.OpenRequests || (c.OpenRequests == best.OpenRequests && c.UserID < best.UserID) {
			best = c
		}
	}
	return best, true
}

// RequestRoutingService assigns requests to staff and escalates overdue ones.
type RequestRoutingService struct {
	repo       routingStore
	recipients recipientSource
	notifier   Notifier
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time
}

// NewRequestRoutingService constructs the routing service.
func NewRequestRoutingService(repo routingStore, recipients recipientSource, notifier Notifier, metrics *MetricsService, logger *zap.Logger) *RequestRoutingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestRoutingService{
		repo:       repo,
		recipients: recipients,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// AutoAssignRequest routes a fresh request to the least-loaded member of its
// staff pool, sets its due date and moves it to IN_REVIEW. An empty pool is
// logged and leaves the request untouched; the returned candidate is nil.
func (s *RequestRoutingService) AutoAssignRequest(ctx context.Context, requestID int64) (*models.StaffCandidate, error) {
	req, err := s.repo.GetDetail(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student request")
	}

	rule := RouteFor(req.Category)
	var faculty *int64
	if rule.FacultyScoped {
		faculty = req.StudentFacultyID
	}
	now := s.now()
	due := DueDate(now, req.Type, req.Category)

	picked, err := s.repo.AssignWithinPool(ctx, repository.AssignParams{
		RequestID: req.ID,
		Role:      rule.TargetRole,
		FacultyID: faculty,
		DueDate:   due,
		At:        now,
	}, selectLeastLoaded)
	if err != nil {
		if errors.Is(err, repository.ErrRequestAlreadyAssigned) {
			s.metrics.ObserveAssignment(rule.TargetRole, AssignmentConflict)
			return nil, appErrors.Clone(appErrors.ErrConflict, "student request already assigned")
		}
		s.metrics.ObserveAssignment(rule.TargetRole, AssignmentError)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign student request")
	}
	if picked == nil {
		s.metrics.ObserveAssignment(rule.TargetRole, AssignmentNoCandidate)
		s.logger.Warn("no staff available for request",
			zap.Int64("request_id", req.ID),
			zap.String("category", string(req.Category)),
			zap.String("target_role", string(rule.TargetRole)),
			zap.Any("faculty_id", faculty),
		)
		return nil, nil
	}

	s.metrics.ObserveAssignment(rule.TargetRole, AssignmentAssigned)
	s.logger.Info("request assigned",
		zap.Int64("request_id", req.ID),
		zap.Int64("assignee_id", picked.UserID),
		zap.Int("open_requests", picked.OpenRequests),
		zap.Time("due_date", due),
	)
	s.notify(ctx, NotificationInput{
		Title:    "New request assigned",
		Message:  fmt.Sprintf("%s %q from %s has been assigned to you. Due %s.", describeType(req.Type), req.Title, req.StudentName, due.Format("2006-01-02")),
		Type:     models.NotificationInfo,
		Priority: notificationPriorityFor(req.Priority),
	}, picked.UserID)
	return picked, nil
}

// CheckAndEscalateOverdueRequests notifies every active ADMIN about each open
// request past its due date. Requests are not modified and repeated sweeps
// notify again.
func (s *RequestRoutingService) CheckAndEscalateOverdueRequests(ctx context.Context) (models.EscalationSummary, error) {
	now := s.now()
	summary := models.EscalationSummary{RanAt: now}

	overdue, err := s.repo.ListOverdue(ctx, now)
	if err != nil {
		return summary, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overdue requests")
	}
	summary.Overdue = len(overdue)
	if len(overdue) == 0 {
		return summary, nil
	}

	// escalations go to admins active right now, not a cached audience
	admins, err := s.recipients.ResolveActiveRecipients(ctx, []models.UserRole{models.RoleAdmin}, nil)
	if err != nil {
		return summary, err
	}
	for _, req := range overdue {
		assignee := "unassigned"
		if req.AssigneeName != nil && *req.AssigneeName != "" {
			assignee = *req.AssigneeName
		}
		due := "-"
		if req.DueDate != nil {
			due = req.DueDate.Format("2006-01-02")
		}
		input := NotificationInput{
			Title:    "Overdue request escalation",
			Message:  fmt.Sprintf("Request #%d %q from %s was due %s and is still %s. Assigned to: %s.", req.ID, req.Title, req.StudentName, due, req.Status, assignee),
			Type:     models.NotificationWarning,
			Priority: models.NotificationUrgent,
		}
		delivered := s.notifier.NotifyMany(ctx, input, admins)
		summary.Notified += delivered
		summary.Failed += len(admins) - delivered
	}
	s.metrics.ObserveEscalations(len(overdue))
	s.logger.Info("overdue requests escalated",
		zap.Int("overdue", summary.Overdue),
		zap.Int("admins", len(admins)),
		zap.Int("notified", summary.Notified),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// ReassignRequest overwrites the assignee and notifies them. Status and due
// date are left unchanged.
func (s *RequestRoutingService) ReassignRequest(ctx context.Context, requestID, newAssigneeID int64) error {
	req, err := s.repo.GetDetail(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student request")
	}
	if err := s.repo.Reassign(ctx, requestID, newAssigneeID, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reassign student request")
	}
	s.notify(ctx, NotificationInput{
		Title:    "Request reassigned to you",
		Message:  fmt.Sprintf("%s %q from %s has been reassigned to you.", describeType(req.Type), req.Title, req.StudentName),
		Type:     models.NotificationInfo,
		Priority: notificationPriorityFor(req.Priority),
	}, newAssigneeID)
	return nil
}

func (s *RequestRoutingService) notify(ctx context.Context, input NotificationInput, recipientID int64) {
	if _, err := s.notifier.CreateNotification(ctx, input, recipientID); err != nil {
		s.logger.Warn("notification failed", zap.Int64("recipient_id", recipientID), zap.Error(err))
	}
}

func describeType(t models.RequestType) string {
	if t == models.RequestTypeComplaint {
		return "Complaint"
	}
	return "Request"
}

func notificationPriorityFor(p models.RequestPriority) models.NotificationPriority {
	switch p {
	case models.PriorityUrgent:
		return models.NotificationUrgent
	case models.PriorityHigh:
		return models.NotificationHigh
	default:
		return models.NotificationNormal
	}
}
