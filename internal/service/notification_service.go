package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-request-api/internal/dto"
	"github.com/noah-isme/uni-request-api/internal/models"
	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
	"github.com/noah-isme/uni-request-api/pkg/jobs"
	"github.com/noah-isme/uni-request-api/pkg/mailer"
	"github.com/noah-isme/uni-request-api/pkg/response"
)

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, recipientID int64) error
}

type userLookup interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

type emailQueue interface {
	Enqueue(payload EmailNotification) (string, error)
}

// NotificationInput is the content of a notification before it is addressed.
type NotificationInput struct {
	Title    string
	Message  string
	Type     models.NotificationType
	Priority models.NotificationPriority
}

// EmailNotification is the payload of the e-mail delivery queue.
type EmailNotification struct {
	NotificationID int64
	RecipientID    int64
	Title          string
	Message        string
	Priority       models.NotificationPriority
}

// Notifier is the sink consumed by the routing and workflow services.
type Notifier interface {
	CreateNotification(ctx context.Context, input NotificationInput, recipientID int64) (*models.Notification, error)
	NotifyMany(ctx context.Context, input NotificationInput, recipients []int64) int
}

// NotificationServiceOption configures the service.
type NotificationServiceOption func(*NotificationService)

// WithEmailQueue forwards HIGH and URGENT notifications to the e-mail queue.
func WithEmailQueue(queue emailQueue) NotificationServiceOption {
	return func(s *NotificationService) {
		s.emails = queue
	}
}

// NotificationService stores in-app notifications and fans them out.
type NotificationService struct {
	repo    notificationStore
	emails  emailQueue
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewNotificationService constructs the service.
func NewNotificationService(repo notificationStore, metrics *MetricsService, logger *zap.Logger, opts ...NotificationServiceOption) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CreateNotification persists one notification for a recipient.
func (s *NotificationService) CreateNotification(ctx context.Context, input NotificationInput, recipientID int64) (*models.Notification, error) {
	if input.Type == "" {
		input.Type = models.NotificationInfo
	}
	if input.Priority == "" {
		input.Priority = models.NotificationNormal
	}
	n := &models.Notification{
		RecipientID: recipientID,
		Title:       input.Title,
		Message:     input.Message,
		Type:        input.Type,
		Priority:    input.Priority,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.metrics.ObserveNotification(input.Priority, false)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
	}
	s.metrics.ObserveNotification(input.Priority, true)
	s.enqueueEmail(n)
	return n, nil
}

// NotifyMany sends the same notification to each recipient and returns how
// many were stored. Individual failures are logged.
func (s *NotificationService) NotifyMany(ctx context.Context, input NotificationInput, recipients []int64) int {
	delivered := 0
	for _, id := range recipients {
		if _, err := s.CreateNotification(ctx, input, id); err != nil {
			s.logger.Warn("notification failed",
				zap.Int64("recipient_id", id),
				zap.String("title", input.Title),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

func (s *NotificationService) enqueueEmail(n *models.Notification) {
	if s.emails == nil {
		return
	}
	if n.Priority != models.NotificationHigh && n.Priority != models.NotificationUrgent {
		return
	}
	if _, err := s.emails.Enqueue(EmailNotification{
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		Title:          n.Title,
		Message:        n.Message,
		Priority:       n.Priority,
	}); err != nil {
		s.logger.Warn("email enqueue failed", zap.Int64("notification_id", n.ID), zap.Error(err))
	}
}

// List returns the caller's notifications.
func (s *NotificationService) List(ctx context.Context, query dto.NotificationQuery, actor *models.JWTClaims) ([]models.Notification, *response.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.NotificationFilter{
		RecipientID: actor.UserID,
		UnreadOnly:  query.UnreadOnly,
		Page:        query.Page,
		PageSize:    query.PageSize,
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return items, paginationFor(query.Page, query.PageSize, total), nil
}

// MarkRead marks one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id int64, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if err := s.repo.MarkRead(ctx, id, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update notification")
	}
	return nil
}

// EmailDispatcher delivers queued notifications by e-mail.
type EmailDispatcher struct {
	users  userLookup
	sender mailer.Sender
	logger *zap.Logger
}

// NewEmailDispatcher constructs the queue handler.
func NewEmailDispatcher(users userLookup, sender mailer.Sender, logger *zap.Logger) *EmailDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailDispatcher{users: users, sender: sender, logger: logger}
}

// Handle implements jobs.Handler. Missing or inactive recipients are dropped
// without retry.
func (d *EmailDispatcher) Handle(ctx context.Context, job jobs.Job[EmailNotification]) error {
	payload := job.Payload
	user, err := d.users.FindByID(ctx, payload.RecipientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			d.logger.Warn("email recipient not found", zap.Int64("recipient_id", payload.RecipientID))
			return nil
		}
		return fmt.Errorf("load email recipient: %w", err)
	}
	if !user.Active || user.Email == "" {
		return nil
	}
	subject := payload.Title
	if payload.Priority == models.NotificationUrgent {
		subject = "URGENT: " + subject
	}
	return d.sender.Send(ctx, mailer.Message{
		ToName:    user.FullName,
		ToAddress: user.Email,
		Subject:   subject,
		Text:      payload.Message,
	})
}

func paginationFor(page, pageSize, total int) *response.Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return &response.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}
