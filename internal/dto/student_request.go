package dto

import "github.com/noah-isme/uni-request-api/internal/models"

// CreateStudentRequestRequest is submitted by a student to open a request or complaint.
type CreateStudentRequestRequest struct {
	Type        models.RequestType     `json:"type" validate:"required,oneof=REQUEST COMPLAINT"`
	Title       string                 `json:"title" validate:"required,min=3,max=200"`
	Description string                 `json:"description" validate:"required,max=5000"`
	Category    models.RequestCategory `json:"category" validate:"omitempty,oneof=ACADEMIC ADMINISTRATIVE FINANCIAL DISCIPLINARY TECHNICAL OTHER"`
	Priority    models.RequestPriority `json:"priority" validate:"omitempty,oneof=NORMAL HIGH URGENT"`
}

// UpdateStudentRequestStatusRequest moves a request through the workflow.
type UpdateStudentRequestStatusRequest struct {
	Status models.RequestStatus `json:"status" validate:"required,oneof=PENDING IN_REVIEW APPROVED REJECTED"`
	Note   string               `json:"note" validate:"max=1000"`
}

// CreateRequestCommentRequest adds a comment to a request thread.
type CreateRequestCommentRequest struct {
	Content string `json:"content" validate:"required,max=2000"`
}

// ReassignStudentRequestRequest hands a request to another staff member.
type ReassignStudentRequestRequest struct {
	AssigneeID int64 `json:"assigneeId" validate:"required,gt=0"`
}

// StudentRequestQuery mirrors supported listing filters.
type StudentRequestQuery struct {
	Status     []models.RequestStatus
	Category   models.RequestCategory
	Type       models.RequestType
	Priority   models.RequestPriority
	AssignedTo *int64
	Search     string
	Page       int
	PageSize   int
}

// NotificationQuery filters the caller's notifications.
type NotificationQuery struct {
	UnreadOnly bool
	Page       int
	PageSize   int
}
