package models

import "time"

// RequestType distinguishes ordinary requests from complaints.
type RequestType string

const (
	RequestTypeRequest   RequestType = "REQUEST"
	RequestTypeComplaint RequestType = "COMPLAINT"
)

// RequestCategory drives routing and due-date policy.
type RequestCategory string

const (
	CategoryAcademic       RequestCategory = "ACADEMIC"
	CategoryAdministrative RequestCategory = "ADMINISTRATIVE"
	CategoryFinancial      RequestCategory = "FINANCIAL"
	CategoryDisciplinary   RequestCategory = "DISCIPLINARY"
	CategoryTechnical      RequestCategory = "TECHNICAL"
	CategoryOther          RequestCategory = "OTHER"
)

// RequestPriority ranks requests for staff attention.
type RequestPriority string

const (
	PriorityNormal RequestPriority = "NORMAL"
	PriorityHigh   RequestPriority = "HIGH"
	PriorityUrgent RequestPriority = "URGENT"
)

// RequestStatus captures workflow states of a student request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusInReview RequestStatus = "IN_REVIEW"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
)

// OpenStatuses are the statuses that count towards staff workload and overdue checks.
var OpenStatuses = []RequestStatus{StatusPending, StatusInReview}

// IsProcessed reports whether a decision has been recorded on the request.
func (s RequestStatus) IsProcessed() bool {
	return s == StatusApproved || s == StatusRejected
}

// StudentRequest is a REQUEST or COMPLAINT submitted by a student.
type StudentRequest struct {
	ID          int64           `db:"id" json:"id"`
	StudentID   int64           `db:"student_id" json:"student_id"`
	Type        RequestType     `db:"type" json:"type"`
	Title       string          `db:"title" json:"title"`
	Description string          `db:"description" json:"description"`
	Category    RequestCategory `db:"category" json:"category"`
	Priority    RequestPriority `db:"priority" json:"priority"`
	Status      RequestStatus   `db:"status" json:"status"`
	DueDate     *time.Time      `db:"due_date" json:"due_date,omitempty"`
	AssignedTo  *int64          `db:"assigned_to" json:"assigned_to,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// StudentRequestDetail joins the request with its student and assignee.
type StudentRequestDetail struct {
	StudentRequest
	StudentName      string  `db:"student_name" json:"student_name"`
	StudentFacultyID *int64  `db:"student_faculty_id" json:"student_faculty_id,omitempty"`
	AssigneeName     *string `db:"assignee_name" json:"assignee_name,omitempty"`
}

// StudentRequestFilter constrains listing queries.
type StudentRequestFilter struct {
	StudentID  *int64
	AssignedTo *int64
	Status     []RequestStatus
	Category   RequestCategory
	Type       RequestType
	Priority   RequestPriority
	Search     string
	Page       int
	PageSize   int
}

// RequestComment is an immutable message on a request thread.
type RequestComment struct {
	ID         int64     `db:"id" json:"id"`
	RequestID  int64     `db:"request_id" json:"request_id"`
	AuthorID   int64     `db:"author_id" json:"author_id"`
	AuthorName string    `db:"author_name" json:"author_name"`
	Content    string    `db:"content" json:"content"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RequestWorkflow is the derived workflow view of a request.
type RequestWorkflow struct {
	Progress             int             `json:"progress"`
	NextPossibleStatuses []RequestStatus `json:"next_possible_statuses"`
	IsOverdue            bool            `json:"is_overdue"`
	DaysSinceCreated     int             `json:"days_since_created"`
	DaysUntilDue         *int            `json:"days_until_due"`
}

// RequestWorkflowStatus bundles a request with its workflow view.
type RequestWorkflowStatus struct {
	Request  *StudentRequestDetail `json:"request"`
	Workflow RequestWorkflow       `json:"workflow"`
}

// EscalationSummary reports the outcome of an overdue sweep.
type EscalationSummary struct {
	Overdue  int       `json:"overdue"`
	Notified int       `json:"notified"`
	Failed   int       `json:"failed"`
	RanAt    time.Time `json:"ran_at"`
}
