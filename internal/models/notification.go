package models

import "time"

// NotificationType classifies notifications for presentation.
type NotificationType string

const (
	NotificationInfo    NotificationType = "INFO"
	NotificationSuccess NotificationType = "SUCCESS"
	NotificationWarning NotificationType = "WARNING"
	NotificationError   NotificationType = "ERROR"
)

// NotificationPriority ranks notifications; HIGH and URGENT are also e-mailed.
type NotificationPriority string

const (
	NotificationLow    NotificationPriority = "LOW"
	NotificationNormal NotificationPriority = "NORMAL"
	NotificationHigh   NotificationPriority = "HIGH"
	NotificationUrgent NotificationPriority = "URGENT"
)

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID          int64                `db:"id" json:"id"`
	RecipientID int64                `db:"recipient_id" json:"recipient_id"`
	Title       string               `db:"title" json:"title"`
	Message     string               `db:"message" json:"message"`
	Type        NotificationType     `db:"type" json:"type"`
	Priority    NotificationPriority `db:"priority" json:"priority"`
	Read        bool                 `db:"read" json:"read"`
	CreatedAt   time.Time            `db:"created_at" json:"created_at"`
}

// NotificationFilter constrains listing queries.
type NotificationFilter struct {
	RecipientID int64
	UnreadOnly  bool
	Page        int
	PageSize    int
}
