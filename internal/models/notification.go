package models

import "time"

// Типы уведомлений
const (
	NotificationTypeOrderPlaced    = "order_placed"
	NotificationTypeOrderFailed    = "order_failed"
	NotificationTypePositionOpened = "position_opened"
	NotificationTypePositionClosed = "position_closed"
	NotificationTypeExitFailed     = "exit_failed"
	NotificationTypeCapital        = "capital"
	NotificationTypeSweep          = "sweep"
)

// Уровни важности
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Notification - уведомление для операторского UI (WebSocket hub)
type Notification struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`

	UserID     string `json:"user_id,omitempty"`
	PositionID string `json:"position_id,omitempty"`

	Message string                 `json:"message"`
	Meta    map[string]interface{} `json:"meta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewNotification создаёт уведомление с текущим временем
func NewNotification(notifType, severity, userID, message string) *Notification {
	return &Notification{
		Type:      notifType,
		Severity:  severity,
		UserID:    userID,
		Message:   message,
		CreatedAt: time.Now(),
	}
}
