// Package notify defines the notification fan-out boundary. Delivery
// transport (email, push) is external; this module only guarantees that a
// notification for a given (recipient, title, order) key is recorded once,
// no matter how many racing payment entry points request it.
package notify

import "context"

// Type classifies a notification.
type Type string

const (
	TypeOrder Type = "ORDER"
)

// Level is the display severity.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelWarning Level = "WARNING"
)

// Notification is one user-visible message tied to an order.
type Notification struct {
	RecipientID string
	Type        Type
	Level       Level
	Title       string
	Message     string
	OrderID     string
	TargetURL   string
}

// Dispatcher records notifications. NotifyOnce is idempotent keyed by
// (recipient, title, order): repeated calls are silently dropped.
type Dispatcher interface {
	NotifyOnce(ctx context.Context, n Notification) error
}
