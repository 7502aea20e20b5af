package domain

import (
	"context"
	"time"
)

// Level is the severity of a user notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is one user-visible message for the toast channel.
type Notification struct {
	Level     Level     `json:"level"`
	Kind      string    `json:"kind,omitempty"` // error class, see ErrorKind
	Operation string    `json:"operation"`
	Identity  Identity  `json:"identity,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// ReportError surfaces err as exactly one error notification. A nil err or
// nil notifier is a no-op.
func ReportError(ctx context.Context, n Notifier, op string, id Identity, err error) {
	if err == nil || n == nil {
		return
	}
	n.Notify(ctx, Notification{
		Level:     LevelError,
		Kind:      ErrorKind(err),
		Operation: op,
		Identity:  id,
		Message:   err.Error(),
		At:        Now(),
	})
}

// ReportInfo surfaces an informational notification.
func ReportInfo(ctx context.Context, n Notifier, op string, id Identity, msg string) {
	if n == nil {
		return
	}
	n.Notify(ctx, Notification{
		Level:     LevelInfo,
		Operation: op,
		Identity:  id,
		Message:   msg,
		At:        Now(),
	})
}
