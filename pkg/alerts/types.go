package alerts

import (
	"context"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
)

// Notification is a critical alert addressed to one user.
type Notification struct {
	UserID  string      `json:"user_id"`
	Alert   model.Alert `json:"alert"`
	Message string      `json:"message"`
}

// Notifier sends notifications to external systems.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers a notification. Implementations must be safe for concurrent use.
	Send(ctx context.Context, n Notification) error
}
