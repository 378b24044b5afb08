package realtime

import (
	"time"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
)

// Message types exchanged over /ws/budget-alerts.
const (
	TypeConnected    = "connected"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeCheckAlerts  = "check_alerts"
	TypeBudgetAlerts = "budget_alerts"
	TypeError        = "error"
)

// InboundMessage is a client request.
type InboundMessage struct {
	Type string `json:"type"`
}

// ConnectedMessage greets a newly opened session.
type ConnectedMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PongMessage answers a ping.
type PongMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertsMessage carries one evaluation result.
type AlertsMessage struct {
	Type      string        `json:"type"`
	Alerts    []model.Alert `json:"alerts"`
	Count     int           `json:"count"`
	Timestamp time.Time     `json:"timestamp"`
}

// ErrorMessage reports a failure without closing the session.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
