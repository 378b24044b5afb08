package model

import "time"

// AlertType classifies a budget alert.
type AlertType string

const (
	AlertOverspend     AlertType = "overspend"
	AlertUnderspend    AlertType = "underspend"
	AlertForecastDrift AlertType = "forecast_drift"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a transient threshold breach. Budget alerts fill the variance
// fields, forecast_drift alerts fill the forecast fields.
type Alert struct {
	Type       AlertType `json:"type"`
	Department string    `json:"department"`
	Category   string    `json:"category"`

	Variance  string   `json:"variance,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Actual    *float64 `json:"actual,omitempty"`
	Planned   *float64 `json:"planned,omitempty"`
	RuleName  string   `json:"rule_name,omitempty"`

	Drift           string   `json:"drift,omitempty"`
	PredictedAmount *float64 `json:"predicted_amount,omitempty"`
	ForecastDate    string   `json:"forecast_date,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
	Recommendation  string   `json:"recommendation,omitempty"`

	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// IsCritical reports whether the alert should be persisted as an insight.
func (a Alert) IsCritical() bool {
	return a.Severity == SeverityCritical
}
