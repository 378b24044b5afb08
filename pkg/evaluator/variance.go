package evaluator

import (
	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/shopspring/decimal"
)

var (
	hundred    = decimal.NewFromInt(100)
	highFactor = decimal.RequireFromString("1.5")
	critFactor = decimal.NewFromInt(2)

	driftAlertAt    = decimal.NewFromInt(10)
	driftCriticalAt = decimal.NewFromInt(20)
)

// Variance returns (actual - planned) / planned * 100, or zero when planned is zero.
func Variance(actual, planned decimal.Decimal) decimal.Decimal {
	if planned.IsZero() {
		return decimal.Zero
	}
	return actual.Sub(planned).Div(planned).Mul(hundred)
}

// ClassifyVariance reports whether |variance| breaches threshold and, if so,
// how severe the breach is.
func ClassifyVariance(variance, threshold decimal.Decimal) (model.Severity, bool) {
	abs := variance.Abs()
	if !abs.GreaterThan(threshold) {
		return "", false
	}
	switch {
	case abs.GreaterThan(threshold.Mul(critFactor)):
		return model.SeverityCritical, true
	case abs.GreaterThan(threshold.Mul(highFactor)):
		return model.SeverityHigh, true
	default:
		return model.SeverityMedium, true
	}
}

// ClassifyDrift applies the fixed forecast-drift bands: above 10% alerts,
// above 20% is critical.
func ClassifyDrift(drift decimal.Decimal) (model.Severity, bool) {
	abs := drift.Abs()
	if !abs.GreaterThan(driftAlertAt) {
		return "", false
	}
	if abs.GreaterThan(driftCriticalAt) {
		return model.SeverityCritical, true
	}
	return model.SeverityMedium, true
}

func alertType(variance decimal.Decimal) model.AlertType {
	if variance.IsPositive() {
		return model.AlertOverspend
	}
	return model.AlertUnderspend
}

func floatPtr(d decimal.Decimal) *float64 {
	f := d.InexactFloat64()
	return &f
}
