package model_test

import (
	"testing"
	"time"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/stretchr/testify/assert"
)

var wednesday = time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)

func TestStartOfDay(t *testing.T) {
	got := model.StartOfDay(wednesday)
	assert.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), got)
}

func TestPeriodBounds_Daily(t *testing.T) {
	start, end := model.PeriodBounds(model.PeriodDaily, wednesday)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
	assert.Equal(t, 0, start.Hour())
	assert.Equal(t, 14, start.Day())
}

func TestPeriodBounds_Weekly(t *testing.T) {
	start, end := model.PeriodBounds(model.PeriodWeekly, wednesday)
	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, 12, start.Day())
	assert.Equal(t, 7*24*time.Hour, end.Sub(start))
}

func TestPeriodBounds_WeeklyOnSunday(t *testing.T) {
	sunday := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	start, _ := model.PeriodBounds(model.PeriodWeekly, sunday)
	assert.Equal(t, 12, start.Day())
}

func TestPeriodBounds_Monthly(t *testing.T) {
	start, end := model.PeriodBounds(model.PeriodMonthly, wednesday)
	assert.Equal(t, 1, start.Day())
	assert.Equal(t, time.November, end.Month())
}

func TestPeriodBounds_Default(t *testing.T) {
	start, end := model.PeriodBounds("unknown", wednesday)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestAlert_IsCritical(t *testing.T) {
	assert.True(t, model.Alert{Severity: model.SeverityCritical}.IsCritical())
	assert.False(t, model.Alert{Severity: model.SeverityHigh}.IsCritical())
}
